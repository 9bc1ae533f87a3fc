package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config configures logging, tracing, metrics and events for one imp
// process.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`

	// Environment is reported as deployment.environment (lab, production).
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig

	// ResourceAttributes are added to the trace resource.
	ResourceAttributes map[string]string
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`

	// Output is stderr, stdout or a file path.
	Output string

	EnableCaller bool

	// With sampling, SamplingInitial lines per second are logged, then
	// every SamplingThereafter-th line.
	EnableSampling     bool
	SamplingInitial    int `validate:"required_if=EnableSampling true,gte=0"`
	SamplingThereafter int `validate:"required_if=EnableSampling true,gte=0"`

	// TimeFormat is rfc3339, unix, unixms or unixmicro.
	TimeFormat string `validate:"omitempty,oneof=rfc3339 unix unixms unixmicro"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp (gRPC), stdout or none.
	Exporter string  `validate:"required_if=Enabled true,omitempty,oneof=otlp stdout none"`
	Endpoint string  `validate:"required_if=Exporter otlp"`
	Insecure bool
	Headers  map[string]string

	SamplingRate       float64       `validate:"gte=0,lte=1"`
	MaxExportBatchSize int           `validate:"gte=0"`
	ExportTimeout      time.Duration `validate:"gte=0"`
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress and Path are used by ServeMetrics. imp serve mounts the
	// handler on its own router instead.
	ListenAddress string
	Path          string `validate:"omitempty,startswith=/"`

	Namespace string `validate:"required_if=Enabled true"`

	// DefaultHistogramBuckets are latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the event publisher.
type EventsConfig struct {
	Enabled     bool
	EnableAsync bool

	BufferSize    int `validate:"required_if=Enabled true,gte=0"`
	MaxBatchSize  int `validate:"required_if=EnableAsync true,gte=0"`
	FlushInterval time.Duration
}

// DefaultConfig returns the configuration for interactive commands: console
// logs on stderr, metrics and events on, tracing off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "imp",
		ServiceVersion: "dev",
		Environment:    "lab",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9469",
			Path:          "/metrics",
			Namespace:     "imp",
			// vppctl commands finish in milliseconds, vtysh scripts in seconds.
			DefaultHistogramBuckets: []float64{
				0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			EnableAsync:   true,
			BufferSize:    256,
			MaxBatchSize:  32,
			FlushInterval: time.Second,
		},
		ResourceAttributes: map[string]string{},
	}
}

// ProductionConfig returns the configuration for long-running processes on
// an appliance: sampled JSON logs with millisecond timestamps.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unixms"
	return cfg
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s: failed %s=%s (value %v)", name, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			problems = append(problems, fmt.Sprintf("%s: failed %s", name, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid telemetry config: %s", strings.Join(problems, "; "))
}
