package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for apply cycles.
type Metrics struct {
	config MetricsConfig

	// Cycle metrics
	cyclesStarted  *prometheus.CounterVec
	cyclesFinished *prometheus.CounterVec
	cycleDuration  *prometheus.HistogramVec

	// Operation metrics
	operationsExecuted *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	operationsPlanned  *prometheus.CounterVec

	// Command metrics
	commandsSent    *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Policy metrics
	policyFindings *prometheus.CounterVec

	// System metrics
	activeCycles   prometheus.Gauge
	restartPending prometheus.Gauge
	lastSuccess    prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		cyclesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_started_total",
				Help:      "Total number of apply cycles started",
			},
			[]string{"dry_run"},
		),
		cyclesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Total number of apply cycles finished, by final state",
			},
			[]string{"state", "dry_run"},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of apply cycles in seconds",
				Buckets:   buckets,
			},
			[]string{"state"},
		),

		operationsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_executed_total",
				Help:      "Total number of live operations executed",
			},
			[]string{"entity", "action", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of live operations in seconds",
				Buckets:   buckets,
			},
			[]string{"entity"},
		),
		operationsPlanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_planned_total",
				Help:      "Total number of planned operations, by apply mode",
			},
			[]string{"mode"},
		),

		commandsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of commands sent to a channel target",
			},
			[]string{"target", "status"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of channel commands in seconds",
				Buckets:   buckets,
			},
			[]string{"target"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of cycle errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of cycle errors by error code",
			},
			[]string{"code"},
		),

		policyFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_findings_total",
				Help:      "Total number of policy findings",
			},
			[]string{"policy", "severity"},
		),

		activeCycles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_cycles",
				Help:      "Current number of running apply cycles",
			},
		),
		restartPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "restart_pending_operations",
				Help:      "Operations of the applied configuration that wait for a restart",
			},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful apply cycle",
			},
		),
	}

	registry.MustRegister(
		m.cyclesStarted,
		m.cyclesFinished,
		m.cycleDuration,
		m.operationsExecuted,
		m.operationDuration,
		m.operationsPlanned,
		m.commandsSent,
		m.commandDuration,
		m.errorsByClass,
		m.errorsByCode,
		m.policyFindings,
		m.activeCycles,
		m.restartPending,
		m.lastSuccess,
	)

	return m, nil
}

// Cycle Metrics

// RecordCycleStarted increments the counter for started cycles.
func (m *Metrics) RecordCycleStarted(dryRun bool) {
	if m.cyclesStarted == nil {
		return
	}
	m.cyclesStarted.WithLabelValues(strconv.FormatBool(dryRun)).Inc()
	m.activeCycles.Inc()
}

// RecordCycleFinished records a finished cycle with its state and duration.
func (m *Metrics) RecordCycleFinished(state string, dryRun bool, duration time.Duration) {
	if m.cyclesFinished == nil {
		return
	}
	m.cyclesFinished.WithLabelValues(state, strconv.FormatBool(dryRun)).Inc()
	m.cycleDuration.WithLabelValues(state).Observe(duration.Seconds())
	m.activeCycles.Dec()
}

// RecordAppliedSnapshot updates the gauges describing the applied snapshot.
func (m *Metrics) RecordAppliedSnapshot(pendingRestart int, at time.Time) {
	if m.restartPending == nil {
		return
	}
	m.restartPending.Set(float64(pendingRestart))
	m.lastSuccess.Set(float64(at.Unix()))
}

// Operation Metrics

// RecordOperationPlanned counts a classified operation.
func (m *Metrics) RecordOperationPlanned(mode string) {
	if m.operationsPlanned == nil {
		return
	}
	m.operationsPlanned.WithLabelValues(mode).Inc()
}

// RecordOperation records an executed live operation.
func (m *Metrics) RecordOperation(entity, action, status string, duration time.Duration) {
	if m.operationsExecuted == nil {
		return
	}
	m.operationsExecuted.WithLabelValues(entity, action, status).Inc()
	m.operationDuration.WithLabelValues(entity).Observe(duration.Seconds())
}

// RecordCommand records one command sent to a channel target.
func (m *Metrics) RecordCommand(target string, ok bool, duration time.Duration) {
	if m.commandsSent == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.commandsSent.WithLabelValues(target, status).Inc()
	m.commandDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// RecordPolicyFinding records one guardrail finding.
func (m *Metrics) RecordPolicyFinding(policy, severity string) {
	if m.policyFindings == nil {
		return
	}
	m.policyFindings.WithLabelValues(policy, severity).Inc()
}

// Registry returns the registry metrics are registered in, nil when metrics
// are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ServeMetrics serves the metrics endpoint on addr, or the configured listen
// address when addr is empty, until ctx is cancelled.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	if !m.config.Enabled {
		return nil
	}
	if addr == "" {
		addr = m.config.ListenAddress
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
