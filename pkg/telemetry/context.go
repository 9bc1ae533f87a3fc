package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry combines logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment, cfg.ResourceAttributes)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown delivers pending events and exports pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// Task instruments one piece of work that runs outside an apply cycle,
// such as validating a file or computing an allocation.
type Task struct {
	Name   string
	Logger *Logger

	span    trace.Span
	timer   *Timer
	metrics *Metrics
}

// StartTask starts a task span under the telemetry stored in ctx. Without
// telemetry the task only logs.
func StartTask(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Task) {
	task := &Task{Name: name, timer: NewTimer()}

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		task.Logger = FromContext(ctx).WithField("task", name)
		return ctx, task
	}

	ctx, task.span = tel.Tracer.StartSpan(ctx, "task."+name, attrs...)
	task.metrics = tel.Metrics
	task.Logger = tel.Logger.WithField("task", name)
	if id := TraceID(ctx); id != "" {
		task.Logger = task.Logger.WithField("trace_id", id)
	}
	return task.Logger.WithContext(ctx), task
}

// End closes the task. A failed task is counted under the "task" error class.
func (t *Task) End(err error) {
	logger := t.Logger.Zerolog()
	event := logger.Debug()
	if err != nil {
		event = logger.Warn().Err(err)
		if t.metrics != nil {
			t.metrics.RecordError("task", t.Name)
		}
	}
	event.Dur("duration", t.timer.Duration()).Msg("Task finished")

	if t.span == nil {
		return
	}
	if err != nil {
		RecordError(t.span, err)
	} else {
		RecordSuccess(t.span)
	}
	t.span.End()
}
