package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/justindthomas/imp/pkg/engine"
)

// Attribute keys used on cycle, step and task spans.
var (
	AttrCycleID     = attribute.Key("cycle.id")
	AttrCycleState  = attribute.Key("cycle.state")
	AttrDryRun      = attribute.Key("cycle.dry_run")
	AttrStep        = attribute.Key("operation.step")
	AttrOperationID = attribute.Key("operation.id")
	AttrEntity      = attribute.Key("operation.entity")
	AttrAction      = attribute.Key("operation.action")
	AttrMode        = attribute.Key("operation.mode")
	AttrTarget      = attribute.Key("command.target")
	AttrErrorClass  = attribute.Key("error.class")
	AttrErrorCode   = attribute.Key("error.code")
)

// Tracer starts the spans of apply cycles.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer creates a tracer. When tracing is disabled spans are still
// created, so callers need no nil checks, but none are sampled.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string, extra map[string]string) (*Tracer, error) {
	if !cfg.Enabled {
		return NewTracerWithProvider(sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample())), serviceName), nil
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(serviceVersion),
		semconv.DeploymentEnvironmentKey.String(environment),
	}
	for k, v := range extra {
		attrs = append(attrs, attribute.String(k, v))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	exporter, err := newExporter(cfg, serviceVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return NewTracerWithProvider(provider, serviceName), nil
}

// NewTracerWithProvider wraps an existing provider, typically one with an
// in-memory exporter.
func NewTracerWithProvider(provider *sdktrace.TracerProvider, name string) *Tracer {
	return &Tracer{provider: provider, tracer: provider.Tracer(name)}
}

// newExporter returns nil for the "none" exporter: spans are sampled but
// dropped.
func newExporter(cfg TracingConfig, version string) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "none":
		return nil, nil
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent("imp/" + version)),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	}
	return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
}

// StartSpan starts a span with attributes.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartCycleSpan starts the root span of an apply cycle.
func (t *Tracer) StartCycleSpan(ctx context.Context, cycleID string, dryRun bool) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "cycle.apply",
		AttrCycleID.String(cycleID),
		AttrDryRun.Bool(dryRun),
	)
}

// StartStepSpan starts the span of one executed step.
func (t *Tracer) StartStepSpan(ctx context.Context, step engine.PlannedStep) (context.Context, trace.Span) {
	op := step.Operation
	return t.StartSpan(ctx, "operation.execute",
		AttrStep.Int(step.Step),
		AttrOperationID.String(op.ID()),
		AttrEntity.String(string(op.Entity)),
		AttrAction.String(string(op.Action.Kind())),
		AttrMode.String(string(step.Classification.Mode)),
	)
}

// RecordError marks the span failed. Engine errors also set the error
// class and code attributes.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		span.SetAttributes(AttrErrorClass.String(string(ee.Class)))
		if ee.Code != "" {
			span.SetAttributes(AttrErrorCode.String(ee.Code))
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Shutdown exports pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// TraceID returns the trace ID of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
