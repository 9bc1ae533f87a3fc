package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/engine"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default", func(*Config) {}, ""},
		{"production", func(c *Config) { *c = *ProductionConfig() }, ""},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, "ServiceName"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "Logging.Level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "Logging.Format"},
		{"bad exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, "Tracing.Exporter"},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, "Tracing.Endpoint"},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, "Tracing.SamplingRate"},
		{"zero buffer", func(c *Config) { c.Events.BufferSize = 0 }, "Events.BufferSize"},
		{"disabled events need no buffer", func(c *Config) {
			c.Events.Enabled = false
			c.Events.EnableAsync = false
			c.Events.BufferSize = 0
			c.Events.MaxBatchSize = 0
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LoggingConfig{Level: "debug", Format: "json"})

	logger.NewComponentLogger("executor").
		WithStep("c-1", routeStep(3, "0.0.0.0/0")).
		WithField("target", "core").
		Info("Command sent")

	out := buf.String()
	for _, want := range []string{`"component":"executor"`, `"cycle_id":"c-1"`, `"operation_id":"add:route:0.0.0.0/0"`, `"step":3`, `"mode":"live"`, `"target":"core"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in log line, got: %s", want, out)
		}
	}

	buf.Reset()
	quiet := NewLoggerWithWriter(&buf, LoggingConfig{Level: "warn", Format: "json"})
	quiet.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered at warn level, got: %s", buf.String())
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	m.RecordCycleStarted(false)
	m.RecordCycleFinished("succeeded", false, time.Second)
	m.RecordOperation("route", "add", "succeeded", time.Second)
	m.RecordCommand("core", true, time.Millisecond)
	m.RecordError("execution", "COMMAND_FAILED")
	if m.Registry() != nil {
		t.Error("Expected no registry when metrics are disabled")
	}
}

func TestEventPublisherAsyncOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    16,
		MaxBatchSize:  4,
		FlushInterval: 10 * time.Millisecond,
		EnableAsync:   true,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var mu sync.Mutex
	var got []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.OperationID)
	}, FilterByCycleID("c-1"))

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if err := ep.PublishOperationStarted("c-1", id, 1); err != nil {
			t.Fatalf("Expected publish to succeed, got: %v", err)
		}
	}
	_ = ep.PublishOperationStarted("other", "x", 1)

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Expected clean shutdown, got: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, "") != "abcde" {
		t.Errorf("Expected events in publish order, got: %v", got)
	}

	if err := ep.PublishCycleStarted("c-2", false); !errors.Is(err, ErrPublisherStopped) {
		t.Errorf("Expected publish after shutdown to fail, got: %v", err)
	}
}

func newTestTelemetry(t *testing.T) (*Telemetry, *tracetest.InMemoryExporter, *[]Event) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	metrics, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "imp"})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	events, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("failed to create events: %v", err)
	}

	var received []Event
	events.Subscribe(func(e Event) { received = append(received, e) }, nil)

	var buf bytes.Buffer
	tel := &Telemetry{
		Logger:  NewLoggerWithWriter(&buf, LoggingConfig{Level: "debug", Format: "json"}),
		Tracer:  NewTracerWithProvider(provider, "imp-test"),
		Metrics: metrics,
		Events:  events,
		Config:  DefaultConfig(),
	}
	return tel, exporter, &received
}

func routeStep(step int, dest string) engine.PlannedStep {
	return engine.PlannedStep{
		Step: step,
		Operation: engine.Operation{
			Entity: engine.EntityRoute,
			Key:    dest,
			Action: engine.Add{New: config.Route{Destination: dest, Via: "192.0.2.1"}},
		},
		Classification: engine.Classification{Mode: engine.ModeLive},
	}
}

func TestCycleObserverSuccess(t *testing.T) {
	tel, exporter, events := newTestTelemetry(t)
	obs := NewCycleObserver(tel)

	cycle := &engine.Cycle{ID: "c-1"}
	step := routeStep(1, "0.0.0.0/0")
	pending := engine.PlannedStep{
		Step: 2,
		Operation: engine.Operation{
			Entity: engine.EntityInterface,
			Key:    "wan",
			Action: engine.Add{New: config.Interface{Name: "wan"}},
		},
		Classification: engine.Classification{Mode: engine.ModeRestart},
	}

	ctx := obs.CycleStarted(context.Background(), cycle)
	obs.StateChanged(ctx, cycle, engine.CycleStateIdle, engine.CycleStateExecuting)

	opCtx := obs.OperationStarted(ctx, cycle, step)
	outcome := engine.Outcome{
		Step:     1,
		Success:  true,
		Duration: 5 * time.Millisecond,
		Commands: []engine.CommandResult{{Target: "core", Command: "ip route add 0.0.0.0/0 via 192.0.2.1", OK: true}},
	}
	obs.OperationFinished(opCtx, cycle, step, outcome)

	result := &engine.CycleResult{
		ID:        "c-1",
		State:     engine.CycleStateSucceeded,
		Steps:     []engine.PlannedStep{step, pending},
		Pending:   []engine.PlannedStep{pending},
		Outcomes:  []engine.Outcome{outcome},
		Persisted: true,
		Duration:  10 * time.Millisecond,
	}
	obs.CycleFinished(ctx, cycle, result)

	m := tel.Metrics
	if got := testutil.ToFloat64(m.cyclesFinished.WithLabelValues("succeeded", "false")); got != 1 {
		t.Errorf("Expected 1 succeeded cycle, got: %v", got)
	}
	if got := testutil.ToFloat64(m.operationsExecuted.WithLabelValues("route", "add", "succeeded")); got != 1 {
		t.Errorf("Expected 1 executed operation, got: %v", got)
	}
	if got := testutil.ToFloat64(m.commandsSent.WithLabelValues("core", "ok")); got != 1 {
		t.Errorf("Expected 1 command, got: %v", got)
	}
	if got := testutil.ToFloat64(m.operationsPlanned.WithLabelValues("restart_required")); got != 1 {
		t.Errorf("Expected 1 restart-required operation, got: %v", got)
	}
	if got := testutil.ToFloat64(m.restartPending); got != 1 {
		t.Errorf("Expected restart pending gauge 1, got: %v", got)
	}
	if got := testutil.ToFloat64(m.activeCycles); got != 0 {
		t.Errorf("Expected no active cycles, got: %v", got)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got: %d", len(spans))
	}
	if spans[0].Name != "operation.execute" || spans[1].Name != "cycle.apply" {
		t.Errorf("Unexpected span names: %s, %s", spans[0].Name, spans[1].Name)
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("Expected operation span to be a child of the cycle span")
	}

	var types []string
	for _, e := range *events {
		types = append(types, e.Type)
	}
	want := []string{
		EventTypeCycleStarted,
		EventTypeCycleStateChanged,
		EventTypeOperationStarted,
		EventTypeOperationCompleted,
		EventTypeCycleSucceeded,
		EventTypeRestartRequired,
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("Expected events %v, got: %v", want, types)
	}
}

func TestCycleObserverFailure(t *testing.T) {
	tel, exporter, events := newTestTelemetry(t)
	obs := NewCycleObserver(tel)

	cycle := &engine.Cycle{ID: "c-2"}
	step := routeStep(1, "10.0.0.0/8")

	ctx := obs.CycleStarted(context.Background(), cycle)
	opCtx := obs.OperationStarted(ctx, cycle, step)
	cause := engine.NewExecutionError("command rejected", errors.New("unknown input"))
	outcome := engine.Outcome{
		Step:     1,
		Success:  false,
		Error:    cause.Error(),
		Err:      cause,
		Commands: []engine.CommandResult{{Target: "core", OK: false}},
	}
	obs.OperationFinished(opCtx, cycle, step, outcome)

	denial := engine.PolicyFinding{Policy: "no_default_route_removal", Severity: engine.PolicySeverityError}
	result := &engine.CycleResult{
		ID:       "c-2",
		State:    engine.CycleStatePartiallyFailed,
		Steps:    []engine.PlannedStep{step},
		Outcomes: []engine.Outcome{outcome},
		Error:    cause.Error(),
		Err:      cause.WithDetail("denials", []engine.PolicyFinding{denial}),
	}
	obs.CycleFinished(ctx, cycle, result)

	m := tel.Metrics
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("execution")); got != 1 {
		t.Errorf("Expected 1 execution error, got: %v", got)
	}
	if got := testutil.ToFloat64(m.errorsByCode.WithLabelValues(engine.ErrCodeCommandFailed)); got != 1 {
		t.Errorf("Expected 1 COMMAND_FAILED error, got: %v", got)
	}
	if got := testutil.ToFloat64(m.commandsSent.WithLabelValues("core", "failed")); got != 1 {
		t.Errorf("Expected 1 failed command, got: %v", got)
	}
	// Only policy denials are reported as findings.
	if got := testutil.CollectAndCount(m.policyFindings); got != 0 {
		t.Errorf("Expected no policy findings, got: %d", got)
	}

	last := (*events)[len(*events)-1]
	if last.Type != EventTypeCycleFailed || last.Level != EventLevelError {
		t.Errorf("Expected cycle.failed error event, got: %s/%s", last.Type, last.Level)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got: %d", len(spans))
	}
	for _, s := range spans {
		if s.Status.Code.String() != "Error" {
			t.Errorf("Expected span %s to have error status, got: %v", s.Name, s.Status.Code)
		}
		var class string
		for _, kv := range s.Attributes {
			if kv.Key == AttrErrorClass {
				class = kv.Value.AsString()
			}
		}
		if class != "execution" {
			t.Errorf("Expected span %s to carry error.class execution, got: %q", s.Name, class)
		}
	}
}

func TestCycleObserverReportsRefusedEvents(t *testing.T) {
	tel, _, events := newTestTelemetry(t)
	var buf bytes.Buffer
	tel.Logger = NewLoggerWithWriter(&buf, LoggingConfig{Level: "debug", Format: "json"})
	if err := tel.Events.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	obs := NewCycleObserver(tel)

	cycle := &engine.Cycle{ID: "c-9"}
	ctx := obs.CycleStarted(context.Background(), cycle)
	obs.StateChanged(ctx, cycle, engine.CycleStateIdle, engine.CycleStateDiffing)

	if len(*events) != 0 {
		t.Errorf("Expected no events after shutdown, got: %d", len(*events))
	}
	out := buf.String()
	for _, want := range []string{`"message":"Event not published"`, `"event":"cycle.started"`, `"event":"cycle.state_changed"`, ErrPublisherStopped.Error()} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in log output, got: %s", want, out)
		}
	}
}

func TestTask(t *testing.T) {
	tel, exporter, _ := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	_, ok := StartTask(ctx, "validate")
	ok.End(nil)

	_, failed := StartTask(ctx, "alloc")
	failed.End(errors.New("not enough cores"))

	if got := testutil.ToFloat64(tel.Metrics.errorsByClass.WithLabelValues("task")); got != 1 {
		t.Errorf("Expected 1 task error, got: %v", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.errorsByCode.WithLabelValues("alloc")); got != 1 {
		t.Errorf("Expected 1 alloc error, got: %v", got)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got: %d", len(spans))
	}
	if spans[0].Name != "task.validate" || spans[1].Status.Code.String() != "Error" {
		t.Errorf("Expected task.validate then a failed task.alloc, got: %s, %v", spans[0].Name, spans[1].Status.Code)
	}
}

func TestTask_WithoutTelemetry(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LoggingConfig{Level: "debug", Format: "json"})

	ctx, task := StartTask(logger.WithContext(context.Background()), "validate")
	if ctx == nil || task.Logger == nil {
		t.Fatal("Expected a logger-only task")
	}
	task.End(nil)
	if out := buf.String(); !strings.Contains(out, `"level":"debug"`) || !strings.Contains(out, `"task":"validate"`) {
		t.Errorf("Expected a debug task line, got: %s", out)
	}

	buf.Reset()
	_, failed := StartTask(logger.WithContext(context.Background()), "alloc")
	failed.End(errors.New("not enough cores"))
	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"error":"not enough cores"`, `"message":"Task finished"`, `"duration"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in task line, got: %s", want, out)
		}
	}
}

func TestEventLog(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	log := NewEventLog(ep, 3)

	if got := log.Recent(0, nil); len(got) != 0 {
		t.Fatalf("Expected empty log, got: %d events", len(got))
	}

	_ = ep.PublishCycleStarted("c-1", false)
	_ = ep.PublishCycleFailed("c-1", "partially_failed", "step 2 failed")
	_ = ep.PublishCycleStarted("c-2", true)
	_ = ep.PublishConfigStaged("/persistent/config/router.json.staged")

	got := log.Recent(0, nil)
	if len(got) != 3 {
		t.Fatalf("Expected the log to keep 3 events, got: %d", len(got))
	}
	if got[0].Type != EventTypeConfigStaged || got[2].Type != EventTypeCycleFailed {
		t.Errorf("Expected newest first with the oldest evicted, got: %s ... %s", got[0].Type, got[2].Type)
	}

	if got := log.Recent(1, nil); len(got) != 1 || got[0].Type != EventTypeConfigStaged {
		t.Errorf("Expected limit to keep the newest event, got: %v", got)
	}
	if got := log.Recent(0, FilterByCycleID("c-1")); len(got) != 1 || got[0].Level != EventLevelError {
		t.Errorf("Expected the c-1 failure only, got: %v", got)
	}
	if got := log.Recent(0, FilterByLevel(EventLevelError)); len(got) != 1 {
		t.Errorf("Expected one error event, got: %d", len(got))
	}
}
