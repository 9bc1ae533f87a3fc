package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/justindthomas/imp/pkg/engine"
)

// CycleObserver turns orchestrator notifications into spans, metrics,
// events and log lines. It implements engine.CycleObserver.
type CycleObserver struct {
	tel    *Telemetry
	logger *Logger
}

var _ engine.CycleObserver = (*CycleObserver)(nil)

// NewCycleObserver creates an observer reporting through tel.
func NewCycleObserver(tel *Telemetry) *CycleObserver {
	return &CycleObserver{
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("orchestrator"),
	}
}

// CycleStarted opens the cycle span.
func (o *CycleObserver) CycleStarted(ctx context.Context, cycle *engine.Cycle) context.Context {
	ctx, _ = o.tel.Tracer.StartCycleSpan(ctx, cycle.ID, cycle.DryRun)
	o.tel.Metrics.RecordCycleStarted(cycle.DryRun)
	o.published(EventTypeCycleStarted, o.tel.Events.PublishCycleStarted(cycle.ID, cycle.DryRun))
	return o.logger.WithCycleID(cycle.ID).WithContext(ctx)
}

// StateChanged marks the transition on the cycle span.
func (o *CycleObserver) StateChanged(ctx context.Context, cycle *engine.Cycle, from, to engine.CycleState) {
	span := trace.SpanFromContext(ctx)
	AddEvent(span, "state_changed", AttrCycleState.String(string(to)))
	o.published(EventTypeCycleStateChanged, o.tel.Events.PublishCycleStateChanged(cycle.ID, string(from), string(to)))
}

// OperationStarted opens a child span for one live step.
func (o *CycleObserver) OperationStarted(ctx context.Context, cycle *engine.Cycle, step engine.PlannedStep) context.Context {
	ctx, _ = o.tel.Tracer.StartStepSpan(ctx, step)
	o.published(EventTypeOperationStarted, o.tel.Events.PublishOperationStarted(cycle.ID, step.Operation.ID(), step.Step))
	return ctx
}

// OperationFinished closes the step span and records its commands.
func (o *CycleObserver) OperationFinished(ctx context.Context, cycle *engine.Cycle, step engine.PlannedStep, outcome engine.Outcome) {
	op := step.Operation
	span := trace.SpanFromContext(ctx)
	defer span.End()

	for _, cmd := range outcome.Commands {
		o.tel.Metrics.RecordCommand(cmd.Target, cmd.OK, cmd.Duration)
		AddEvent(span, "command", AttrTarget.String(cmd.Target))
	}

	status := "succeeded"
	if !outcome.Success {
		status = "failed"
	}
	o.tel.Metrics.RecordOperation(string(op.Entity), string(op.Action.Kind()), status, outcome.Duration)

	logger := o.logger.WithStep(cycle.ID, step).Zerolog()
	if outcome.Success {
		RecordSuccess(span)
		o.published(EventTypeOperationCompleted, o.tel.Events.PublishOperationCompleted(cycle.ID, op.ID(), len(outcome.Commands), outcome.Duration))
		logger.Debug().Dur("duration", outcome.Duration).Msg("Step applied")
		return
	}

	err := outcome.Err
	if err == nil {
		err = errors.New(outcome.Error)
	}
	RecordError(span, err)
	o.published(EventTypeOperationFailed, o.tel.Events.PublishOperationFailed(cycle.ID, op.ID(), outcome.Error))
	logger.Error().Err(err).Int("commands", len(outcome.Commands)).Msg("Step failed")
}

// CycleFinished closes the cycle span and records the result.
func (o *CycleObserver) CycleFinished(ctx context.Context, cycle *engine.Cycle, result *engine.CycleResult) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	span.SetAttributes(AttrCycleState.String(string(result.State)))
	o.tel.Metrics.RecordCycleFinished(string(result.State), result.DryRun, result.Duration)

	for _, s := range result.Steps {
		o.tel.Metrics.RecordOperationPlanned(string(s.Classification.Mode))
	}
	for _, w := range result.Warnings {
		o.tel.Metrics.RecordPolicyFinding(w.Policy, string(w.Severity))
		o.published(EventTypePolicyViolation, o.tel.Events.PublishPolicyViolation(cycle.ID, w.Operation, w.Policy, string(w.Severity), w.Message))
	}

	var ee *engine.EngineError
	if errors.As(result.Err, &ee) {
		o.tel.Metrics.RecordError(string(ee.Class), ee.Code)
		if ee.Code == engine.ErrCodePolicyDenied {
			if denials, ok := ee.Details["denials"].([]engine.PolicyFinding); ok {
				for _, d := range denials {
					o.tel.Metrics.RecordPolicyFinding(d.Policy, string(d.Severity))
					o.published(EventTypePolicyViolation, o.tel.Events.PublishPolicyViolation(cycle.ID, d.Operation, d.Policy, string(d.Severity), d.Message))
				}
			}
		}
	}

	if result.Err != nil {
		RecordError(span, result.Err)
		o.published(EventTypeCycleFailed, o.tel.Events.PublishCycleFailed(cycle.ID, string(result.State), result.Error))
		return
	}
	RecordSuccess(span)

	if result.DryRun {
		return
	}
	o.published(EventTypeCycleSucceeded, o.tel.Events.PublishCycleSucceeded(cycle.ID, len(result.Outcomes), result.Duration))
	if result.Persisted {
		o.tel.Metrics.RecordAppliedSnapshot(len(result.Pending), time.Now())
	}
	if result.RestartRequired() {
		ids := make([]string, 0, len(result.Pending))
		for _, s := range result.Pending {
			ids = append(ids, s.Operation.ID())
		}
		o.published(EventTypeRestartRequired, o.tel.Events.PublishRestartRequired(cycle.ID, ids))
	}
}

// published logs an event the publisher refused. Events are best effort and
// never fail a cycle.
func (o *CycleObserver) published(kind string, err error) {
	if err == nil {
		return
	}
	logger := o.logger.Zerolog()
	logger.Debug().Err(err).Str("event", kind).Msg("Event not published")
}
