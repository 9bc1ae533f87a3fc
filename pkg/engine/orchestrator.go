package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justindthomas/imp/pkg/alloc"
	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/modules"
)

// ApplyOptions control one cycle.
type ApplyOptions struct {
	// DryRun stops the cycle after classification. Nothing is executed or
	// persisted and the apply guard is not taken.
	DryRun bool
}

// Orchestrator runs apply cycles: diff, plan, classify, then execute the
// live operations in order and persist the new snapshot on full success.
//
// At most one non-dry-run cycle runs at a time. Commands run one after the
// other. There is no rollback: when an operation fails the cycle stops,
// the operations before it stay applied, and the result names the failed
// step for the operator to remediate.
type Orchestrator struct {
	executor Executor
	store    SnapshotStore
	history  HistoryRecorder
	policy   PolicyChecker
	observer CycleObserver
	registry *modules.Registry
	topology alloc.Topology
	planner  *Planner
	logger   zerolog.Logger

	// guard serialises mutating cycles.
	guard sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHistory records every mutating cycle.
func WithHistory(h HistoryRecorder) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithPolicy checks guardrails before execution.
func WithPolicy(p PolicyChecker) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithObserver reports cycle progress to metrics, tracing and events.
func WithObserver(obs CycleObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithModules enables module entry diffing and resource allocation.
func WithModules(reg *modules.Registry, topo alloc.Topology) Option {
	return func(o *Orchestrator) {
		o.registry = reg
		o.topology = topo
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// NewOrchestrator creates an orchestrator executing through executor and
// persisting through store.
func NewOrchestrator(executor Executor, store SnapshotStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		executor: executor,
		store:    store,
		observer: noopObserver{},
		planner:  NewPlanner(),
		logger:   log.Logger.With().Str("component", "orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Plan runs a dry-run cycle.
func (o *Orchestrator) Plan(ctx context.Context, prev, next *config.RouterConfig) (*CycleResult, error) {
	return o.Apply(ctx, prev, next, ApplyOptions{DryRun: true})
}

// Apply moves the running system from prev to next. It always returns a
// result; the error is the result's Err when the cycle did not succeed.
// A mutating cycle started while another is running returns
// ErrCycleInProgress without doing anything.
func (o *Orchestrator) Apply(ctx context.Context, prev, next *config.RouterConfig, opts ApplyOptions) (*CycleResult, error) {
	if !opts.DryRun {
		if !o.guard.TryLock() {
			return &CycleResult{
				State: CycleStateFailed,
				Error: ErrCycleInProgress.Error(),
				Err:   ErrCycleInProgress,
			}, ErrCycleInProgress
		}
		defer o.guard.Unlock()
	}

	cycle := newCycle(prev, next, opts.DryRun)
	logger := o.logger.With().Str("cycle_id", cycle.ID).Bool("dry_run", opts.DryRun).Logger()
	ctx = o.observer.CycleStarted(ctx, cycle)

	err := o.run(ctx, cycle, logger)
	if err != nil {
		cycle.fail(err)
		logger.Error().Err(err).Str("state", string(cycle.State)).Msg("Apply cycle failed")
	}
	cycle.finish()

	result := cycle.Result
	if !opts.DryRun && o.history != nil {
		var applied *config.RouterConfig
		if result.Persisted {
			applied = next
		}
		if herr := o.history.RecordCycle(context.WithoutCancel(ctx), result, applied); herr != nil {
			logger.Warn().Err(herr).Msg("Failed to record cycle history")
		}
	}
	o.observer.CycleFinished(ctx, cycle, result)

	if err != nil {
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, cycle *Cycle, logger zerolog.Logger) *EngineError {
	result := cycle.Result

	if cycle.Next == nil {
		return NewValidationError("no configuration to apply", nil)
	}
	if err := config.Validate(cycle.Next); err != nil {
		return classify("new configuration is invalid", err)
	}

	if err := o.advance(ctx, cycle, CycleStateDiffing); err != nil {
		return err
	}
	changes, err := Diff(cycle.Prev, cycle.Next, DiffOptions{Registry: o.registry, Topology: o.topology})
	if err != nil {
		return classify("diff failed", err)
	}
	result.Changes = changes
	logger.Debug().Int("changes", len(changes)).Msg("Computed change set")

	if err := o.advance(ctx, cycle, CycleStatePlanning); err != nil {
		return err
	}
	plan, err := o.planner.Plan(changes)
	if err != nil {
		return classify("planning failed", err)
	}
	result.Plan = plan

	if err := o.advance(ctx, cycle, CycleStateClassifying); err != nil {
		return err
	}
	result.Steps = ClassifyPlan(plan)
	for _, s := range result.Steps {
		if !s.Classification.Live() {
			result.Pending = append(result.Pending, s)
		}
	}

	if o.policy != nil {
		findings, err := o.policy.Check(ctx, result.Steps)
		if err != nil {
			return classify("policy evaluation failed", err)
		}
		var denied []PolicyFinding
		for _, f := range findings {
			if f.Severity == PolicySeverityError {
				denied = append(denied, f)
			} else {
				result.Warnings = append(result.Warnings, f)
			}
		}
		if len(denied) > 0 {
			return NewValidationError(fmt.Sprintf("plan rejected by policy %s: %s", denied[0].Policy, denied[0].Message), nil).
				WithCode(ErrCodePolicyDenied).
				WithDetail("denials", denied)
		}
	}

	if cycle.DryRun {
		o.transition(ctx, cycle, CycleStateIdle)
		logger.Info().
			Int("steps", len(result.Steps)).
			Int("pending_restart", len(result.Pending)).
			Msg("Dry run complete")
		return nil
	}

	if err := o.advance(ctx, cycle, CycleStateExecuting); err != nil {
		return err
	}

	// Once commands start going out the cycle runs to completion or first
	// failure regardless of the caller.
	execCtx := context.WithoutCancel(ctx)
	for _, step := range result.LiveSteps() {
		stepCtx := o.observer.OperationStarted(execCtx, cycle, step)
		outcome := o.executor.Execute(stepCtx, step.Operation)
		outcome.Step = step.Step
		outcome.OperationID = step.Operation.ID()
		if outcome.Description == "" {
			outcome.Description = step.Operation.String()
		}
		result.Outcomes = append(result.Outcomes, outcome)
		o.observer.OperationFinished(stepCtx, cycle, step, outcome)

		if !outcome.Success {
			cause := outcome.Err
			if cause == nil {
				cause = fmt.Errorf("%s", outcome.Error)
			}
			ee := classify(fmt.Sprintf("step %d (%s) failed", step.Step, step.Operation), cause)
			if ee.Class == ErrorClassInternal {
				ee = NewExecutionError(fmt.Sprintf("step %d (%s) failed", step.Step, step.Operation), cause)
			}
			return ee.WithOperation(step.Operation.ID()).WithDetail("executed", len(result.Outcomes)-1)
		}
		logger.Debug().Int("step", step.Step).Str("operation", step.Operation.String()).Msg("Operation applied")
	}

	if o.store != nil {
		if err := o.store.Save(execCtx, cycle.Next); err != nil {
			return NewInternalError("failed to persist applied configuration", err).WithCode(ErrCodePersistFailed)
		}
	}
	result.Persisted = true
	o.transition(ctx, cycle, CycleStateSucceeded)

	logger.Info().
		Int("executed", len(result.Outcomes)).
		Int("pending_restart", len(result.Pending)).
		Msg("Apply cycle succeeded")
	return nil
}

// advance moves the cycle forward unless the caller has given up.
func (o *Orchestrator) advance(ctx context.Context, cycle *Cycle, to CycleState) *EngineError {
	if err := ctx.Err(); err != nil {
		return NewInternalError(fmt.Sprintf("cycle cancelled before %s", to), err).WithCode(ErrCodeCancelled)
	}
	o.transition(ctx, cycle, to)
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, cycle *Cycle, to CycleState) {
	from := cycle.moveTo(to)
	o.observer.StateChanged(ctx, cycle, from, to)
}

type noopObserver struct{}

func (noopObserver) CycleStarted(ctx context.Context, _ *Cycle) context.Context { return ctx }
func (noopObserver) StateChanged(context.Context, *Cycle, CycleState, CycleState) {}
func (noopObserver) OperationStarted(ctx context.Context, _ *Cycle, _ PlannedStep) context.Context {
	return ctx
}
func (noopObserver) OperationFinished(context.Context, *Cycle, PlannedStep, Outcome) {}
func (noopObserver) CycleFinished(context.Context, *Cycle, *CycleResult)             {}
