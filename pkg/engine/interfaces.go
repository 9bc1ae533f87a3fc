package engine

import (
	"context"

	"github.com/justindthomas/imp/pkg/config"
)

// Executor runs the commands of one live operation.
// Implementations stop at the first failed command and never retry.
type Executor interface {
	// Execute renders op to commands and runs them in order. The returned
	// outcome carries every command result up to and including a failure,
	// and Err is an execution or timeout error when Success is false.
	Execute(ctx context.Context, op Operation) Outcome
}

// SnapshotStore persists the applied configuration.
type SnapshotStore interface {
	// Save makes cfg the applied snapshot.
	Save(ctx context.Context, cfg *config.RouterConfig) error
}

// HistoryRecorder keeps a record of finished cycles.
type HistoryRecorder interface {
	// RecordCycle stores a cycle result. applied is the snapshot that became
	// active, nil when nothing was persisted.
	RecordCycle(ctx context.Context, result *CycleResult, applied *config.RouterConfig) error
}

// PolicyChecker evaluates guardrails over a classified plan before anything
// is executed.
type PolicyChecker interface {
	// Check returns every finding. Error-severity findings block the cycle.
	Check(ctx context.Context, steps []PlannedStep) ([]PolicyFinding, error)
}

// CycleObserver receives lifecycle notifications for metrics, tracing and
// events. Implementations must not block.
type CycleObserver interface {
	CycleStarted(ctx context.Context, cycle *Cycle) context.Context
	StateChanged(ctx context.Context, cycle *Cycle, from, to CycleState)
	OperationStarted(ctx context.Context, cycle *Cycle, step PlannedStep) context.Context
	OperationFinished(ctx context.Context, cycle *Cycle, step PlannedStep, outcome Outcome)
	CycleFinished(ctx context.Context, cycle *Cycle, result *CycleResult)
}
