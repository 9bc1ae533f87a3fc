package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/justindthomas/imp/pkg/config"
)

// Cycle is the working state of one apply cycle. It is created when a cycle
// starts and dropped when the result is returned; nothing outlives it except
// the CycleResult.
type Cycle struct {
	ID     string
	DryRun bool
	State  CycleState

	// Prev is the applied snapshot, nil if nothing has been applied.
	Prev *config.RouterConfig

	// Next is the snapshot being applied.
	Next *config.RouterConfig

	Result *CycleResult

	// Transitions records every state the cycle passed through.
	Transitions []Transition
}

// Transition is one state change of a cycle.
type Transition struct {
	From CycleState `json:"from"`
	To   CycleState `json:"to"`
	At   time.Time  `json:"at"`
}

func newCycle(prev, next *config.RouterConfig, dryRun bool) *Cycle {
	id := uuid.New().String()
	now := time.Now()
	return &Cycle{
		ID:     id,
		DryRun: dryRun,
		State:  CycleStateIdle,
		Prev:   prev,
		Next:   next,
		Result: &CycleResult{
			ID:        id,
			State:     CycleStateIdle,
			DryRun:    dryRun,
			StartedAt: now,
			Outcomes:  make([]Outcome, 0),
		},
	}
}

// moveTo records a transition and returns the previous state.
func (c *Cycle) moveTo(to CycleState) CycleState {
	from := c.State
	c.State = to
	c.Result.State = to
	c.Transitions = append(c.Transitions, Transition{From: from, To: to, At: time.Now()})
	return from
}

// fail ends the cycle with err. Failures before execution leave the cycle
// Failed; failures during execution leave it PartiallyFailed.
func (c *Cycle) fail(err *EngineError) {
	if c.State == CycleStateExecuting {
		c.moveTo(CycleStatePartiallyFailed)
	} else {
		c.moveTo(CycleStateFailed)
	}
	c.Result.Err = err
	c.Result.Error = err.Error()
}

func (c *Cycle) finish() {
	c.Result.CompletedAt = time.Now()
	c.Result.Duration = c.Result.CompletedAt.Sub(c.Result.StartedAt)
}
