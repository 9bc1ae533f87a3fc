package stores

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/justindthomas/imp/pkg/engine"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// CycleRecord is one stored apply cycle.
type CycleRecord struct {
	ID              string              `json:"id"`
	State           engine.CycleState   `json:"state"`
	DryRun          bool                `json:"dry_run"`
	StartedAt       time.Time           `json:"started_at"`
	CompletedAt     time.Time           `json:"completed_at"`
	Duration        time.Duration       `json:"duration"`
	Persisted       bool                `json:"persisted"`
	RestartRequired bool                `json:"restart_required"`
	Summary         engine.CycleSummary `json:"summary"`
	Error           *string             `json:"error,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`

	// Report is the full cycle result as JSON.
	Report json.RawMessage `json:"report,omitempty"`

	// Outcomes are filled by GetCycle only.
	Outcomes []*OutcomeRecord `json:"outcomes,omitempty"`
}

// OutcomeRecord is one executed operation of a cycle.
type OutcomeRecord struct {
	ID          int64                  `json:"id"`
	CycleID     string                 `json:"cycle_id"`
	Step        int                    `json:"step"`
	OperationID string                 `json:"operation_id"`
	Description string                 `json:"description"`
	Success     bool                   `json:"success"`
	Error       *string                `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	Duration    time.Duration          `json:"duration"`
	Commands    []engine.CommandResult `json:"commands"`
}

// SnapshotRecord is a configuration made active by a cycle.
type SnapshotRecord struct {
	ID        int64           `json:"id"`
	CycleID   string          `json:"cycle_id"`
	Hostname  string          `json:"hostname"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
}

// CycleFilter narrows ListCycles.
type CycleFilter struct {
	State          *engine.CycleState
	IncludeDryRuns bool
	Limit          int
	Offset         int
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
