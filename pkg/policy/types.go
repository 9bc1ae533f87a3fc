package policy

import (
	"time"

	"github.com/justindthomas/imp/pkg/engine"
)

// Severity represents the severity level of a policy finding.
type Severity string

const (
	// SeverityWarning findings are reported with the cycle result.
	SeverityWarning Severity = "warning"

	// SeverityError findings block execution of the plan.
	SeverityError Severity = "error"
)

// Policy is a Rego module evaluated over every plan.
//
// A policy package may define two rules, each a set of strings or of
// objects with "message", "operation" and optional "severity" keys:
//
//	deny contains finding if { ... }   # error severity
//	warn contains finding if { ... }   # warning severity
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with imp. They survive reloads.
	Builtin bool `json:"builtin"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Input is the document policies see as `input`.
type Input struct {
	// Steps are the classified operations in execution order.
	Steps []StepInput `json:"steps"`

	// Summary counts the steps by apply mode.
	Summary InputSummary `json:"summary"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// StepInput is one planned operation as seen by a policy.
type StepInput struct {
	Step   int      `json:"step"`
	ID     string   `json:"id"`
	Entity string   `json:"entity"`
	Key    string   `json:"key"`
	Action string   `json:"action"`
	Mode   string   `json:"mode"`
	Reason string   `json:"reason,omitempty"`
	Fields []string `json:"fields,omitempty"`

	// Old and New are the entity values before and after the change.
	Old interface{} `json:"old,omitempty"`
	New interface{} `json:"new,omitempty"`
}

// InputSummary counts planned steps.
type InputSummary struct {
	Total   int `json:"total"`
	Live    int `json:"live"`
	Restart int `json:"restart"`
}

// NewInput builds the policy input for a classified plan.
func NewInput(steps []engine.PlannedStep) *Input {
	in := &Input{
		Steps:     make([]StepInput, 0, len(steps)),
		Timestamp: time.Now(),
	}
	for _, s := range steps {
		op := s.Operation
		si := StepInput{
			Step:   s.Step,
			ID:     op.ID(),
			Entity: string(op.Entity),
			Key:    op.Key,
			Action: string(op.Action.Kind()),
			Mode:   string(s.Classification.Mode),
			Reason: s.Classification.Reason,
			Old:    op.Old(),
			New:    op.New(),
		}
		if m, ok := op.Action.(engine.Modify); ok {
			for _, f := range m.Fields {
				si.Fields = append(si.Fields, f.Path)
			}
		}
		in.Steps = append(in.Steps, si)

		in.Summary.Total++
		if s.Classification.Live() {
			in.Summary.Live++
		} else {
			in.Summary.Restart++
		}
	}
	return in
}
