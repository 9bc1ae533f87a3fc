package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/modules"
)

// Action is what an Operation does to its entity. The set of actions is closed:
// Add, Remove and Modify are the only implementations.
type Action interface {
	// Kind returns the action name.
	Kind() ActionKind

	isAction()
}

// Add creates an entity that exists only in the new snapshot.
type Add struct {
	New interface{} `json:"new"`
}

// Remove deletes an entity that exists only in the old snapshot.
type Remove struct {
	Old interface{} `json:"old"`
}

// Modify changes an entity present in both snapshots.
type Modify struct {
	Old    interface{}   `json:"old"`
	New    interface{}   `json:"new"`
	Fields []FieldChange `json:"fields"`
}

func (Add) isAction()    {}
func (Remove) isAction() {}
func (Modify) isAction() {}

// Kind returns ActionAdd.
func (Add) Kind() ActionKind { return ActionAdd }

// Kind returns ActionRemove.
func (Remove) Kind() ActionKind { return ActionRemove }

// Kind returns ActionModify.
func (Modify) Kind() ActionKind { return ActionModify }

// Changed reports whether the field at path changed.
func (m Modify) Changed(path string) bool {
	for _, f := range m.Fields {
		if f.Path == path {
			return true
		}
	}
	return false
}

// FieldChange is one changed field of a modified entity, named by its JSON path.
type FieldChange struct {
	Path   string      `json:"path"`
	Before interface{} `json:"before"`
	After  interface{} `json:"after"`
}

// Operation is one entity-level change between two snapshots.
type Operation struct {
	Entity EntityType
	Key    string
	Action Action
}

// ID returns the stable identifier of the operation within a change set.
func (o Operation) ID() string {
	return fmt.Sprintf("%s:%s:%s", o.Action.Kind(), o.Entity, o.Key)
}

// String returns a short human-readable description.
func (o Operation) String() string {
	return fmt.Sprintf("%s %s %s", o.Action.Kind(), o.Entity, o.Key)
}

// Old returns the entity value before the change, or nil for adds.
func (o Operation) Old() interface{} {
	switch a := o.Action.(type) {
	case Remove:
		return a.Old
	case Modify:
		return a.Old
	case Add:
		return nil
	}
	return nil
}

// New returns the entity value after the change, or nil for removals.
func (o Operation) New() interface{} {
	switch a := o.Action.(type) {
	case Add:
		return a.New
	case Modify:
		return a.New
	case Remove:
		return nil
	}
	return nil
}

// Value returns the new value, or the old one for removals.
func (o Operation) Value() interface{} {
	if v := o.New(); v != nil {
		return v
	}
	return o.Old()
}

type operationJSON struct {
	ID     string        `json:"id"`
	Entity EntityType    `json:"entity"`
	Key    string        `json:"key"`
	Action ActionKind    `json:"action"`
	Old    interface{}   `json:"old,omitempty"`
	New    interface{}   `json:"new,omitempty"`
	Fields []FieldChange `json:"fields,omitempty"`
}

// MarshalJSON flattens the action into the operation record.
func (o Operation) MarshalJSON() ([]byte, error) {
	out := operationJSON{
		ID:     o.ID(),
		Entity: o.Entity,
		Key:    o.Key,
		Action: o.Action.Kind(),
		Old:    o.Old(),
		New:    o.New(),
	}
	if m, ok := o.Action.(Modify); ok {
		out.Fields = m.Fields
	}
	return json.Marshal(out)
}

// ChangeSet is the ordered list of operations between two snapshots,
// sorted by entity rank then key.
type ChangeSet []Operation

// IsEmpty reports whether the snapshots were equivalent.
func (c ChangeSet) IsEmpty() bool { return len(c) == 0 }

// Find returns the operation for an entity key.
func (c ChangeSet) Find(entity EntityType, key string) (Operation, bool) {
	for _, op := range c {
		if op.Entity == entity && op.Key == key {
			return op, true
		}
	}
	return Operation{}, false
}

// ManagementEntity is the host-owned part of the configuration.
type ManagementEntity struct {
	Hostname   string            `json:"hostname"`
	Management config.Management `json:"management"`
}

// SubInterfaceEntity is a sub-interface together with its parent.
type SubInterfaceEntity struct {
	Parent string `json:"parent"`
	config.SubInterface
}

// VPPName returns the dataplane interface name.
func (s SubInterfaceEntity) VPPName() string { return s.SubInterface.VPPName(s.Parent) }

// LCPName returns the host tap name.
func (s SubInterfaceEntity) LCPName() string { return s.SubInterface.LCPName(s.Parent) }

// BridgeMemberEntity is one member port of a bridge domain.
type BridgeMemberEntity struct {
	BridgeID int `json:"bridge_id"`
	config.BridgeDomainMember
}

// BGPPeerEntity is a peer together with the ASN of the instance it belongs to.
type BGPPeerEntity struct {
	ASN uint32 `json:"asn"`
	config.BGPPeer
}

// AreaEntity is the OSPF or OSPFv3 membership of one interface.
type AreaEntity struct {
	// Interface is the dataplane name of the owner.
	Interface string `json:"interface"`

	// HostInterface is the host tap name FRR sees.
	HostInterface string `json:"host_interface"`

	Area    int  `json:"area"`
	Passive bool `json:"passive"`

	// Networks are the owner's prefixes of the protocol's family.
	Networks []string `json:"networks,omitempty"`
}

// RAEntity is the IPv6 router advertisement configuration of one interface.
type RAEntity struct {
	Interface string `json:"interface"`
	config.RASettings
}

// ModuleEntryEntity is one element of a live-applicable module config array.
type ModuleEntryEntity struct {
	Module string        `json:"module"`
	Field  string        `json:"field"`
	Key    string        `json:"key"`
	Item   modules.Value `json:"item"`

	Definition *modules.Definition `json:"-"`
}

// MarshalJSON renders the item as plain JSON.
func (m ModuleEntryEntity) MarshalJSON() ([]byte, error) {
	var item interface{}
	if m.Item != nil {
		item = m.Item.Native()
	}
	return json.Marshal(struct {
		Module string      `json:"module"`
		Field  string      `json:"field"`
		Key    string      `json:"key"`
		Item   interface{} `json:"item"`
	}{m.Module, m.Field, m.Key, item})
}

// ApplyMode says how an operation reaches the running system.
type ApplyMode string

const (
	// ModeLive operations are executed over a command channel.
	ModeLive ApplyMode = "live"

	// ModeRestart operations take effect only after the affected
	// processes are restarted from regenerated startup configuration.
	ModeRestart ApplyMode = "restart_required"
)

// Classification is the classifier's verdict for one operation.
type Classification struct {
	Mode   ApplyMode `json:"mode"`
	Reason string    `json:"reason"`
}

// Live reports whether the operation is applied without a restart.
func (c Classification) Live() bool { return c.Mode == ModeLive }

// PlannedStep is an operation at its position in the plan.
type PlannedStep struct {
	Step           int            `json:"step"`
	Operation      Operation      `json:"operation"`
	Classification Classification `json:"classification"`
	DependsOn      []string       `json:"depends_on,omitempty"`
}

// CommandResult is the outcome of one command on one channel target.
type CommandResult struct {
	Target   string        `json:"target"`
	Command  string        `json:"command"`
	OK       bool          `json:"ok"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Outcome is the result of executing one operation.
type Outcome struct {
	Step        int             `json:"step"`
	OperationID string          `json:"operation_id"`
	Description string          `json:"description"`
	Success     bool            `json:"success"`
	Commands    []CommandResult `json:"commands"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`

	// Err is the classified failure, if any.
	Err error `json:"-"`
}

// CycleResult is the structured report of one apply cycle.
type CycleResult struct {
	ID          string        `json:"id"`
	State       CycleState    `json:"state"`
	DryRun      bool          `json:"dry_run"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`

	// Changes is the diff between the snapshots.
	Changes ChangeSet `json:"changes"`

	// Plan is the ordered plan, nil if planning did not complete.
	Plan *Plan `json:"-"`

	// Steps are the classified operations in execution order.
	Steps []PlannedStep `json:"steps"`

	// Outcomes are the results of executed live steps, in order.
	// A failure at live step k leaves exactly k outcomes.
	Outcomes []Outcome `json:"outcomes"`

	// Pending are the steps that need a restart to take effect.
	Pending []PlannedStep `json:"pending,omitempty"`

	// Warnings are non-blocking policy findings.
	Warnings []PolicyFinding `json:"warnings,omitempty"`

	// Persisted reports whether the new snapshot became the applied one.
	Persisted bool `json:"persisted"`

	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// RestartRequired reports whether any planned change awaits a restart.
func (r *CycleResult) RestartRequired() bool { return len(r.Pending) > 0 }

// LiveSteps returns the steps that are executed over a channel.
func (r *CycleResult) LiveSteps() []PlannedStep {
	out := make([]PlannedStep, 0, len(r.Steps))
	for _, s := range r.Steps {
		if s.Classification.Live() {
			out = append(out, s)
		}
	}
	return out
}

// Summary counts the outcomes of a cycle.
func (r *CycleResult) Summary() CycleSummary {
	s := CycleSummary{
		Total:   len(r.Steps),
		Pending: len(r.Pending),
	}
	for _, o := range r.Outcomes {
		if o.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	s.NotRun = len(r.LiveSteps()) - len(r.Outcomes)
	return s
}

// CycleSummary provides summary statistics for a cycle.
type CycleSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	NotRun    int `json:"not_run"`
	Pending   int `json:"pending"`
}

// PolicySeverity grades a policy finding.
type PolicySeverity string

const (
	// PolicySeverityWarning findings are reported but do not block a cycle.
	PolicySeverityWarning PolicySeverity = "warning"

	// PolicySeverityError findings block execution.
	PolicySeverityError PolicySeverity = "error"
)

// PolicyFinding is one guardrail result over a plan.
type PolicyFinding struct {
	Policy    string         `json:"policy"`
	Severity  PolicySeverity `json:"severity"`
	Message   string         `json:"message"`
	Operation string         `json:"operation,omitempty"`
}
