package engine

import (
	"encoding/json"
	"fmt"
)

// CycleState is the state of an apply cycle.
type CycleState string

const (
	// CycleStateIdle indicates the cycle has not started, or is a dry run
	// that finished classifying.
	CycleStateIdle CycleState = "idle"

	// CycleStateDiffing indicates the snapshots are being compared.
	CycleStateDiffing CycleState = "diffing"

	// CycleStatePlanning indicates operations are being ordered.
	CycleStatePlanning CycleState = "planning"

	// CycleStateClassifying indicates operations are being split into live
	// and restart-required sets.
	CycleStateClassifying CycleState = "classifying"

	// CycleStateExecuting indicates live operations are being executed.
	CycleStateExecuting CycleState = "executing"

	// CycleStateSucceeded indicates every live operation succeeded.
	CycleStateSucceeded CycleState = "succeeded"

	// CycleStatePartiallyFailed indicates execution stopped at a failed
	// operation. Operations before it remain applied.
	CycleStatePartiallyFailed CycleState = "partially_failed"

	// CycleStateFailed indicates the cycle failed before executing anything.
	CycleStateFailed CycleState = "failed"
)

// IsTerminal returns true if the state is final.
func (s CycleState) IsTerminal() bool {
	return s == CycleStateSucceeded || s == CycleStatePartiallyFailed || s == CycleStateFailed
}

// IsActive returns true if the cycle is between Idle and a terminal state.
func (s CycleState) IsActive() bool {
	switch s {
	case CycleStateDiffing, CycleStatePlanning, CycleStateClassifying, CycleStateExecuting:
		return true
	}
	return false
}

// Validate checks if the cycle state is valid.
func (s CycleState) Validate() error {
	switch s {
	case CycleStateIdle, CycleStateDiffing, CycleStatePlanning, CycleStateClassifying,
		CycleStateExecuting, CycleStateSucceeded, CycleStatePartiallyFailed, CycleStateFailed:
		return nil
	default:
		return fmt.Errorf("invalid cycle state: %s", s)
	}
}

// ActionKind names an Action.
type ActionKind string

const (
	// ActionAdd creates an entity.
	ActionAdd ActionKind = "add"

	// ActionRemove deletes an entity.
	ActionRemove ActionKind = "remove"

	// ActionModify changes an entity in place.
	ActionModify ActionKind = "modify"
)

// rank orders actions sharing an entity type and key: removals first.
func (k ActionKind) rank() int {
	switch k {
	case ActionRemove:
		return 0
	case ActionModify:
		return 1
	case ActionAdd:
		return 2
	}
	return 3
}

// Validate checks if the action kind is valid.
func (k ActionKind) Validate() error {
	switch k {
	case ActionAdd, ActionRemove, ActionModify:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", k)
	}
}

// EntityType names a kind of configuration entity with its own identity key.
type EntityType string

const (
	EntityManagement      EntityType = "management"
	EntityInterface       EntityType = "interface"
	EntitySubInterface    EntityType = "subinterface"
	EntityLoopback        EntityType = "loopback"
	EntityBVI             EntityType = "bvi"
	EntityBridgeMember    EntityType = "bridge_member"
	EntityVLANPassthrough EntityType = "vlan_passthrough"
	EntityRoute           EntityType = "route"
	EntityBGP             EntityType = "bgp"
	EntityBGPPeer         EntityType = "bgp_peer"
	EntityOSPF            EntityType = "ospf"
	EntityOSPF6           EntityType = "ospf6"
	EntityOSPFArea        EntityType = "ospf_area"
	EntityOSPF6Area       EntityType = "ospf6_area"
	EntityRouterAdvert    EntityType = "router_advert"
	EntityModule          EntityType = "module"
	EntityModuleEntry     EntityType = "module_entry"
	EntityCPU             EntityType = "cpu"
	EntityMemif           EntityType = "memif"
)

var entityOrder = []EntityType{
	EntityManagement,
	EntityInterface,
	EntitySubInterface,
	EntityLoopback,
	EntityBVI,
	EntityBridgeMember,
	EntityVLANPassthrough,
	EntityRoute,
	EntityBGP,
	EntityBGPPeer,
	EntityOSPF,
	EntityOSPF6,
	EntityOSPFArea,
	EntityOSPF6Area,
	EntityRouterAdvert,
	EntityModule,
	EntityModuleEntry,
	EntityCPU,
	EntityMemif,
}

var entityRank = func() map[EntityType]int {
	m := make(map[EntityType]int, len(entityOrder))
	for i, e := range entityOrder {
		m[e] = i
	}
	return m
}()

// EntityTypes returns every entity type in rank order.
func EntityTypes() []EntityType {
	out := make([]EntityType, len(entityOrder))
	copy(out, entityOrder)
	return out
}

// Rank returns the position of the entity type in the fixed ordering used to
// sort change sets and break planner ties.
func (e EntityType) Rank() int {
	if r, ok := entityRank[e]; ok {
		return r
	}
	return len(entityOrder)
}

// Validate checks if the entity type is valid.
func (e EntityType) Validate() error {
	if _, ok := entityRank[e]; !ok {
		return fmt.Errorf("invalid entity type: %s", e)
	}
	return nil
}

// IsProtocol reports whether the entity is a routing protocol instance.
func (e EntityType) IsProtocol() bool {
	return e == EntityBGP || e == EntityOSPF || e == EntityOSPF6
}

// MarshalJSON implements json.Marshaler for CycleState.
func (s CycleState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler for CycleState.
func (s *CycleState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	state := CycleState(str)
	if err := state.Validate(); err != nil {
		return err
	}
	*s = state
	return nil
}
