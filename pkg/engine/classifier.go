package engine

import (
	"fmt"

	"github.com/justindthomas/imp/pkg/config"
)

// Reasons attached to restart-required classifications.
const (
	ReasonManagement      = "management interface changed"
	ReasonInterfaceBind   = "interface PCI/name changed"
	ReasonModuleSet       = "module set changed"
	ReasonModuleEnabled   = "module enabled state changed"
	ReasonModuleConfig    = "module configuration changed"
	ReasonCPU             = "CPU allocation changed"
	ReasonMemif           = "memif allocation changed"
	ReasonBGPASN          = "BGP ASN changed"
	reasonDataplaneLive   = "applied live on the dataplane"
	reasonRoutingLive     = "applied live on the routing daemon"
	reasonModuleEntryLive = "applied live on the module instance"
	reasonNoInstance      = "module is disabled and has no running instance"
)

func live(reason string) Classification    { return Classification{Mode: ModeLive, Reason: reason} }
func restart(reason string) Classification { return Classification{Mode: ModeRestart, Reason: reason} }

// classificationRules is the single table deciding how each entity type
// reaches the running system.
var classificationRules = map[EntityType]func(Operation) Classification{
	EntityManagement: func(Operation) Classification { return restart(ReasonManagement) },

	EntityInterface: func(op Operation) Classification {
		m, ok := op.Action.(Modify)
		if !ok || m.Changed("iface") || m.Changed("pci") {
			return restart(ReasonInterfaceBind)
		}
		return live(reasonDataplaneLive)
	},

	EntitySubInterface:    func(Operation) Classification { return live(reasonDataplaneLive) },
	EntityLoopback:        func(Operation) Classification { return live(reasonDataplaneLive) },
	EntityBVI:             func(Operation) Classification { return live(reasonDataplaneLive) },
	EntityBridgeMember:    func(Operation) Classification { return live(reasonDataplaneLive) },
	EntityVLANPassthrough: func(Operation) Classification { return live(reasonDataplaneLive) },
	EntityRoute:           func(Operation) Classification { return live(reasonDataplaneLive) },
	EntityRouterAdvert:    func(Operation) Classification { return live(reasonDataplaneLive) },

	EntityBGP: func(op Operation) Classification {
		if m, ok := op.Action.(Modify); ok && m.Changed("asn") {
			return restart(ReasonBGPASN)
		}
		return live(reasonRoutingLive)
	},
	EntityBGPPeer:   func(Operation) Classification { return live(reasonRoutingLive) },
	EntityOSPF:      func(Operation) Classification { return live(reasonRoutingLive) },
	EntityOSPF6:     func(Operation) Classification { return live(reasonRoutingLive) },
	EntityOSPFArea:  func(Operation) Classification { return live(reasonRoutingLive) },
	EntityOSPF6Area: func(Operation) Classification { return live(reasonRoutingLive) },

	EntityModule: func(op Operation) Classification {
		switch a := op.Action.(type) {
		case Add:
			if !moduleEnabled(a.New) {
				return live(reasonNoInstance)
			}
			return restart(ReasonModuleSet)
		case Remove:
			if !moduleEnabled(a.Old) {
				return live(reasonNoInstance)
			}
			return restart(ReasonModuleSet)
		case Modify:
			if a.Changed("enabled") {
				return restart(ReasonModuleEnabled)
			}
			if !moduleEnabled(a.New) {
				return live(reasonNoInstance)
			}
			return restart(ReasonModuleConfig)
		}
		return restart(ReasonModuleSet)
	},
	EntityModuleEntry: func(Operation) Classification { return live(reasonModuleEntryLive) },

	EntityCPU:   func(Operation) Classification { return restart(ReasonCPU) },
	EntityMemif: func(Operation) Classification { return restart(ReasonMemif) },
}

func moduleEnabled(v interface{}) bool {
	m, ok := v.(config.ModuleInstance)
	return ok && m.Enabled
}

// Classify decides whether an operation can be applied live.
func Classify(op Operation) Classification {
	rule, ok := classificationRules[op.Entity]
	if !ok {
		return restart(fmt.Sprintf("no live rule for %s", op.Entity))
	}
	return rule(op)
}

// ClassifyPlan classifies every planned operation in order. An operation
// that depends on a restart-required operation cannot run live either.
func ClassifyPlan(plan *Plan) []PlannedStep {
	steps := make([]PlannedStep, 0, plan.Len())
	byID := make(map[string]PlannedStep, plan.Len())

	for i, op := range plan.Operations {
		id := op.ID()
		step := PlannedStep{
			Step:           i + 1,
			Operation:      op,
			Classification: Classify(op),
			DependsOn:      plan.DependsOn(id),
		}
		if step.Classification.Live() {
			for _, dep := range step.DependsOn {
				if d, ok := byID[dep]; ok && !d.Classification.Live() {
					step.Classification = restart("depends on " + d.Operation.String())
					break
				}
			}
		}
		byID[id] = step
		steps = append(steps, step)
	}
	return steps
}
