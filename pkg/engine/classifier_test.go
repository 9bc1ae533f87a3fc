package engine

import (
	"testing"

	"github.com/justindthomas/imp/pkg/config"
)

func TestClassify(t *testing.T) {
	nat := config.ModuleInstance{Name: "nat", Enabled: true}
	natOff := config.ModuleInstance{Name: "nat"}

	tests := []struct {
		name   string
		op     Operation
		mode   ApplyMode
		reason string
	}{
		{
			name:   "management change",
			op:     Operation{Entity: EntityManagement, Key: "management", Action: Modify{Fields: []FieldChange{{Path: "hostname"}}}},
			mode:   ModeRestart,
			reason: ReasonManagement,
		},
		{
			name:   "interface added",
			op:     Operation{Entity: EntityInterface, Key: "wan", Action: Add{New: config.Interface{Name: "wan"}}},
			mode:   ModeRestart,
			reason: ReasonInterfaceBind,
		},
		{
			name:   "interface pci changed",
			op:     Operation{Entity: EntityInterface, Key: "wan", Action: Modify{Fields: []FieldChange{{Path: "pci"}}}},
			mode:   ModeRestart,
			reason: ReasonInterfaceBind,
		},
		{
			name: "interface address changed",
			op:   Operation{Entity: EntityInterface, Key: "wan", Action: Modify{Fields: []FieldChange{{Path: "ipv4"}, {Path: "mtu"}}}},
			mode: ModeLive,
		},
		{
			name: "sub-interface added",
			op:   Operation{Entity: EntitySubInterface, Key: "wan.100", Action: Add{New: SubInterfaceEntity{Parent: "wan"}}},
			mode: ModeLive,
		},
		{
			name: "route removed",
			op:   Operation{Entity: EntityRoute, Key: "0.0.0.0/0", Action: Remove{Old: config.Route{}}},
			mode: ModeLive,
		},
		{
			name: "bgp router id changed",
			op:   Operation{Entity: EntityBGP, Key: "bgp", Action: Modify{Fields: []FieldChange{{Path: "router_id"}}}},
			mode: ModeLive,
		},
		{
			name:   "bgp asn changed",
			op:     Operation{Entity: EntityBGP, Key: "bgp", Action: Modify{Fields: []FieldChange{{Path: "asn"}}}},
			mode:   ModeRestart,
			reason: ReasonBGPASN,
		},
		{
			name: "ospf area added",
			op:   Operation{Entity: EntityOSPFArea, Key: "lan", Action: Add{New: AreaEntity{}}},
			mode: ModeLive,
		},
		{
			name:   "enabled module added",
			op:     Operation{Entity: EntityModule, Key: "nat", Action: Add{New: nat}},
			mode:   ModeRestart,
			reason: ReasonModuleSet,
		},
		{
			name: "disabled module added",
			op:   Operation{Entity: EntityModule, Key: "nat", Action: Add{New: natOff}},
			mode: ModeLive,
		},
		{
			name:   "module enabled",
			op:     Operation{Entity: EntityModule, Key: "nat", Action: Modify{Old: natOff, New: nat, Fields: []FieldChange{{Path: "enabled"}}}},
			mode:   ModeRestart,
			reason: ReasonModuleEnabled,
		},
		{
			name:   "running module config changed",
			op:     Operation{Entity: EntityModule, Key: "nat", Action: Modify{Old: nat, New: nat, Fields: []FieldChange{{Path: "config.bgp_prefix"}}}},
			mode:   ModeRestart,
			reason: ReasonModuleConfig,
		},
		{
			name: "disabled module config changed",
			op:   Operation{Entity: EntityModule, Key: "nat", Action: Modify{Old: natOff, New: natOff, Fields: []FieldChange{{Path: "config.bgp_prefix"}}}},
			mode: ModeLive,
		},
		{
			name: "module entry added",
			op:   Operation{Entity: EntityModuleEntry, Key: "nat/mappings/10.0.0.0/24", Action: Add{New: ModuleEntryEntity{}}},
			mode: ModeLive,
		},
		{
			name:   "cpu reallocated",
			op:     Operation{Entity: EntityCPU, Key: "allocation", Action: Modify{}},
			mode:   ModeRestart,
			reason: ReasonCPU,
		},
		{
			name:   "memif reallocated",
			op:     Operation{Entity: EntityMemif, Key: "allocation", Action: Modify{}},
			mode:   ModeRestart,
			reason: ReasonMemif,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.op)
			if c.Mode != tt.mode {
				t.Errorf("Expected mode %s, got: %s (%s)", tt.mode, c.Mode, c.Reason)
			}
			if tt.reason != "" && c.Reason != tt.reason {
				t.Errorf("Expected reason %q, got: %q", tt.reason, c.Reason)
			}
			if c.Reason == "" {
				t.Error("Expected a reason")
			}
		})
	}
}

func TestClassify_UnknownEntity(t *testing.T) {
	c := Classify(Operation{Entity: EntityType("unknown"), Key: "x", Action: Add{}})
	if c.Live() {
		t.Errorf("Expected unknown entities to require a restart, got: %+v", c)
	}
}

func TestClassifyPlan_PropagatesRestart(t *testing.T) {
	prev := baseConfig()
	next := prev.Clone()
	next.Interfaces = append(next.Interfaces, config.Interface{
		Name:          "dmz",
		Iface:         "enp3s0",
		PCI:           "0000:03:00.0",
		MTU:           1500,
		SubInterfaces: []config.SubInterface{{VLANID: 300, IPv4: "10.30.0.1", IPv4Prefix: 24, CreateLCP: true}},
	})
	next.Routes = append(next.Routes,
		config.Route{Destination: "172.16.0.0/16", Via: "10.30.0.254", Interface: "dmz.300"},
		config.Route{Destination: "198.51.100.0/24", Via: "10.0.0.254", Interface: "lan"},
	)

	plan := planFor(t, prev, next, DiffOptions{})
	steps := ClassifyPlan(plan)

	byID := make(map[string]PlannedStep, len(steps))
	for i, s := range steps {
		if s.Step != i+1 {
			t.Errorf("Expected step %d, got: %d", i+1, s.Step)
		}
		byID[s.Operation.ID()] = s
	}

	iface := byID["add:interface:dmz"]
	if iface.Classification.Mode != ModeRestart {
		t.Fatalf("Expected interface add to require a restart, got: %+v", iface.Classification)
	}

	sub := byID["add:subinterface:dmz.300"]
	if sub.Classification.Live() || sub.Classification.Reason != "depends on add interface dmz" {
		t.Errorf("Expected sub-interface to inherit the restart, got: %+v", sub.Classification)
	}

	route := byID["add:route:172.16.0.0/16"]
	if route.Classification.Live() {
		t.Errorf("Expected route through the new sub-interface to wait for the restart, got: %+v", route.Classification)
	}

	if !byID["add:route:198.51.100.0/24"].Classification.Live() {
		t.Error("Expected route through an existing interface to apply live")
	}
}
