package engine

import (
	"strings"
	"testing"

	"github.com/justindthomas/imp/pkg/alloc"
	"github.com/justindthomas/imp/pkg/config"
)

func planFor(t *testing.T, prev, next *config.RouterConfig, opts DiffOptions) *Plan {
	t.Helper()
	changes, err := Diff(prev, next, opts)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	plan, err := NewPlanner().Plan(changes)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	return plan
}

func position(t *testing.T, plan *Plan, id string) int {
	t.Helper()
	for i, op := range plan.Operations {
		if op.ID() == id {
			return i
		}
	}
	ids := make([]string, 0, plan.Len())
	for _, op := range plan.Operations {
		ids = append(ids, op.ID())
	}
	t.Fatalf("Operation %s not in plan: %v", id, ids)
	return -1
}

func assertBefore(t *testing.T, plan *Plan, first, then string) {
	t.Helper()
	if a, b := position(t, plan, first), position(t, plan, then); a >= b {
		t.Errorf("Expected %s (at %d) before %s (at %d)", first, a, then, b)
	}
}

func TestPlanner_EmptyChangeSet(t *testing.T) {
	cfg := baseConfig()
	plan := planFor(t, cfg, cfg.Clone(), DiffOptions{})
	if plan.Len() != 0 {
		t.Fatalf("Expected empty plan, got %d operations", plan.Len())
	}
}

func TestPlanner_SubInterfaceBeforeDependents(t *testing.T) {
	prev := baseConfig()
	prev.OSPF = config.OSPFConfig{Enabled: true, RouterID: "192.0.2.1"}

	next := prev.Clone()
	next.Interfaces[0].SubInterfaces = []config.SubInterface{{
		VLANID:       100,
		IPv4:         "10.100.0.1",
		IPv4Prefix:   24,
		IPv6:         "2001:db8:100::1",
		IPv6Prefix:   64,
		CreateLCP:    true,
		AreaSettings: config.AreaSettings{OSPFArea: intPtr(0)},
	}}
	next.Routes = append(next.Routes, config.Route{Destination: "172.16.0.0/16", Via: "10.100.0.254", Interface: "wan.100"})

	plan := planFor(t, prev, next, DiffOptions{})

	assertBefore(t, plan, "add:subinterface:wan.100", "add:route:172.16.0.0/16")
	assertBefore(t, plan, "add:subinterface:wan.100", "add:ospf_area:wan.100")
	assertBefore(t, plan, "add:subinterface:wan.100", "add:router_advert:wan.100")

	deps := plan.DependsOn("add:route:172.16.0.0/16")
	if len(deps) != 1 || deps[0] != "add:subinterface:wan.100" {
		t.Errorf("Expected route to depend on the sub-interface, got: %v", deps)
	}
}

func TestPlanner_RemovalOrdering(t *testing.T) {
	prev := baseConfig()
	prev.Interfaces = append(prev.Interfaces, config.Interface{
		Name:          "dmz",
		Iface:         "enp3s0",
		PCI:           "0000:03:00.0",
		MTU:           1500,
		SubInterfaces: []config.SubInterface{{VLANID: 200, IPv4: "10.200.0.1", IPv4Prefix: 24, CreateLCP: true}},
	})
	prev.Routes = append(prev.Routes, config.Route{Destination: "172.16.0.0/16", Via: "10.200.0.254", Interface: "dmz.200"})
	prev.BVIDomains = []config.BVIConfig{{
		BridgeID:   10,
		IPv4:       "10.10.0.1",
		IPv4Prefix: 24,
		CreateLCP:  true,
		Members:    []config.BridgeDomainMember{{Interface: "lan", VLANID: intPtr(10)}},
	}}

	next := baseConfig()

	plan := planFor(t, prev, next, DiffOptions{})

	assertBefore(t, plan, "remove:route:172.16.0.0/16", "remove:subinterface:dmz.200")
	assertBefore(t, plan, "remove:subinterface:dmz.200", "remove:interface:dmz")
	assertBefore(t, plan, "remove:bridge_member:10/lan.10", "remove:bvi:bvi10")
}

func TestPlanner_ProtocolOrdering(t *testing.T) {
	withBGP := baseConfig()
	withBGP.BGP = config.BGPConfig{
		Enabled:  true,
		ASN:      65000,
		RouterID: "192.0.2.1",
		Peers: []config.BGPPeer{
			{PeerIP: "203.0.113.1", PeerASN: 65001},
			{PeerIP: "2001:db8::1", PeerASN: 65002},
		},
	}
	withBGP.OSPF = config.OSPFConfig{Enabled: true}
	withBGP.Interfaces[1].OSPFArea = intPtr(0)

	t.Run("enable", func(t *testing.T) {
		plan := planFor(t, baseConfig(), withBGP, DiffOptions{})
		assertBefore(t, plan, "add:bgp:bgp", "add:bgp_peer:203.0.113.1")
		assertBefore(t, plan, "add:bgp:bgp", "add:bgp_peer:2001:db8::1")
		assertBefore(t, plan, "add:ospf:ospf", "add:ospf_area:lan")
	})

	t.Run("disable", func(t *testing.T) {
		plan := planFor(t, withBGP, baseConfig(), DiffOptions{})
		assertBefore(t, plan, "remove:bgp_peer:203.0.113.1", "remove:bgp:bgp")
		assertBefore(t, plan, "remove:bgp_peer:2001:db8::1", "remove:bgp:bgp")
		assertBefore(t, plan, "remove:ospf_area:lan", "remove:ospf:ospf")
	})
}

func TestPlanner_ReleasedNameBeforeClaim(t *testing.T) {
	prev := baseConfig()
	prev.Loopbacks = []config.LoopbackInterface{{Instance: 10, IPv4: "192.0.2.1", IPv4Prefix: 32, CreateLCP: true}}

	next := baseConfig()
	next.BVIDomains = []config.BVIConfig{{BridgeID: 10, IPv4: "10.10.0.1", IPv4Prefix: 24, CreateLCP: true}}

	plan := planFor(t, prev, next, DiffOptions{})
	assertBefore(t, plan, "remove:loopback:loop10", "add:bvi:bvi10")
}

func TestPlanner_ModulesBeforeAllocation(t *testing.T) {
	reg := loadRegistry(t)
	prev := baseConfig()
	next := prev.Clone()
	next.Modules = []config.ModuleInstance{natModule(true)}

	plan := planFor(t, prev, next, DiffOptions{Registry: reg, Topology: alloc.Topology{TotalCores: 8}})
	assertBefore(t, plan, "add:module:nat", "modify:cpu:allocation")
	assertBefore(t, plan, "add:module:nat", "modify:memif:allocation")
}

func TestPlanner_Deterministic(t *testing.T) {
	prev := baseConfig()
	next := baseConfig()
	next.Loopbacks = []config.LoopbackInterface{
		{Instance: 2, IPv4: "192.0.2.2", IPv4Prefix: 32},
		{Instance: 1, IPv4: "192.0.2.1", IPv4Prefix: 32},
	}
	next.Routes = append(next.Routes,
		config.Route{Destination: "198.51.100.0/24", Via: "10.0.0.254"},
		config.Route{Destination: "172.16.0.0/12", Via: "10.0.0.254"},
	)

	first := planFor(t, prev, next, DiffOptions{})
	for i := 0; i < 10; i++ {
		again := planFor(t, prev, next, DiffOptions{})
		for j := range first.Operations {
			if first.Operations[j].ID() != again.Operations[j].ID() {
				t.Fatalf("Run %d: expected %s at %d, got: %s", i, first.Operations[j].ID(), j, again.Operations[j].ID())
			}
		}
	}
	if first.Operations[0].ID() != "add:loopback:loop1" {
		t.Errorf("Expected independent operations in change-set order, got first: %s", first.Operations[0].ID())
	}
}

func TestDAGBuilder_CycleDetection(t *testing.T) {
	a := Operation{Entity: EntityRoute, Key: "a", Action: Add{New: config.Route{Destination: "a"}}}
	b := Operation{Entity: EntityRoute, Key: "b", Action: Add{New: config.Route{Destination: "b"}}}
	deps := map[string][]Dependency{
		a.ID(): {{TargetID: b.ID(), Reason: "test"}},
		b.ID(): {{TargetID: a.ID(), Reason: "test"}},
	}

	_, err := NewDAGBuilder().BuildGraph([]Operation{a, b}, deps)
	if err == nil {
		t.Fatal("Expected cycle error")
	}
	if !IsDependency(err) {
		t.Errorf("Expected dependency error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "circular dependency detected") {
		t.Errorf("Expected cycle description, got: %v", err)
	}
}

func TestDAGBuilder_UnknownDependency(t *testing.T) {
	a := Operation{Entity: EntityRoute, Key: "a", Action: Add{New: config.Route{Destination: "a"}}}
	deps := map[string][]Dependency{a.ID(): {{TargetID: "add:route:missing"}}}

	if _, err := NewDAGBuilder().BuildGraph([]Operation{a}, deps); err == nil {
		t.Fatal("Expected error for unknown dependency")
	}
}

func TestDAGBuilder_Levels(t *testing.T) {
	mk := func(key string) Operation {
		return Operation{Entity: EntityRoute, Key: key, Action: Add{New: config.Route{Destination: key}}}
	}
	a, b, c := mk("a"), mk("b"), mk("c")
	deps := map[string][]Dependency{
		b.ID(): {{TargetID: a.ID()}},
		c.ID(): {{TargetID: b.ID()}, {TargetID: a.ID()}},
	}

	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph([]Operation{c, b, a}, deps)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	if graph.Depth != 3 {
		t.Errorf("Expected depth 3, got: %d", graph.Depth)
	}
	if graph.Nodes[c.ID()].Level != 2 {
		t.Errorf("Expected c at level 2, got: %d", graph.Nodes[c.ID()].Level)
	}
	if len(graph.Roots) != 1 || graph.Roots[0] != a.ID() {
		t.Errorf("Expected a as the only root, got: %v", graph.Roots)
	}
	expected := []string{a.ID(), b.ID(), c.ID()}
	for i, id := range expected {
		if graph.Order[i] != id {
			t.Errorf("Expected %s at %d, got: %s", id, i, graph.Order[i])
		}
	}
	if err := ValidateGraph(graph); err != nil {
		t.Errorf("Expected valid graph, got: %v", err)
	}
}

func TestPlan_ToDOT(t *testing.T) {
	prev := baseConfig()
	next := prev.Clone()
	next.Hostname = "edge2"
	next.Interfaces[0].SubInterfaces = []config.SubInterface{{VLANID: 100, IPv4: "10.100.0.1", IPv4Prefix: 24, CreateLCP: true}}

	plan := planFor(t, prev, next, DiffOptions{})
	dot := plan.ToDOT(ClassifyPlan(plan))

	for _, want := range []string{
		"digraph Plan {",
		"subgraph cluster_level_0",
		`"modify:management:management"`,
		"filled,rounded,dashed",
		"lightgreen",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q, got:\n%s", want, dot)
		}
	}
}
