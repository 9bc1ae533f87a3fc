package engine

import (
	"testing"

	"github.com/justindthomas/imp/pkg/alloc"
	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/modules"
)

func intPtr(v int) *int { return &v }

// baseConfig is a small valid router with two interfaces and a default route.
func baseConfig() *config.RouterConfig {
	return &config.RouterConfig{
		Hostname:   "edge1",
		Management: config.Management{Iface: "eth0", Mode: "dhcp"},
		Interfaces: []config.Interface{
			{
				Name:  "wan",
				Iface: "enp1s0",
				PCI:   "0000:01:00.0",
				MTU:   1500,
				IPv4:  []config.Address{{Address: "203.0.113.2", Prefix: 30}},
			},
			{
				Name:  "lan",
				Iface: "enp2s0",
				PCI:   "0000:02:00.0",
				MTU:   1500,
				IPv4:  []config.Address{{Address: "10.0.0.1", Prefix: 24}},
			},
		},
		Routes: []config.Route{{Destination: "0.0.0.0/0", Via: "203.0.113.1", Interface: "wan"}},
	}
}

func kinds(cs ChangeSet) []string {
	out := make([]string, 0, len(cs))
	for _, op := range cs {
		out = append(out, op.ID())
	}
	return out
}

func TestDiff_IdenticalSnapshots(t *testing.T) {
	cfg := baseConfig()
	cfg.BGP = config.BGPConfig{
		Enabled:  true,
		ASN:      65000,
		RouterID: "192.0.2.1",
		Peers:    []config.BGPPeer{{Name: "up", PeerIP: "203.0.113.1", PeerASN: 65001}},
	}
	cfg.Loopbacks = []config.LoopbackInterface{{Instance: 0, IPv4: "192.0.2.1", IPv4Prefix: 32, CreateLCP: true}}

	changes, err := Diff(cfg, cfg.Clone(), DiffOptions{})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if !changes.IsEmpty() {
		t.Fatalf("Expected no changes, got: %v", kinds(changes))
	}
}

func TestDiff_FromNothing(t *testing.T) {
	changes, err := Diff(nil, baseConfig(), DiffOptions{})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}

	expected := []string{
		"add:management:management",
		"add:interface:lan",
		"add:interface:wan",
		"add:route:0.0.0.0/0",
	}
	if len(changes) != len(expected) {
		t.Fatalf("Expected %d changes, got: %v", len(expected), kinds(changes))
	}
	for i, id := range expected {
		if changes[i].ID() != id {
			t.Errorf("Expected change %d to be %s, got: %s", i, id, changes[i].ID())
		}
	}
}

func TestDiff_ModifyFields(t *testing.T) {
	prev := baseConfig()
	next := prev.Clone()
	next.Interfaces[1].MTU = 9000
	next.Interfaces[1].IPv4 = append(next.Interfaces[1].IPv4, config.Address{Address: "10.0.1.1", Prefix: 24})

	changes, err := Diff(prev, next, DiffOptions{})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("Expected 1 change, got: %v", kinds(changes))
	}

	op := changes[0]
	m, ok := op.Action.(Modify)
	if !ok {
		t.Fatalf("Expected Modify, got: %T", op.Action)
	}
	if op.Entity != EntityInterface || op.Key != "lan" {
		t.Errorf("Expected interface lan, got: %s %s", op.Entity, op.Key)
	}
	for _, path := range []string{"mtu", "ipv4"} {
		if !m.Changed(path) {
			t.Errorf("Expected field %s to be reported changed, got: %+v", path, m.Fields)
		}
	}
	if m.Changed("pci") {
		t.Error("Expected pci to be unchanged")
	}
}

func TestDiff_SubInterfacesAndAreas(t *testing.T) {
	prev := baseConfig()
	prev.OSPF = config.OSPFConfig{Enabled: true, RouterID: "192.0.2.1"}

	next := prev.Clone()
	next.Interfaces[0].SubInterfaces = []config.SubInterface{{
		VLANID:       100,
		IPv4:         "10.100.0.1",
		IPv4Prefix:   24,
		CreateLCP:    true,
		AreaSettings: config.AreaSettings{OSPFArea: intPtr(0)},
	}}
	next.Interfaces[1].OSPFArea = intPtr(0)
	next.Interfaces[1].OSPFPassive = true

	changes, err := Diff(prev, next, DiffOptions{})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}

	if _, ok := changes.Find(EntityInterface, "lan"); ok {
		t.Error("Expected area settings not to modify the interface entity")
	}

	sub, ok := changes.Find(EntitySubInterface, "wan.100")
	if !ok {
		t.Fatalf("Expected sub-interface wan.100 to be added, got: %v", kinds(changes))
	}
	ent := sub.Value().(SubInterfaceEntity)
	if ent.LCPName() != "wan-v100" {
		t.Errorf("Expected LCP name wan-v100, got: %s", ent.LCPName())
	}

	area, ok := changes.Find(EntityOSPFArea, "lan")
	if !ok {
		t.Fatalf("Expected OSPF area for lan, got: %v", kinds(changes))
	}
	ae := area.Value().(AreaEntity)
	if ae.HostInterface != "enp2s0" || !ae.Passive {
		t.Errorf("Expected passive area on enp2s0, got: %+v", ae)
	}
	if len(ae.Networks) != 1 || ae.Networks[0] != "10.0.0.0/24" {
		t.Errorf("Expected network 10.0.0.0/24, got: %v", ae.Networks)
	}

	subArea, ok := changes.Find(EntityOSPFArea, "wan.100")
	if !ok {
		t.Fatalf("Expected OSPF area for wan.100, got: %v", kinds(changes))
	}
	if subArea.Value().(AreaEntity).HostInterface != "wan-v100" {
		t.Errorf("Expected area bound to wan-v100, got: %+v", subArea.Value())
	}
}

func TestDiff_AreaNeedsProtocolAndHost(t *testing.T) {
	next := baseConfig()
	next.Loopbacks = []config.LoopbackInterface{{
		Instance:     1,
		IPv4:         "192.0.2.1",
		IPv4Prefix:   32,
		AreaSettings: config.AreaSettings{OSPFArea: intPtr(0)},
	}}

	changes, err := Diff(nil, next, DiffOptions{})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if _, ok := changes.Find(EntityOSPFArea, "loop1"); ok {
		t.Error("Expected no area while ospf is disabled")
	}

	next.OSPF = config.OSPFConfig{Enabled: true, RouterID: "192.0.2.1"}
	changes, err = Diff(nil, next, DiffOptions{})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if _, ok := changes.Find(EntityOSPFArea, "loop1"); ok {
		t.Error("Expected no area without a host interface")
	}

	next.Loopbacks[0].CreateLCP = true
	changes, err = Diff(nil, next, DiffOptions{})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	op, ok := changes.Find(EntityOSPFArea, "loop1")
	if !ok {
		t.Fatalf("Expected area for loop1, got: %v", kinds(changes))
	}
	if nets := op.Value().(AreaEntity).Networks; len(nets) != 1 || nets[0] != "192.0.2.1/32" {
		t.Errorf("Expected host route network, got: %v", nets)
	}
}

func TestDiff_RouterAdvertRequiresIPv6(t *testing.T) {
	next := baseConfig()
	next.Interfaces[1].RASettings = config.RASettings{RAEnabled: true, RAIntervalMax: 30, RAIntervalMin: 15}

	changes, err := Diff(nil, next, DiffOptions{})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if _, ok := changes.Find(EntityRouterAdvert, "lan"); ok {
		t.Error("Expected no RA entity on an IPv4-only interface")
	}

	next.Interfaces[1].IPv6 = []config.Address{{Address: "2001:db8::1", Prefix: 64}}
	changes, err = Diff(nil, next, DiffOptions{})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if _, ok := changes.Find(EntityRouterAdvert, "lan"); !ok {
		t.Errorf("Expected RA entity for lan, got: %v", kinds(changes))
	}
}

func TestDiff_ProtocolDisableRemovesChildren(t *testing.T) {
	prev := baseConfig()
	prev.BGP = config.BGPConfig{
		Enabled:  true,
		ASN:      65000,
		RouterID: "192.0.2.1",
		Peers:    []config.BGPPeer{{PeerIP: "203.0.113.1", PeerASN: 65001}},
	}
	next := prev.Clone()
	next.BGP.Enabled = false

	changes, err := Diff(prev, next, DiffOptions{})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}

	expected := []string{"remove:bgp:bgp", "remove:bgp_peer:203.0.113.1"}
	if len(changes) != len(expected) {
		t.Fatalf("Expected %v, got: %v", expected, kinds(changes))
	}
	for i, id := range expected {
		if changes[i].ID() != id {
			t.Errorf("Expected %s at %d, got: %s", id, i, changes[i].ID())
		}
	}

	peer := changes[1].Value().(BGPPeerEntity)
	if peer.ASN != 65000 {
		t.Errorf("Expected peer to carry ASN 65000, got: %d", peer.ASN)
	}
}

func TestDiff_OSPFRouterIDFallback(t *testing.T) {
	prev := baseConfig()
	prev.BGP = config.BGPConfig{Enabled: true, ASN: 65000, RouterID: "192.0.2.1"}
	prev.OSPF = config.OSPFConfig{Enabled: true}

	next := prev.Clone()
	next.BGP.RouterID = "192.0.2.9"

	changes, err := Diff(prev, next, DiffOptions{})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	op, ok := changes.Find(EntityOSPF, "ospf")
	if !ok {
		t.Fatalf("Expected ospf to change with the fallback router id, got: %v", kinds(changes))
	}
	if !op.Action.(Modify).Changed("router_id") {
		t.Errorf("Expected router_id change, got: %+v", op.Action)
	}
}

func loadRegistry(t *testing.T) *modules.Registry {
	t.Helper()
	reg, err := modules.LoadDir("../modules/testdata")
	if err != nil {
		t.Fatalf("Failed to load module definitions: %v", err)
	}
	return reg
}

func natModule(enabled bool, mappings ...map[string]interface{}) config.ModuleInstance {
	items := make([]interface{}, 0, len(mappings))
	for _, m := range mappings {
		items = append(items, m)
	}
	return config.ModuleInstance{
		Name:    "nat",
		Enabled: enabled,
		Config:  map[string]interface{}{"mappings": items},
	}
}

func mapping(src, pool string) map[string]interface{} {
	return map[string]interface{}{"source_network": src, "nat_pool": pool}
}

func TestDiff_ModuleEntries(t *testing.T) {
	reg := loadRegistry(t)

	prev := baseConfig()
	prev.Modules = []config.ModuleInstance{natModule(true, mapping("10.0.0.0/24", "198.51.100.0/28"))}
	next := prev.Clone()
	next.Modules = []config.ModuleInstance{natModule(true,
		mapping("10.0.0.0/24", "198.51.100.0/28"),
		mapping("10.1.0.0/24", "198.51.100.16/28"),
	)}

	changes, err := Diff(prev, next, DiffOptions{Registry: reg})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("Expected a single module entry change, got: %v", kinds(changes))
	}
	op := changes[0]
	if op.ID() != "add:module_entry:nat/mappings/10.1.0.0/24" {
		t.Errorf("Unexpected operation: %s", op.ID())
	}
	entry := op.Value().(ModuleEntryEntity)
	if entry.Definition == nil || entry.Field != "mappings" {
		t.Errorf("Expected entry bound to the nat definition, got: %+v", entry)
	}
}

func TestDiff_ModuleEnableIsModuleChange(t *testing.T) {
	reg := loadRegistry(t)

	prev := baseConfig()
	prev.Modules = []config.ModuleInstance{natModule(false, mapping("10.0.0.0/24", "198.51.100.0/28"))}
	next := prev.Clone()
	next.Modules[0].Enabled = true

	changes, err := Diff(prev, next, DiffOptions{Registry: reg})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	op, ok := changes.Find(EntityModule, "nat")
	if !ok {
		t.Fatalf("Expected module change, got: %v", kinds(changes))
	}
	if !op.Action.(Modify).Changed("enabled") {
		t.Errorf("Expected enabled change, got: %+v", op.Action)
	}
	if _, ok := changes.Find(EntityModuleEntry, "nat/mappings/10.0.0.0/24"); ok {
		t.Error("Expected no entry operations for a module that was not running")
	}
}

func TestDiff_Allocations(t *testing.T) {
	reg := loadRegistry(t)
	topo := alloc.Topology{TotalCores: 8}

	prev := baseConfig()
	next := prev.Clone()
	next.Modules = []config.ModuleInstance{natModule(true)}

	changes, err := Diff(prev, next, DiffOptions{Registry: reg, Topology: topo})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if _, ok := changes.Find(EntityModule, "nat"); !ok {
		t.Errorf("Expected module nat to be added, got: %v", kinds(changes))
	}
	for _, entity := range []EntityType{EntityCPU, EntityMemif} {
		if _, ok := changes.Find(entity, "allocation"); !ok {
			t.Errorf("Expected %s reallocation, got: %v", entity, kinds(changes))
		}
	}
	cpu, _ := changes.Find(EntityCPU, "allocation")
	if cpu.Action.Kind() != ActionModify {
		t.Errorf("Expected allocation change to be a modify, got: %s", cpu.Action.Kind())
	}

	same, err := Diff(next, next.Clone(), DiffOptions{Registry: reg, Topology: topo})
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if !same.IsEmpty() {
		t.Errorf("Expected no changes, got: %v", kinds(same))
	}
}
