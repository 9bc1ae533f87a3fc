package alloc

import (
	"reflect"
	"strings"
	"testing"
)

func TestExpandCompactCorelist(t *testing.T) {
	tests := []struct {
		spec    string
		cores   []int
		compact string
	}{
		{"", nil, ""},
		{"2", []int{2}, "2"},
		{"2-5", []int{2, 3, 4, 5}, "2-5"},
		{"2-3,7,9-10", []int{2, 3, 7, 9, 10}, "2-3,7,9-10"},
		{"5,2-3,3", []int{2, 3, 5}, "2-3,5"},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ExpandCorelist(tt.spec)
			if err != nil {
				t.Fatalf("ExpandCorelist failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.cores) {
				t.Errorf("Expected %v, got: %v", tt.cores, got)
			}
			if c := CompactCorelist(got); c != tt.compact {
				t.Errorf("Expected compact %q, got: %q", tt.compact, c)
			}
		})
	}

	if _, err := ExpandCorelist("5-2"); err == nil {
		t.Error("Expected error for descending range")
	}
	if _, err := ExpandCorelist("a"); err == nil {
		t.Error("Expected error for non-numeric value")
	}
}

func TestAllocateCPU_Tiers(t *testing.T) {
	nat := []CoreRequest{{Module: "nat", MinCores: 0, IdealCores: 6}}

	tests := []struct {
		total         int
		workers       string
		moduleMain    int
		moduleWorkers string
	}{
		{total: 2, workers: "", moduleMain: 0, moduleWorkers: ""},
		{total: 3, workers: "2", moduleMain: 0, moduleWorkers: ""},
		{total: 4, workers: "2-3", moduleMain: 0, moduleWorkers: ""},
		{total: 8, workers: "2-5", moduleMain: 6, moduleWorkers: "7"},
		{total: 16, workers: "2-9", moduleMain: 10, moduleWorkers: "11-15"},
	}

	for _, tt := range tests {
		t.Run(strings.Repeat("c", tt.total), func(t *testing.T) {
			a, err := AllocateCPU(Topology{TotalCores: tt.total}, nat)
			if err != nil {
				t.Fatalf("AllocateCPU failed: %v", err)
			}
			if a.CoreMain != 1 {
				t.Errorf("Expected core main 1, got: %d", a.CoreMain)
			}
			if got := a.CoreWorkerList(); got != tt.workers {
				t.Errorf("Expected core workers %q, got: %q", tt.workers, got)
			}
			if got := a.ModuleMain(); got != tt.moduleMain {
				t.Errorf("Expected module main %d, got: %d", tt.moduleMain, got)
			}
			if got := CompactCorelist(a.ModuleWorkers()); got != tt.moduleWorkers {
				t.Errorf("Expected module workers %q, got: %q", tt.moduleWorkers, got)
			}

			mc, ok := a.ForModule("nat")
			if !ok {
				t.Fatal("Expected nat assignment")
			}
			if mc.Main != tt.moduleMain {
				t.Errorf("Expected nat main %d, got: %d", tt.moduleMain, mc.Main)
			}
			if got := mc.Corelist(); got != tt.moduleWorkers {
				t.Errorf("Expected nat workers %q, got: %q", tt.moduleWorkers, got)
			}

			assertNoOverlap(t, a)
		})
	}
}

func TestAllocateCPU_NoOverlapManyModules(t *testing.T) {
	requests := []CoreRequest{
		{Module: "nat", MinCores: 1, IdealCores: 2},
		{Module: "ids", MinCores: 1, IdealCores: 4},
		{Module: "sflow", MinCores: 0, IdealCores: 2},
	}

	for _, total := range []int{2, 3, 4, 8, 16, 32} {
		reqs := requests
		if total <= 4 {
			reqs = []CoreRequest{{Module: "sflow", MinCores: 0, IdealCores: 2}}
		}
		if total == 8 {
			reqs = requests[:2]
		}
		a, err := AllocateCPU(Topology{TotalCores: total}, reqs)
		if err != nil {
			t.Fatalf("AllocateCPU(%d) failed: %v", total, err)
		}
		assertNoOverlap(t, a)
	}
}

func TestAllocateCPU_MinimumsFirst(t *testing.T) {
	a, err := AllocateCPU(Topology{TotalCores: 8}, []CoreRequest{
		{Module: "ids", MinCores: 1, IdealCores: 4},
		{Module: "nat", MinCores: 1, IdealCores: 2},
	})
	if err != nil {
		t.Fatalf("AllocateCPU failed: %v", err)
	}

	ids, _ := a.ForModule("ids")
	nat, _ := a.ForModule("nat")
	if ids.Main != 6 || len(ids.Workers) != 0 {
		t.Errorf("Expected ids main 6 without workers, got: %+v", ids)
	}
	if nat.Main != 7 {
		t.Errorf("Expected nat main 7, got: %+v", nat)
	}
}

func TestAllocateCPU_Exhaustion(t *testing.T) {
	_, err := AllocateCPU(Topology{TotalCores: 4}, []CoreRequest{{Module: "nat", MinCores: 1, IdealCores: 2}})
	if err == nil {
		t.Fatal("Expected exhaustion on 4 cores")
	}
	if !IsExhaustion(err) {
		t.Fatalf("Expected *ExhaustionError, got: %T", err)
	}

	_, err = AllocateCPU(Topology{TotalCores: 8}, []CoreRequest{
		{Module: "nat", MinCores: 2, IdealCores: 2},
		{Module: "ids", MinCores: 1, IdealCores: 1},
	})
	if !IsExhaustion(err) {
		t.Fatalf("Expected exhaustion when minimums exceed the pool, got: %v", err)
	}
}

func TestAllocateCPU_Deterministic(t *testing.T) {
	reqs := []CoreRequest{{Module: "nat", IdealCores: 2}, {Module: "ids", IdealCores: 3}}
	first, err := AllocateCPU(Topology{TotalCores: 16}, reqs)
	if err != nil {
		t.Fatalf("AllocateCPU failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := AllocateCPU(Topology{TotalCores: 16}, reqs)
		if err != nil {
			t.Fatalf("AllocateCPU failed: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("Expected identical allocations, got %+v and %+v", first, again)
		}
	}
}

func TestAllocateMemif(t *testing.T) {
	links, err := AllocateMemif([]MemifRequest{
		{Module: "nat", Connections: []string{"inside", "outside"}},
		{Module: "ids", Connections: []string{"tap"}},
	})
	if err != nil {
		t.Fatalf("AllocateMemif failed: %v", err)
	}
	if len(links) != 3 {
		t.Fatalf("Expected 3 links, got: %d", len(links))
	}

	want := []MemifAllocation{
		{Module: "nat", Connection: "inside", SocketID: 1, SocketPath: "/run/vpp/memif-nat-inside.sock", CoreIP: "169.254.1.0", ModuleIP: "169.254.1.1", Prefix: 31},
		{Module: "nat", Connection: "outside", SocketID: 2, SocketPath: "/run/vpp/memif-nat-outside.sock", CoreIP: "169.254.1.2", ModuleIP: "169.254.1.3", Prefix: 31},
		{Module: "ids", Connection: "tap", SocketID: 3, SocketPath: "/run/vpp/memif-ids-tap.sock", CoreIP: "169.254.1.4", ModuleIP: "169.254.1.5", Prefix: 31},
	}
	if !reflect.DeepEqual(links, want) {
		t.Errorf("Expected %+v, got: %+v", want, links)
	}

	seen := make(map[string]bool)
	for _, l := range links {
		for _, ip := range []string{l.CoreIP, l.ModuleIP} {
			if seen[ip] {
				t.Errorf("Address %s allocated twice", ip)
			}
			seen[ip] = true
		}
	}
}

func TestAllocateMemif_Exhaustion(t *testing.T) {
	conns := make([]string, MaxMemifConnections+1)
	for i := range conns {
		conns[i] = "c" + strings.Repeat("x", i)
	}
	_, err := AllocateMemif([]MemifRequest{{Module: "big", Connections: conns}})
	if !IsExhaustion(err) {
		t.Fatalf("Expected memif exhaustion, got: %v", err)
	}

	links, err := AllocateMemif([]MemifRequest{{Module: "big", Connections: conns[:MaxMemifConnections]}})
	if err != nil {
		t.Fatalf("AllocateMemif failed: %v", err)
	}
	if last := links[len(links)-1]; last.ModuleIP != "169.254.1.255" {
		t.Errorf("Expected last module address 169.254.1.255, got: %s", last.ModuleIP)
	}
}

func TestCountProcessors(t *testing.T) {
	info := "processor\t: 0\nmodel name\t: x\n\nprocessor\t: 1\nmodel name\t: x\n"
	n, err := CountProcessors(strings.NewReader(info))
	if err != nil {
		t.Fatalf("CountProcessors failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 processors, got: %d", n)
	}

	if topo := DetectTopology(); topo.TotalCores < 1 {
		t.Errorf("Expected at least one core, got: %d", topo.TotalCores)
	}
}

func assertNoOverlap(t *testing.T, a *CPUAllocation) {
	t.Helper()
	used := map[int]string{}
	claim := func(core int, owner string) {
		if core == 0 {
			t.Errorf("%s assigned core 0", owner)
			return
		}
		if core >= a.TotalCores {
			t.Errorf("%s assigned core %d beyond total %d", owner, core, a.TotalCores)
		}
		if prev, ok := used[core]; ok {
			t.Errorf("core %d assigned to both %s and %s", core, prev, owner)
		}
		used[core] = owner
	}

	claim(a.CoreMain, "core main")
	for _, c := range a.CoreWorkers {
		claim(c, "core worker")
	}
	for _, m := range a.Modules {
		if m.Main != 0 {
			claim(m.Main, m.Module)
		}
		for _, c := range m.Workers {
			claim(c, m.Module)
		}
	}
}
