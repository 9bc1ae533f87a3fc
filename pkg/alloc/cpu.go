package alloc

import (
	"fmt"
)

// Topology is the host hardware the allocator packs into.
type Topology struct {
	// TotalCores is the number of logical CPUs, core 0 included.
	TotalCores int `json:"total_cores"`
}

// CoreRequest is one enabled module's core demand.
type CoreRequest struct {
	Module     string
	MinCores   int
	IdealCores int
}

// ModuleCores are the dedicated cores assigned to one module instance.
// A module with no cores runs its threads unpinned.
type ModuleCores struct {
	Module  string `json:"module"`
	Main    int    `json:"main_core,omitempty"`
	Workers []int  `json:"workers,omitempty"`
}

// Corelist returns the worker cores in corelist notation.
func (m ModuleCores) Corelist() string { return CompactCorelist(m.Workers) }

// Count returns the number of dedicated cores.
func (m ModuleCores) Count() int {
	if m.Main == 0 {
		return 0
	}
	return 1 + len(m.Workers)
}

// CPUAllocation is the core layout for one apply cycle.
type CPUAllocation struct {
	TotalCores int `json:"total_cores"`

	// CoreMain is the main thread core of the core dataplane.
	CoreMain int `json:"core_main"`

	// CoreWorkers are the worker cores of the core dataplane.
	CoreWorkers []int `json:"core_workers,omitempty"`

	// ModulePool is every core set aside for module instances.
	ModulePool []int `json:"module_pool,omitempty"`

	// Modules are the per-module assignments drawn from ModulePool,
	// in request order.
	Modules []ModuleCores `json:"modules,omitempty"`
}

// CoreWorkerList returns the core worker cores in corelist notation.
func (a *CPUAllocation) CoreWorkerList() string { return CompactCorelist(a.CoreWorkers) }

// ModuleMain returns the first core of the module pool, or 0.
func (a *CPUAllocation) ModuleMain() int {
	if len(a.ModulePool) == 0 {
		return 0
	}
	return a.ModulePool[0]
}

// ModuleWorkers returns the rest of the module pool.
func (a *CPUAllocation) ModuleWorkers() []int {
	if len(a.ModulePool) < 2 {
		return nil
	}
	return a.ModulePool[1:]
}

// ForModule returns the assignment for a module.
func (a *CPUAllocation) ForModule(name string) (ModuleCores, bool) {
	for _, m := range a.Modules {
		if m.Module == name {
			return m, true
		}
	}
	return ModuleCores{}, false
}

// AllocateCPU lays out cores for the core dataplane and the requested
// modules. Core 0 is left to the host kernel. The split depends only on
// TotalCores:
//
//	<=2  main 1, no workers, no module cores
//	<=4  main 1, workers 2..total-1, no module cores
//	<=8  main 1, workers 2..total-3, module pool total-2..total-1
//	>8   main 1, workers 2..p, module pool p+1..total-1 where p = floor(0.6*(total-1))
//
// Each module is first given its minimum, then topped up towards its ideal
// count in request order. A main core is always the lowest core handed to a
// module. ExhaustionError is returned if the minimums do not fit.
func AllocateCPU(topo Topology, requests []CoreRequest) (*CPUAllocation, error) {
	total := topo.TotalCores
	if total < 1 {
		return nil, fmt.Errorf("invalid topology: %d cores", total)
	}

	a := &CPUAllocation{TotalCores: total, CoreMain: 1}
	switch {
	case total == 1:
		a.CoreMain = 0
	case total <= 2:
	case total <= 4:
		a.CoreWorkers = span(2, total-1)
	case total <= 8:
		a.CoreWorkers = span(2, total-3)
		a.ModulePool = span(total-2, total-1)
	default:
		primary := (total - 1) * 6 / 10
		a.CoreWorkers = span(2, primary)
		a.ModulePool = span(primary+1, total-1)
	}

	mods, err := packModules(a.ModulePool, requests)
	if err != nil {
		return nil, err
	}
	a.Modules = mods
	return a, nil
}

func packModules(pool []int, requests []CoreRequest) ([]ModuleCores, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	counts := make([]int, len(requests))
	remaining := len(pool)
	for i, r := range requests {
		if r.MinCores > remaining {
			need := 0
			for _, rr := range requests {
				need += rr.MinCores
			}
			return nil, &ExhaustionError{
				Resource:  ResourceCPU,
				Module:    r.Module,
				Requested: need,
				Available: len(pool),
			}
		}
		counts[i] = r.MinCores
		remaining -= r.MinCores
	}
	for i, r := range requests {
		if remaining == 0 {
			break
		}
		extra := r.IdealCores - counts[i]
		if extra <= 0 {
			continue
		}
		if extra > remaining {
			extra = remaining
		}
		counts[i] += extra
		remaining -= extra
	}

	out := make([]ModuleCores, len(requests))
	next := 0
	for i, r := range requests {
		mc := ModuleCores{Module: r.Module}
		if counts[i] > 0 {
			mc.Main = pool[next]
			if counts[i] > 1 {
				mc.Workers = append([]int(nil), pool[next+1:next+counts[i]]...)
			}
			next += counts[i]
		}
		out[i] = mc
	}
	return out, nil
}
