package alloc

import (
	"github.com/justindthomas/imp/pkg/modules"
)

// Allocation is every derived resource assignment for one apply cycle.
type Allocation struct {
	CPU   *CPUAllocation    `json:"cpu"`
	Memif []MemifAllocation `json:"memif"`
}

// Requests derives allocator input from resolved module instances.
func Requests(instances []modules.Instance) ([]CoreRequest, []MemifRequest) {
	cores := make([]CoreRequest, 0, len(instances))
	memifs := make([]MemifRequest, 0, len(instances))
	for _, inst := range instances {
		cores = append(cores, CoreRequest{
			Module:     inst.Name,
			MinCores:   inst.Definition.CPU.MinCores,
			IdealCores: inst.Definition.CPU.IdealCores,
		})
		memifs = append(memifs, MemifRequest{
			Module:      inst.Name,
			Connections: inst.Definition.ConnectionNames(),
		})
	}
	return cores, memifs
}

// Allocate computes CPU and memif assignments for the enabled module
// instances on topo. It holds no state: identical inputs give identical
// results.
func Allocate(topo Topology, instances []modules.Instance) (*Allocation, error) {
	cores, memifs := Requests(instances)

	cpu, err := AllocateCPU(topo, cores)
	if err != nil {
		return nil, err
	}
	links, err := AllocateMemif(memifs)
	if err != nil {
		return nil, err
	}
	return &Allocation{CPU: cpu, Memif: links}, nil
}
