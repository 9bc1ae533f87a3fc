package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/justindthomas/imp/pkg/alloc"
	"github.com/justindthomas/imp/pkg/engine"
	"github.com/justindthomas/imp/pkg/modules"
)

// Allocation serves the derived CPU and memif assignments.
type Allocation struct {
	applied  ConfigSource
	staged   ConfigSource
	registry *modules.Registry
	topology alloc.Topology
}

// AllocationView is the allocation of one configuration on the topology.
type AllocationView struct {
	Source     string            `json:"source"`
	Topology   alloc.Topology    `json:"topology"`
	Allocation *alloc.Allocation `json:"allocation"`
}

func (h Allocation) Router(router *mux.Router) {
	router.HandleFunc("/allocation", h.Get).Methods("GET")
}

// Get computes the allocation of the applied configuration, or of the
// staged one with ?source=staged.
func (h Allocation) Get(w http.ResponseWriter, r *http.Request) {
	source := GetQueryOne(r, "source")
	if source == "" {
		source = "applied"
	}

	var src ConfigSource
	switch source {
	case "applied":
		src = h.applied
	case "staged":
		src = h.staged
	}
	if src == nil {
		ResponseError(w, http.StatusBadRequest, engine.ErrCodeValidation, fmt.Sprintf("unknown source %q", source))
		return
	}

	a, err := Allocate(r.Context(), src, h.registry, h.topology)
	if err != nil {
		ResponseErr(w, err)
		return
	}
	ResponseJson(w, &AllocationView{Source: source, Topology: h.topology, Allocation: a})
}

// Allocate loads a configuration from src and allocates its enabled
// modules on topo.
func Allocate(ctx context.Context, src ConfigSource, reg *modules.Registry, topo alloc.Topology) (*alloc.Allocation, error) {
	cfg, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}

	var instances []modules.Instance
	if enabled := cfg.EnabledModules(); len(enabled) > 0 {
		if reg == nil {
			return nil, engine.NewValidationError("modules are enabled but no module definitions are loaded", nil)
		}
		instances, err = reg.Resolve(enabled)
		if err != nil {
			return nil, engine.NewValidationError("failed to resolve modules", err)
		}
	}

	a, err := alloc.Allocate(topo, instances)
	if err != nil {
		if alloc.IsExhaustion(err) {
			return nil, engine.NewResourceExhaustionError("allocation failed", err)
		}
		return nil, engine.NewInternalError("allocation failed", err)
	}
	return a, nil
}
