package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/justindthomas/imp/pkg/engine"
	"github.com/justindthomas/imp/pkg/stores"
)

// Runs serves the apply history.
type Runs struct {
	history History
}

func (h Runs) Router(router *mux.Router) {
	router.HandleFunc("/runs", h.List).Methods("GET")
	router.HandleFunc("/runs/{id}", h.Get).Methods("GET")
}

// List returns recorded cycles, newest first. Query parameters: limit,
// offset, state and dry_run.
func (h Runs) List(w http.ResponseWriter, r *http.Request) {
	limit, err := GetQueryInt(r, "limit", 50)
	if err != nil {
		ResponseError(w, http.StatusBadRequest, engine.ErrCodeValidation, err.Error())
		return
	}
	offset, err := GetQueryInt(r, "offset", 0)
	if err != nil {
		ResponseError(w, http.StatusBadRequest, engine.ErrCodeValidation, err.Error())
		return
	}
	dryRuns, err := GetQueryBool(r, "dry_run")
	if err != nil {
		ResponseError(w, http.StatusBadRequest, engine.ErrCodeValidation, err.Error())
		return
	}

	filter := stores.CycleFilter{Limit: limit, Offset: offset, IncludeDryRuns: dryRuns}
	if v := GetQueryOne(r, "state"); v != "" {
		state := engine.CycleState(v)
		if err := state.Validate(); err != nil {
			ResponseError(w, http.StatusBadRequest, engine.ErrCodeValidation, err.Error())
			return
		}
		filter.State = &state
	}

	cycles, err := h.history.ListCycles(r.Context(), filter)
	if err != nil {
		ResponseErr(w, err)
		return
	}
	if cycles == nil {
		cycles = []*stores.CycleRecord{}
	}
	ResponseJson(w, cycles)
}

// Get returns one cycle with its report and outcomes.
func (h Runs) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cycle, err := h.history.GetCycle(r.Context(), id)
	if err != nil {
		ResponseErr(w, err)
		return
	}
	ResponseJson(w, cycle)
}
