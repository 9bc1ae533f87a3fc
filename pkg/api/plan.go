package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/engine"
)

// Plan serves dry-run cycles against the applied configuration.
type Plan struct {
	planner Planner
	applied ConfigSource
	staged  ConfigSource
}

func (h Plan) Router(router *mux.Router) {
	router.HandleFunc("/plan", h.Staged).Methods("GET")
	router.HandleFunc("/plan", h.Candidate).Methods("POST")
}

// Staged plans the staged configuration. ?format=dot returns the plan as
// a Graphviz graph.
func (h Plan) Staged(w http.ResponseWriter, r *http.Request) {
	if h.staged == nil {
		ResponseError(w, http.StatusNotFound, "NOT_FOUND", "no staged configuration source")
		return
	}
	next, err := h.staged.Load(r.Context())
	if err != nil {
		ResponseErr(w, err)
		return
	}
	h.plan(w, r, next)
}

// Candidate plans the configuration in the request body.
func (h Plan) Candidate(w http.ResponseWriter, r *http.Request) {
	body, err := GetBody(r)
	if err != nil {
		ResponseError(w, http.StatusBadRequest, engine.ErrCodeValidation, err.Error())
		return
	}
	next, err := config.Parse(body)
	if err != nil {
		ResponseError(w, http.StatusUnprocessableEntity, engine.ErrCodeValidation, err.Error())
		return
	}
	h.plan(w, r, next)
}

func (h Plan) plan(w http.ResponseWriter, r *http.Request, next *config.RouterConfig) {
	prev, err := h.applied.Load(r.Context())
	if err != nil {
		ResponseErr(w, err)
		return
	}

	result, err := h.planner.Plan(r.Context(), prev, next)
	if err != nil {
		if result == nil || result.ID == "" {
			ResponseErr(w, err)
			return
		}
		status, _ := errorStatus(err)
		ResponseJsonStatus(w, status, result)
		return
	}

	if GetQueryOne(r, "format") == "dot" && result.Plan != nil {
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		_, _ = w.Write([]byte(result.Plan.ToDOT(result.Steps)))
		return
	}
	ResponseJson(w, result)
}
