package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/justindthomas/imp/pkg/engine"
	"github.com/justindthomas/imp/pkg/telemetry"
)

// EventSource holds recent telemetry events.
type EventSource interface {
	Recent(limit int, filter telemetry.EventFilter) []telemetry.Event
}

// Events serves recent cycle and staged-file events.
type Events struct {
	source EventSource
}

func (h Events) Router(router *mux.Router) {
	router.HandleFunc("/events", h.List).Methods("GET")
}

// List returns events newest first. Query parameters: limit, cycle_id and
// level (the minimum level).
func (h Events) List(w http.ResponseWriter, r *http.Request) {
	limit, err := GetQueryInt(r, "limit", 100)
	if err != nil {
		ResponseError(w, http.StatusBadRequest, engine.ErrCodeValidation, err.Error())
		return
	}

	var filters []telemetry.EventFilter
	if id := GetQueryOne(r, "cycle_id"); id != "" {
		filters = append(filters, telemetry.FilterByCycleID(id))
	}
	switch level := GetQueryOne(r, "level"); level {
	case "":
	case telemetry.EventLevelInfo, telemetry.EventLevelWarning, telemetry.EventLevelError:
		filters = append(filters, telemetry.FilterByLevel(level))
	default:
		ResponseError(w, http.StatusBadRequest, engine.ErrCodeValidation, "invalid level "+level)
		return
	}

	ResponseJson(w, h.source.Recent(limit, func(e telemetry.Event) bool {
		for _, f := range filters {
			if !f(e) {
				return false
			}
		}
		return true
	}))
}
