package handlers

import (
	"net/http"
	"sort"
	"time"

	"dicom-router/internal/circuitbreaker"
	"dicom-router/internal/routing"
	"dicom-router/internal/triggers"
)

// StatsResponse is the body of the stats endpoint
type StatsResponse struct {
	Generation  uint64                   `json:"generation"`
	Rules       int                      `json:"rules"`
	ActivatedAt time.Time                `json:"activated_at"`
	Routing     routing.RouterMetrics    `json:"routing"`
	Breakers    []circuitbreaker.Stats   `json:"breakers,omitempty"`
	Triggers    []triggers.TriggerStatus `json:"triggers,omitempty"`
}

// GetStats returns routing counters, breaker states and trigger states
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	set := h.engine.Store().Current()
	stats := StatsResponse{
		Generation:  set.Generation,
		Rules:       set.Len(),
		ActivatedAt: set.ActivatedAt,
		Routing:     h.engine.Metrics(),
		Breakers:    h.engine.Dispatcher().BreakerStats(),
	}
	if h.triggers != nil {
		stats.Triggers = h.triggers.Status()
	}
	writeJSON(w, http.StatusOK, stats)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health reports the router and its dependencies
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Checks: make(map[string]string)}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name](); err != nil {
			resp.Status = "unhealthy"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
