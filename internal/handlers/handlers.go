// Package handlers serves the router's HTTP surface: rule administration, study
// routing and diagnostics, the purge endpoint and health.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"dicom-router/internal/common/logging"
	"dicom-router/internal/purge"
	"dicom-router/internal/routing"
	"dicom-router/internal/storage"
	"dicom-router/internal/triggers"
)

// maxAdminBodySize bounds rule set uploads
const maxAdminBodySize = 1 << 20

// DestinationLister lists the destinations the archive knows about
type DestinationLister interface {
	ListDestinations(ctx context.Context) ([]string, error)
}

// HealthCheck reports a dependency's health
type HealthCheck func() error

type Handlers struct {
	engine       *routing.Engine
	destinations DestinationLister
	audit        storage.DispatchLog
	purge        *purge.Service
	triggers     *triggers.Manager
	checks       map[string]HealthCheck
	logger       logging.Logger
}

// New creates the handlers. audit and triggerManager may be nil when the
// corresponding feature is disabled.
func New(engine *routing.Engine, destinations DestinationLister, audit storage.DispatchLog, purgeService *purge.Service, triggerManager *triggers.Manager, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		engine:       engine,
		destinations: destinations,
		audit:        audit,
		purge:        purgeService,
		triggers:     triggerManager,
		checks:       make(map[string]HealthCheck),
		logger:       logger.WithFields(logging.Field{Key: "component", Value: "handlers"}),
	}
}

// AddHealthCheck registers a dependency reported by /health. Not safe to call
// once the server is serving.
func (h *Handlers) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
