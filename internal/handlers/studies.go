package handlers

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"dicom-router/internal/common/errors"
)

const (
	defaultDispatchLimit = 50
	maxDispatchLimit     = 1000
)

// RouteStudy routes one study immediately
func (h *Handlers) RouteStudy(w http.ResponseWriter, r *http.Request) {
	studyID := mux.Vars(r)["id"]
	if studyID == "" {
		http.Error(w, "Study ID is required", http.StatusBadRequest)
		return
	}

	dryRun := false
	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "Invalid dry_run value", http.StatusBadRequest)
			return
		}
		dryRun = parsed
	}

	result, err := h.engine.RouteStudy(r.Context(), studyID, dryRun)
	if err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) && appErr.Code == strconv.Itoa(http.StatusNotFound) {
			http.Error(w, "Study not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Manual routing failed", err)
		http.Error(w, "Failed to route study: "+err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListDestinations lists the destinations configured in the archive
func (h *Handlers) ListDestinations(w http.ResponseWriter, r *http.Request) {
	names, err := h.destinations.ListDestinations(r.Context())
	if err != nil {
		h.logger.Error("Failed to list destinations", err)
		http.Error(w, "Failed to list destinations", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// ListDispatches returns the newest dispatch audit records
func (h *Handlers) ListDispatches(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		http.Error(w, "Dispatch audit log is disabled", http.StatusNotFound)
		return
	}

	limit := defaultDispatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxDispatchLimit {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := h.audit.RecentDispatches(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read dispatch log", err)
		http.Error(w, "Failed to read dispatch log", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
