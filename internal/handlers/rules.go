package handlers

import (
	stderrors "errors"
	"io"
	"net/http"

	"dicom-router/internal/common/logging"
)

// HandleRules serves the rule administration endpoint
func (h *Handlers) HandleRules(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Method == http.MethodPost {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxAdminBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if stderrors.As(err, &tooLarge) {
				http.Error(w, "Rule set exceeds the size limit", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
	}

	resp := h.engine.OnAdministrationRequest(r.Context(), r.Method, body)
	if resp.StatusCode != http.StatusOK && r.Method == http.MethodPost {
		h.logger.Warn("Rule update refused",
			logging.Field{Key: "status", Value: resp.StatusCode},
			logging.Field{Key: "remote_addr", Value: r.RemoteAddr},
		)
	}

	if resp.Allow != "" {
		w.Header().Set("Allow", resp.Allow)
	}
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
