package handlers

import (
	"fmt"
	"net/http"

	"dicom-router/internal/purge"
)

// PurgeOldStudies deletes every study dated on or before ?since=YYYYMMDD
func (h *Handlers) PurgeOldStudies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	since := r.URL.Query().Get("since")
	if err := purge.ValidateDate(since); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	deleted, err := h.purge.PurgeBefore(r.Context(), since)
	if err != nil {
		h.logger.Error("Purge failed", err)
		http.Error(w, "Unknown error occurred. Error message was: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Successfully deleted %d studies", deleted)
}
