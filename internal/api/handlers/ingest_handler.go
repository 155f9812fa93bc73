package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/quarrylabs/kbindex/internal/models"
)

// IngestRunner starts background ingestion runs and reports the most recent
// summary. Implemented by the app.
type IngestRunner interface {
	// StartRun begins an asynchronous run; false if one is already running.
	StartRun(fullReindex bool) bool
	// Status returns the last finished summary (nil if none yet) and whether
	// a run is currently in progress.
	Status() (*models.RunSummary, bool)
}

type IngestHandler struct {
	runner IngestRunner
}

func NewIngestHandler(runner IngestRunner) *IngestHandler {
	return &IngestHandler{runner: runner}
}

// Run triggers an ingestion pass. ?full=true clears the fingerprint
// bookkeeping first so everything reprocesses.
func (h *IngestHandler) Run(w http.ResponseWriter, r *http.Request) {
	full := r.URL.Query().Get("full") == "true"

	if !h.runner.StartRun(full) {
		http.Error(w, "an ingestion run is already in progress", http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"started": true, "full": full})
}

func (h *IngestHandler) Status(w http.ResponseWriter, r *http.Request) {
	last, running := h.runner.Status()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"running":  running,
		"last_run": last,
	})
}
