package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/quarrylabs/kbindex/internal/core"
	"github.com/quarrylabs/kbindex/internal/core/objectstore"
)

type DocumentHandler struct {
	store       core.Datastore
	objects     core.ObjectStore
	runner      IngestRunner
	collections []string
}

func NewDocumentHandler(store core.Datastore, objects core.ObjectStore, runner IngestRunner, collections []string) *DocumentHandler {
	return &DocumentHandler{store: store, objects: objects, runner: runner, collections: collections}
}

// Upload stores a document into a collection and kicks off an ingestion run
// so it becomes searchable.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	collection := r.FormValue("collection")
	if !slices.Contains(h.collections, collection) {
		http.Error(w, fmt.Sprintf("unknown collection %q", collection), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload failed", http.StatusInternalServerError)
		return
	}

	contentType := objectstore.MimeHintForPath(header.Filename)
	if err := h.objects.UploadFile(ctx, collection, header.Filename, data, contentType); err != nil {
		http.Error(w, fmt.Sprintf("upload failed: %v", err), http.StatusInternalServerError)
		return
	}

	// Best effort; if a run is already active the new file is picked up by
	// the next one.
	started := h.runner.StartRun(false)

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"collection":  collection,
		"path":        header.Filename,
		"run_started": started,
	})
}

// ListArticles returns the indexed articles of one collection.
func (h *DocumentHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	articles, err := h.store.ListArticles(r.Context(), collection)
	if err != nil {
		http.Error(w, fmt.Sprintf("list failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"articles": articles})
}
