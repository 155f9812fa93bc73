package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quarrylabs/kbindex/internal/core"
)

type SearchHandler struct {
	store    core.Datastore
	embedder core.EmbeddingProvider
}

func NewSearchHandler(store core.Datastore, emb core.EmbeddingProvider) *SearchHandler {
	return &SearchHandler{store: store, embedder: emb}
}

type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Search embeds the query text and returns the nearest chunks across all
// collections.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	vecs, err := h.embedder.EmbedTexts(ctx, []string{req.Query})
	if err != nil || len(vecs) == 0 {
		http.Error(w, fmt.Sprintf("embedding failed: %v", err), http.StatusInternalServerError)
		return
	}

	results, err := h.store.SearchChunks(ctx, vecs[0], req.TopK)
	if err != nil {
		http.Error(w, fmt.Sprintf("search failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
}
