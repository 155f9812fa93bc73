package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/quarrylabs/kbindex/internal/core"
)

type ChatHandler struct {
	store    core.Datastore
	embedder core.EmbeddingProvider
	llm      core.LLMProvider
}

func NewChatHandler(store core.Datastore, emb core.EmbeddingProvider, llm core.LLMProvider) *ChatHandler {
	return &ChatHandler{store: store, embedder: emb, llm: llm}
}

type ChatRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Query answers a question grounded on the top matching chunks from the
// knowledge base.
func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ChatRequest
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

	chunks, err := h.store.SearchChunks(ctx, vecs[0], req.TopK)
	if err != nil {
		http.Error(w, fmt.Sprintf("search failed: %v", err), http.StatusInternalServerError)
		return
	}

	var sb strings.Builder
	for _, res := range chunks {
		sb.WriteString(fmt.Sprintf("[%s] %s\n", res.Title, res.Chunk.Text))
		sb.WriteString("---\n")
	}

	systemPrompt := "You are an assistant answering questions strictly from the provided knowledge base excerpts. If the excerpts do not contain the answer, say so."
	userPrompt := fmt.Sprintf("Excerpts:\n%s\nQuestion: %s", sb.String(), req.Query)

	answer, err := h.llm.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		http.Error(w, fmt.Sprintf("generation failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"answer":  answer,
		"sources": chunks,
	})
}
