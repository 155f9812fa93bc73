package core

import "context"

// EmbeddingProvider computes fixed-dimension vectors for a batch of texts.
// The returned slice has the same length and order as texts.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMProvider generates an answer from a system and user prompt.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}
