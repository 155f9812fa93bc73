package ingest

import (
	"fmt"
	"strings"
)

// ChunkCandidate is one token window produced by the chunker, not yet
// embedded or persisted.
type ChunkCandidate struct {
	Position   int
	Text       string
	TokenCount int
}

// Chunker splits normalized text into overlapping token-bounded windows.
// Tokens are whitespace-delimited words, which keeps the split deterministic
// for identical input.
type Chunker struct {
	targetTokens  int
	overlapTokens int
}

func NewChunker(targetTokens, overlapTokens int) (*Chunker, error) {
	if targetTokens <= 0 {
		return nil, fmt.Errorf("targetTokens must be > 0, got %d", targetTokens)
	}
	if overlapTokens < 0 || overlapTokens >= targetTokens {
		return nil, fmt.Errorf("overlapTokens must be in [0, %d), got %d", targetTokens, overlapTokens)
	}
	return &Chunker{targetTokens: targetTokens, overlapTokens: overlapTokens}, nil
}

// Chunk emits windows of targetTokens tokens advancing by
// (targetTokens - overlapTokens) per step. The final window may be shorter
// but always holds at least one token; empty text yields no chunks.
func (c *Chunker) Chunk(text string) []ChunkCandidate {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}

	step := c.targetTokens - c.overlapTokens
	out := make([]ChunkCandidate, 0, len(tokens)/step+1)

	for start := 0; start < len(tokens); start += step {
		end := min(start+c.targetTokens, len(tokens))
		out = append(out, ChunkCandidate{
			Position:   len(out),
			Text:       strings.Join(tokens[start:end], " "),
			TokenCount: end - start,
		})
		if end == len(tokens) {
			break
		}
	}
	return out
}
