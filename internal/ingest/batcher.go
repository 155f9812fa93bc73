package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/quarrylabs/kbindex/internal/core"
)

// BatcherConfig tunes the embedding batcher.
//
// MaxBatchSize: upper bound on texts per embedding call, dictated by the
// provider's limits. MaxAttempts/BaseDelay: retry policy for transient
// failures. RateLimit: embedding requests per second (0 = unlimited).
// EmbedDim: expected vector dimensionality (0 = accept the model default,
// but still require it to be uniform).
type BatcherConfig struct {
	MaxBatchSize int
	MaxAttempts  int
	BaseDelay    time.Duration
	RateLimit    float64
	CallTimeout  time.Duration
	EmbedDim     int
}

// EmbeddingBatcher groups texts into provider-sized batches, invokes the
// embedding collaborator once per batch with retry on transient failure, and
// returns vectors in submission order. If any batch fails after retries the
// whole call fails: callers must not persist a partially embedded document.
type EmbeddingBatcher struct {
	embedder core.EmbeddingProvider
	log      *slog.Logger
	cfg      BatcherConfig
	limiter  *rate.Limiter

	calls         atomic.Int64
	batchFailures atomic.Int64
}

func NewEmbeddingBatcher(embedder core.EmbeddingProvider, log *slog.Logger, cfg BatcherConfig) *EmbeddingBatcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 16
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = time.Minute
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &EmbeddingBatcher{embedder: embedder, log: log, cfg: cfg, limiter: limiter}
}

// Embed returns one vector per text, index-aligned with the input. Vectors
// are re-associated by position within each submitted batch.
func (b *EmbeddingBatcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.cfg.MaxBatchSize {
		end := min(start+b.cfg.MaxBatchSize, len(texts))
		vecs, err := b.embedBatch(ctx, texts[start:end])
		if err != nil {
			b.batchFailures.Add(1)
			return nil, fmt.Errorf("embed batch [%d:%d): %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (b *EmbeddingBatcher) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vecs [][]float32
	err := retryWithBackoff(ctx, func() error {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()

		b.calls.Add(1)
		got, err := b.embedder.EmbedTexts(callCtx, batch)
		if err != nil {
			b.log.Debug("embedding call failed", "batch_size", len(batch), "error", err)
			return err
		}
		if len(got) != len(batch) {
			return fmt.Errorf("embedder returned %d vectors for %d texts: %w",
				len(got), len(batch), core.ErrInvariantViolation)
		}
		for i, v := range got {
			if b.cfg.EmbedDim > 0 && len(v) != b.cfg.EmbedDim {
				return fmt.Errorf("vector %d has dimension %d, want %d: %w",
					i, len(v), b.cfg.EmbedDim, core.ErrInvariantViolation)
			}
		}
		vecs = got
		return nil
	}, b.cfg.MaxAttempts, b.cfg.BaseDelay)
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// Counters returns the running totals of embedding calls made and batches
// that failed after exhausting retries.
func (b *EmbeddingBatcher) Counters() (calls, batchFailures int64) {
	return b.calls.Load(), b.batchFailures.Load()
}
