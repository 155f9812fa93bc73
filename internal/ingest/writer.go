package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quarrylabs/kbindex/internal/core"
	"github.com/quarrylabs/kbindex/internal/models"
)

// CommitRequest carries everything needed to replace an article's indexed
// state. Vectors is index-aligned with Chunks.
type CommitRequest struct {
	Collection  string
	Path        string
	Title       string
	ContentHash string
	Chunks      []ChunkCandidate
	Vectors     [][]float32
}

// IndexWriter commits an article and its chunk set with atomic visibility.
//
// New chunks are written under a fresh generation, the article's active
// generation pointer is swapped with a compare-and-swap, and only then are
// stale generations deleted. A reader therefore always resolves to one
// complete chunk set, even if the writer dies between any two steps.
type IndexWriter struct {
	store          core.Datastore
	log            *slog.Logger
	maxAttempts    int
	baseDelay      time.Duration
	attemptTimeout time.Duration
}

func NewIndexWriter(store core.Datastore, log *slog.Logger, maxAttempts int, baseDelay, attemptTimeout time.Duration) *IndexWriter {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if attemptTimeout <= 0 {
		attemptTimeout = time.Minute
	}
	return &IndexWriter{store: store, log: log, maxAttempts: maxAttempts, baseDelay: baseDelay, attemptTimeout: attemptTimeout}
}

// Commit replaces the complete prior state for the article identified by
// (Collection, Path). On swap contention or transient store failure the
// whole commit is retried; chunk content is deterministic so the retry is
// idempotent. If retries are exhausted the prior generation remains
// authoritative and the error is returned.
func (w *IndexWriter) Commit(ctx context.Context, req CommitRequest) (*models.Article, error) {
	if len(req.Vectors) != len(req.Chunks) {
		return nil, fmt.Errorf("%d vectors for %d chunks: %w",
			len(req.Vectors), len(req.Chunks), core.ErrInvariantViolation)
	}

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Each attempt carries its own deadline so a stalled datastore call
		// cannot pin a worker; expiry is transient and the attempt is retried.
		attemptCtx, cancel := context.WithTimeout(ctx, w.attemptTimeout)
		a, err := w.commitOnce(attemptCtx, req)
		cancel()
		if err == nil {
			return a, nil
		}
		lastErr = err
		if !errors.Is(err, core.ErrCommitConflict) && !core.IsTransient(err) {
			return nil, err
		}
		if attempt == w.maxAttempts {
			break
		}

		w.log.Warn("commit attempt failed, retrying",
			"collection", req.Collection, "path", req.Path, "attempt", attempt, "error", err)

		delay := w.baseDelay << (attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("commit %s/%s after %d attempts: %w", req.Collection, req.Path, w.maxAttempts, lastErr)
}

func (w *IndexWriter) commitOnce(ctx context.Context, req CommitRequest) (*models.Article, error) {
	a, err := w.store.GetArticle(ctx, req.Collection, req.Path)
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	if a == nil {
		a = &models.Article{
			ID:         uuid.NewString(),
			Collection: req.Collection,
			SourcePath: req.Path,
			Title:      req.Title,
		}
		if err := w.store.UpsertArticle(ctx, a); err != nil {
			return nil, fmt.Errorf("create article: %w", err)
		}
		// A concurrent writer may have created the row first; re-read so we
		// hold the canonical id and generation.
		cur, err := w.store.GetArticle(ctx, req.Collection, req.Path)
		if err != nil {
			return nil, fmt.Errorf("reread article: %w", err)
		}
		if cur != nil {
			a = cur
		}
	}

	newGen := a.ActiveGeneration + 1
	now := time.Now().UTC()

	// An interrupted earlier attempt may have left rows under this
	// generation; clear them so the re-insert cannot collide.
	if err := w.store.DeleteGeneration(ctx, a.ID, newGen); err != nil {
		return nil, fmt.Errorf("clear stale generation: %w", err)
	}

	rows := make([]models.Chunk, len(req.Chunks))
	for i, c := range req.Chunks {
		rows[i] = models.Chunk{
			ID:         uuid.NewString(),
			ArticleID:  a.ID,
			Generation: newGen,
			Position:   c.Position,
			Text:       c.Text,
			TokenCount: c.TokenCount,
			Embedding:  req.Vectors[i],
			CreatedAt:  now,
		}
	}
	if err := w.store.InsertChunks(ctx, rows); err != nil {
		return nil, fmt.Errorf("insert chunks: %w", err)
	}

	n, err := w.store.CountChunks(ctx, a.ID, newGen)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if n != len(rows) {
		return nil, fmt.Errorf("article %s generation %d holds %d chunks, wrote %d: %w",
			a.ID, newGen, n, len(rows), core.ErrInvariantViolation)
	}

	updated := *a
	updated.Title = req.Title
	updated.ContentHash = req.ContentHash
	updated.ChunkCount = len(rows)
	updated.ActiveGeneration = newGen
	updated.UpdatedAt = now
	if err := w.store.SwapGeneration(ctx, &updated, a.ActiveGeneration); err != nil {
		return nil, err
	}

	// Delete-after-swap. A failure here leaves orphaned chunk rows that the
	// next successful commit for this article prunes; it never affects what
	// readers see.
	if err := w.store.PruneGenerations(ctx, a.ID, newGen); err != nil {
		w.log.Warn("prune of stale generations failed",
			"article_id", a.ID, "keep_generation", newGen, "error", err)
	}

	return &updated, nil
}
