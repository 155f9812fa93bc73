package ingest

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarrylabs/kbindex/internal/core"
	"github.com/quarrylabs/kbindex/internal/models"
)

// CoordinatorConfig tunes the ingestion run.
type CoordinatorConfig struct {
	Collections  []string
	Workers      int
	FetchTimeout time.Duration
	// StoreTimeout bounds the bookkeeping datastore calls (fingerprint
	// lookups and writes, embedding-reuse reads) per call.
	StoreTimeout time.Duration
}

// RunOptions selects per-run behavior.
type RunOptions struct {
	// FullReindex clears the fingerprint bookkeeping first so every document
	// is reprocessed. Commits still go through the generation swap, so the
	// index stays queryable throughout.
	FullReindex bool
}

// Coordinator orchestrates the pipeline across collections: enumerate,
// fingerprint, extract, chunk, embed, commit. Documents are processed by a
// bounded worker pool; a failure in one document never aborts the run.
type Coordinator struct {
	store     core.Datastore
	objects   core.ObjectStore
	extractor core.TextExtractor
	chunker   *Chunker
	batcher   *EmbeddingBatcher
	writer    *IndexWriter
	log       *slog.Logger
	cfg       CoordinatorConfig

	locks keyedMutex
}

func NewCoordinator(
	store core.Datastore,
	objects core.ObjectStore,
	extractor core.TextExtractor,
	chunker *Chunker,
	batcher *EmbeddingBatcher,
	writer *IndexWriter,
	log *slog.Logger,
	cfg CoordinatorConfig,
) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Minute
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 30 * time.Second
	}
	return &Coordinator{
		store:     store,
		objects:   objects,
		extractor: extractor,
		chunker:   chunker,
		batcher:   batcher,
		writer:    writer,
		log:       log,
		cfg:       cfg,
	}
}

type docStatus int

const (
	statusProcessed docStatus = iota
	statusSkipped
	statusFailed
)

type docResult struct {
	doc    models.SourceDocument
	status docStatus
	chunks int
	reason string
}

// Run executes one ingestion pass over all configured collections and
// returns the aggregate summary. Cancelling ctx stops dispatching new
// documents; in-flight documents finish or abort cleanly.
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		StartedAt:    time.Now().UTC(),
		ByCollection: make(map[string]models.CollectionStats),
	}
	callsBefore, _ := c.batcher.Counters()

	if opts.FullReindex {
		if err := c.store.ClearFingerprints(ctx); err != nil {
			return nil, err
		}
		c.log.Info("fingerprints cleared, full reindex requested")
	}

	var mu sync.Mutex
	record := func(res docResult) {
		mu.Lock()
		defer mu.Unlock()
		stats := summary.ByCollection[res.doc.Collection]
		switch res.status {
		case statusProcessed:
			summary.Processed++
			stats.Processed++
			summary.ChunksWritten += res.chunks
		case statusSkipped:
			summary.Skipped++
			stats.Skipped++
		case statusFailed:
			summary.Failed++
			stats.Failed++
			summary.Failures = append(summary.Failures, models.Failure{
				Collection: res.doc.Collection,
				Path:       res.doc.Path,
				Reason:     res.reason,
			})
		}
		summary.ByCollection[res.doc.Collection] = stats
	}

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Workers)

dispatch:
	for _, collection := range c.cfg.Collections {
		docs, err := c.objects.ListDocuments(ctx, collection)
		if err != nil {
			c.log.Error("listing collection failed", "collection", collection, "error", err)
			mu.Lock()
			summary.Failed++
			stats := summary.ByCollection[collection]
			stats.Failed++
			summary.ByCollection[collection] = stats
			summary.Failures = append(summary.Failures, models.Failure{
				Collection: collection,
				Reason:     models.ReasonListFailed,
			})
			mu.Unlock()
			continue
		}
		c.log.Info("collection listed", "collection", collection, "documents", len(docs))

		for _, d := range docs {
			if ctx.Err() != nil {
				break dispatch
			}
			doc := d
			mu.Lock()
			summary.DocumentsSeen++
			stats := summary.ByCollection[doc.Collection]
			stats.Seen++
			summary.ByCollection[doc.Collection] = stats
			mu.Unlock()

			g.Go(func() error {
				record(c.processDocument(ctx, doc))
				return nil
			})
		}
	}

	_ = g.Wait()

	callsAfter, _ := c.batcher.Counters()
	summary.EmbeddingCalls = callsAfter - callsBefore
	summary.FinishedAt = time.Now().UTC()

	c.log.Info("ingestion run finished",
		"seen", summary.DocumentsSeen,
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"chunks_written", summary.ChunksWritten,
		"embedding_calls", summary.EmbeddingCalls,
	)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// processDocument runs one document through the full pipeline. All failures
// are converted to a docResult; nothing escapes to abort the run.
func (c *Coordinator) processDocument(ctx context.Context, doc models.SourceDocument) docResult {
	unlock := c.locks.lock(doc.Identity())
	defer unlock()

	log := c.log.With("collection", doc.Collection, "path", doc.Path)

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	raw, err := c.objects.FetchBytes(fetchCtx, doc.Collection, doc.Path)
	cancel()
	if err != nil {
		log.Error("fetch failed", "error", err)
		return docResult{doc: doc, status: statusFailed, reason: models.ReasonFetchFailed}
	}

	fp := ComputeFingerprint(doc, raw)

	fpCtx, cancelFp := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	prev, err := c.store.GetFingerprint(fpCtx, doc.Collection, doc.Path)
	cancelFp()
	if err != nil {
		log.Error("fingerprint lookup failed", "error", err)
		return docResult{doc: doc, status: statusFailed, reason: models.ReasonBookkeeping}
	}
	if !ShouldProcess(prev, fp) {
		log.Debug("content unchanged, skipping")
		return docResult{doc: doc, status: statusSkipped}
	}

	text, err := c.extractor.ExtractText(ctx, raw, doc.MimeHint)
	if err != nil {
		log.Error("extraction failed", "mime", doc.MimeHint, "error", err)
		return docResult{doc: doc, status: statusFailed, reason: models.ReasonExtractFailed}
	}

	candidates := c.chunker.Chunk(text)
	title := titleFromPath(doc.Path)

	vectors, reused, err := c.vectorsFor(ctx, fp.ContentHash, candidates)
	if err != nil {
		log.Error("embedding failed", "chunks", len(candidates), "error", err)
		return docResult{doc: doc, status: statusFailed, reason: models.ReasonEmbedFailed}
	}
	if reused {
		log.Info("reusing embeddings from identical content", "chunks", len(candidates))
	}

	article, err := c.writer.Commit(ctx, CommitRequest{
		Collection:  doc.Collection,
		Path:        doc.Path,
		Title:       title,
		ContentHash: fp.ContentHash,
		Chunks:      candidates,
		Vectors:     vectors,
	})
	if err != nil {
		reason := models.ReasonCommitFailed
		if errors.Is(err, core.ErrInvariantViolation) {
			reason = models.ReasonInvariant
		}
		log.Error("commit failed", "reason", reason, "error", err)
		return docResult{doc: doc, status: statusFailed, reason: reason}
	}

	putCtx, cancelPut := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	if err := c.store.PutFingerprint(putCtx, &fp); err != nil {
		// The index is consistent; losing the fingerprint only means this
		// document reprocesses next run.
		log.Warn("fingerprint write failed", "error", err)
	}
	cancelPut()

	log.Info("document indexed", "article_id", article.ID, "chunks", article.ChunkCount)
	return docResult{doc: doc, status: statusProcessed, chunks: article.ChunkCount}
}

// vectorsFor returns embeddings for the chunk candidates. When another
// article already carries the same content hash, its stored vectors are
// reused instead of spending embedding calls; the chunker is deterministic
// so equal content yields equal chunk texts.
func (c *Coordinator) vectorsFor(ctx context.Context, contentHash string, candidates []ChunkCandidate) ([][]float32, bool, error) {
	if len(candidates) == 0 {
		return nil, false, nil
	}

	if vectors, ok := c.reusableVectors(ctx, contentHash, len(candidates)); ok {
		return vectors, true, nil
	}

	texts := make([]string, len(candidates))
	for i, cand := range candidates {
		texts[i] = cand.Text
	}
	vectors, err := c.batcher.Embed(ctx, texts)
	if err != nil {
		return nil, false, err
	}
	return vectors, false, nil
}

// reusableVectors looks up the stored vectors of an article with the same
// content hash. Any lookup failure just means the texts get embedded fresh.
func (c *Coordinator) reusableVectors(ctx context.Context, contentHash string, n int) ([][]float32, bool) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	prior, err := c.store.FindArticleByHash(lookupCtx, contentHash)
	if err != nil || prior == nil {
		return nil, false
	}
	chunks, err := c.store.GetChunks(lookupCtx, prior.ID)
	if err != nil || len(chunks) != n {
		return nil, false
	}

	vectors := make([][]float32, len(chunks))
	for i, ch := range chunks {
		if ch.Position != i || len(ch.Embedding) == 0 {
			return nil, false
		}
		vectors[i] = ch.Embedding
	}
	return vectors, true
}

// titleFromPath derives a display title from the source filename.
func titleFromPath(p string) string {
	base := path.Base(p)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	words := strings.Fields(base)
	for i, w := range words {
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
	}
	if len(words) == 0 {
		return p
	}
	return strings.Join(words, " ")
}

// keyedMutex serializes work per document identity so no two workers commit
// the same article concurrently. Entries are reference-counted and dropped
// when the last holder releases, so the map stays bounded in long-lived
// serve and watch processes.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
