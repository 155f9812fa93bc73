package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/quarrylabs/kbindex/internal/core"
	"github.com/quarrylabs/kbindex/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory core.Datastore with the same generation
// visibility rules as the Postgres client. Failure injection fields let
// tests simulate crashes at specific commit steps.
type memStore struct {
	mu           sync.Mutex
	articles     map[string]models.Article // by id
	byPath       map[string]string         // collection/path -> id
	chunks       map[string][]models.Chunk // by article id, all generations
	fingerprints map[string]models.Fingerprint

	swapFailures int   // fail this many SwapGeneration calls
	swapErr      error // error returned for injected swap failures
	insertErr    error
	pruneErr     error
	countDelta   int // offset applied to CountChunks results

	swapCalls  int
	pruneCalls int
}

var _ core.Datastore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		articles:     make(map[string]models.Article),
		byPath:       make(map[string]string),
		chunks:       make(map[string][]models.Chunk),
		fingerprints: make(map[string]models.Fingerprint),
	}
}

func (s *memStore) GetArticle(ctx context.Context, collection, path string) (*models.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPath[collection+"/"+path]
	if !ok {
		return nil, nil
	}
	a := s.articles[id]
	return &a, nil
}

func (s *memStore) FindArticleByHash(ctx context.Context, contentHash string) (*models.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.articles {
		if a.ActiveGeneration > 0 && a.ContentHash == contentHash {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memStore) UpsertArticle(ctx context.Context, a *models.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := a.Collection + "/" + a.SourcePath
	if _, ok := s.byPath[key]; ok {
		return nil
	}
	s.byPath[key] = a.ID
	s.articles[a.ID] = *a
	return nil
}

func (s *memStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	for _, ch := range chunks {
		s.chunks[ch.ArticleID] = append(s.chunks[ch.ArticleID], ch)
	}
	return nil
}

func (s *memStore) DeleteGeneration(ctx context.Context, articleID string, generation int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chunks[articleID][:0]
	for _, ch := range s.chunks[articleID] {
		if ch.Generation != generation {
			kept = append(kept, ch)
		}
	}
	s.chunks[articleID] = kept
	return nil
}

func (s *memStore) CountChunks(ctx context.Context, articleID string, generation int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ch := range s.chunks[articleID] {
		if ch.Generation == generation {
			n++
		}
	}
	return n + s.countDelta, nil
}

func (s *memStore) SwapGeneration(ctx context.Context, a *models.Article, fromGen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapCalls++
	if s.swapFailures > 0 {
		s.swapFailures--
		return s.swapErr
	}
	cur, ok := s.articles[a.ID]
	if !ok {
		return fmt.Errorf("article %s does not exist", a.ID)
	}
	if cur.ActiveGeneration != fromGen {
		return fmt.Errorf("article %s: %w", a.ID, core.ErrCommitConflict)
	}
	s.articles[a.ID] = *a
	return nil
}

func (s *memStore) PruneGenerations(ctx context.Context, articleID string, keep int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneCalls++
	if s.pruneErr != nil {
		return s.pruneErr
	}
	kept := s.chunks[articleID][:0]
	for _, ch := range s.chunks[articleID] {
		if ch.Generation == keep {
			kept = append(kept, ch)
		}
	}
	s.chunks[articleID] = kept
	return nil
}

func (s *memStore) GetChunks(ctx context.Context, articleID string) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChunksLocked(articleID), nil
}

func (s *memStore) activeChunksLocked(articleID string) []models.Chunk {
	a, ok := s.articles[articleID]
	if !ok {
		return nil
	}
	var out []models.Chunk
	for _, ch := range s.chunks[articleID] {
		if ch.Generation == a.ActiveGeneration {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (s *memStore) GetFingerprint(ctx context.Context, collection, path string) (*models.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.fingerprints[collection+"/"+path]
	if !ok {
		return nil, nil
	}
	return &fp, nil
}

func (s *memStore) PutFingerprint(ctx context.Context, fp *models.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints[fp.Collection+"/"+fp.Path] = *fp
	return nil
}

func (s *memStore) ClearFingerprints(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints = make(map[string]models.Fingerprint)
	return nil
}

func (s *memStore) SearchChunks(ctx context.Context, queryVec []float32, topK int) ([]models.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SearchResult
	for id, a := range s.articles {
		for _, ch := range s.activeChunksLocked(id) {
			out = append(out, models.SearchResult{
				Chunk:      ch,
				Collection: a.Collection,
				SourcePath: a.SourcePath,
				Title:      a.Title,
				Score:      1 / (1 + l2(queryVec, ch.Embedding)),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		if i >= len(b) {
			break
		}
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}

func (s *memStore) ListArticles(ctx context.Context, collection string) ([]models.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Article
	for _, a := range s.articles {
		if a.Collection == collection && a.ActiveGeneration > 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourcePath < out[j].SourcePath })
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) article(collection, path string) (models.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPath[collection+"/"+path]
	if !ok {
		return models.Article{}, false
	}
	return s.articles[id], true
}

func (s *memStore) activeChunks(articleID string) []models.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChunksLocked(articleID)
}

func (s *memStore) allChunks(articleID string) []models.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Chunk(nil), s.chunks[articleID]...)
}

// fakeEmbedder returns deterministic vectors derived from the text so tests
// can tell which text produced which vector. Errors queued in failures are
// returned, one per call, before any success.
type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	failures []error
	dim      int
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return nil, err
		}
	}
	dim := f.dim
	if dim == 0 {
		dim = 4
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dim)
		v[0] = float32(len(t))
		for j, r := range t {
			v[1+(j%(dim-1))] += float32(r)
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeObjects serves documents from nested maps: collection -> path -> bytes.
type fakeObjects struct {
	mu       sync.Mutex
	files    map[string]map[string][]byte
	mimes    map[string]string // collection/path -> mime override
	listErr  map[string]error
	fetchErr map[string]error
}

var _ core.ObjectStore = (*fakeObjects)(nil)

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		files:    make(map[string]map[string][]byte),
		mimes:    make(map[string]string),
		listErr:  make(map[string]error),
		fetchErr: make(map[string]error),
	}
}

func (o *fakeObjects) put(collection, path string, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.files[collection] == nil {
		o.files[collection] = make(map[string][]byte)
	}
	o.files[collection][path] = data
}

func (o *fakeObjects) ListDocuments(ctx context.Context, collection string) ([]models.SourceDocument, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.listErr[collection]; err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(o.files[collection]))
	for p := range o.files[collection] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	docs := make([]models.SourceDocument, 0, len(paths))
	for _, p := range paths {
		mime := "text/plain"
		if m, ok := o.mimes[collection+"/"+p]; ok {
			mime = m
		}
		docs = append(docs, models.SourceDocument{
			Collection: collection,
			Path:       p,
			MimeHint:   mime,
			SizeBytes:  int64(len(o.files[collection][p])),
		})
	}
	return docs, nil
}

func (o *fakeObjects) FetchBytes(ctx context.Context, collection, path string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.fetchErr[collection+"/"+path]; err != nil {
		return nil, err
	}
	data, ok := o.files[collection][path]
	if !ok {
		return nil, fmt.Errorf("object %s/%s: %w", collection, path, core.ErrNotFound)
	}
	return data, nil
}

func (o *fakeObjects) UploadFile(ctx context.Context, collection, path string, data []byte, contentType string) error {
	o.put(collection, path, data)
	return nil
}

func (o *fakeObjects) DeleteFile(ctx context.Context, collection, path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.files[collection], path)
	return nil
}

// fakeExtractor treats the raw bytes as the plain text. Mime types listed in
// corrupt fail like a broken document.
type fakeExtractor struct {
	corrupt map[string]bool
}

var _ core.TextExtractor = (*fakeExtractor)(nil)

func (e *fakeExtractor) ExtractText(ctx context.Context, raw []byte, mimeHint string) (string, error) {
	if e.corrupt != nil && e.corrupt[mimeHint] {
		return "", fmt.Errorf("decode %s: %w", mimeHint, core.ErrCorruptDocument)
	}
	return string(raw), nil
}
