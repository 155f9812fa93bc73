package models

import (
	"time"
)

// SourceDocument describes one object in a storage collection, as reported
// by the lister. It is never persisted; identity is (Collection, Path).
type SourceDocument struct {
	Collection   string
	Path         string
	MimeHint     string
	SizeBytes    int64
	LastModified time.Time
}

// Identity returns the stable document identity used for bookkeeping keys
// and per-article locking.
func (d SourceDocument) Identity() string {
	return d.Collection + "/" + d.Path
}

// Fingerprint is the content identity of a source document, compared across
// runs to decide whether the document needs reprocessing.
type Fingerprint struct {
	Collection  string    `db:"collection"`
	Path        string    `db:"source_path"`
	ContentHash string    `db:"content_hash"`
	SizeBytes   int64     `db:"size_bytes"`
	ComputedAt  time.Time `db:"computed_at"`
}

// Article is the indexed representation of one source document's current
// version. ActiveGeneration points at the chunk set readers are allowed to
// see; chunks under any other generation are invisible to search.
type Article struct {
	ID               string    `db:"id" json:"id"`
	Collection       string    `db:"collection" json:"collection"`
	SourcePath       string    `db:"source_path" json:"source_path"`
	Title            string    `db:"title" json:"title"`
	ContentHash      string    `db:"content_hash" json:"content_hash"`
	ChunkCount       int       `db:"chunk_count" json:"chunk_count"`
	ActiveGeneration int64     `db:"active_generation" json:"-"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Chunk is one token-bounded segment of an article's text together with its
// embedding vector. Position is zero-based and contiguous within a generation.
type Chunk struct {
	ID         string    `db:"id" json:"id"`
	ArticleID  string    `db:"article_id" json:"article_id"`
	Generation int64     `db:"generation" json:"-"`
	Position   int       `db:"position" json:"position"`
	Text       string    `db:"text" json:"text"`
	TokenCount int       `db:"token_count" json:"token_count"`
	Embedding  []float32 `db:"embedding" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// SearchResult is one ranked hit from a similarity query. Score is a
// similarity in (0, 1] derived from the vector distance as 1/(1+distance);
// higher means closer.
type SearchResult struct {
	Chunk      Chunk   `json:"chunk"`
	Collection string  `json:"collection"`
	SourcePath string  `json:"source_path"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
}

// Failure records why a single document could not be indexed this run.
type Failure struct {
	Collection string `json:"collection"`
	Path       string `json:"path"`
	Reason     string `json:"reason"`
}

// Failure reason codes reported in RunSummary.
const (
	ReasonListFailed    = "list_failed"
	ReasonFetchFailed   = "fetch_failed"
	ReasonExtractFailed = "extract_failed"
	ReasonEmbedFailed   = "embed_failed"
	ReasonCommitFailed  = "commit_failed"
	ReasonInvariant     = "invariant_violation"
	ReasonBookkeeping   = "bookkeeping_failed"
)

// CollectionStats is the per-collection breakdown inside a RunSummary.
type CollectionStats struct {
	Seen      int `json:"seen"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// RunSummary aggregates the outcome of one ingestion pass.
type RunSummary struct {
	StartedAt      time.Time                  `json:"started_at"`
	FinishedAt     time.Time                  `json:"finished_at"`
	DocumentsSeen  int                        `json:"documents_seen"`
	Processed      int                        `json:"processed"`
	Skipped        int                        `json:"skipped"`
	Failed         int                        `json:"failed"`
	ChunksWritten  int                        `json:"chunks_written"`
	EmbeddingCalls int64                      `json:"embedding_calls"`
	ByCollection   map[string]CollectionStats `json:"by_collection"`
	Failures       []Failure                  `json:"failures,omitempty"`
}
