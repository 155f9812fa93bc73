package core

import (
	"context"

	"github.com/quarrylabs/kbindex/internal/models"
)

// Datastore defines all persistence operations the pipeline needs. It
// abstracts Postgres/pgvector so higher layers never depend on a specific DB.
//
// Chunks are written under an explicit generation; only the generation an
// article's ActiveGeneration points at is visible to GetChunks and
// SearchChunks. SwapGeneration is the atomic visibility switch.
type Datastore interface {
	// GetArticle returns the article for (collection, path), or nil if none.
	GetArticle(ctx context.Context, collection, path string) (*models.Article, error)
	// FindArticleByHash returns any article whose current content hash equals
	// contentHash, or nil. Used to reuse embeddings when a document's path
	// changes but its content does not.
	FindArticleByHash(ctx context.Context, contentHash string) (*models.Article, error)
	// UpsertArticle inserts the article if absent; an existing row for the
	// same (collection, path) is left untouched.
	UpsertArticle(ctx context.Context, a *models.Article) error

	// InsertChunks writes chunks under their Generation without changing
	// which generation is active.
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	// DeleteGeneration removes the chunks an interrupted commit attempt may
	// have left under the given generation.
	DeleteGeneration(ctx context.Context, articleID string, generation int64) error
	// CountChunks returns the number of chunk rows an article has under
	// the given generation.
	CountChunks(ctx context.Context, articleID string, generation int64) (int, error)
	// SwapGeneration atomically moves the article's active generation from
	// fromGen to a.ActiveGeneration and updates its metadata (title, hash,
	// chunk count, updated_at). Returns ErrCommitConflict if the article's
	// active generation is no longer fromGen.
	SwapGeneration(ctx context.Context, a *models.Article, fromGen int64) error
	// PruneGenerations deletes every chunk of the article whose generation
	// is not keep.
	PruneGenerations(ctx context.Context, articleID string, keep int64) error
	// GetChunks returns the active generation's chunks ordered by position.
	GetChunks(ctx context.Context, articleID string) ([]models.Chunk, error)

	GetFingerprint(ctx context.Context, collection, path string) (*models.Fingerprint, error)
	PutFingerprint(ctx context.Context, fp *models.Fingerprint) error
	// ClearFingerprints drops all bookkeeping so the next run reprocesses
	// every document.
	ClearFingerprints(ctx context.Context) error

	// SearchChunks runs a nearest-neighbour query over active chunks.
	SearchChunks(ctx context.Context, queryVec []float32, topK int) ([]models.SearchResult, error)
	ListArticles(ctx context.Context, collection string) ([]models.Article, error)

	Close() error
}

// ObjectStore defines interactions with the document storage backend (S3
// buckets or local directories). Collections map to buckets/directories.
type ObjectStore interface {
	// ListDocuments enumerates the documents of one collection. Directory
	// placeholders are not included.
	ListDocuments(ctx context.Context, collection string) ([]models.SourceDocument, error)
	// FetchBytes downloads one document's raw content. Returns ErrNotFound
	// if the object disappeared since listing.
	FetchBytes(ctx context.Context, collection, path string) ([]byte, error)
	UploadFile(ctx context.Context, collection, path string, data []byte, contentType string) error
	DeleteFile(ctx context.Context, collection, path string) error
}

// TextExtractor converts raw document bytes into plain text. The mimeHint
// selects the parsing strategy.
type TextExtractor interface {
	ExtractText(ctx context.Context, raw []byte, mimeHint string) (string, error)
}
