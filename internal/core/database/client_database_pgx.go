package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/quarrylabs/kbindex/internal/config"
	"github.com/quarrylabs/kbindex/internal/core"
	"github.com/quarrylabs/kbindex/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

var _ core.Datastore = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Pool settings sized for one coordinating process plus the API.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Articles

func (c *DatabaseClient) GetArticle(ctx context.Context, collection, path string) (*models.Article, error) {
	const q = `
		SELECT id, collection, source_path, title, content_hash, chunk_count, active_generation, updated_at
		FROM articles
		WHERE collection = $1 AND source_path = $2
	`
	var a models.Article
	err := c.db.QueryRowContext(ctx, q, collection, path).Scan(
		&a.ID, &a.Collection, &a.SourcePath, &a.Title, &a.ContentHash, &a.ChunkCount, &a.ActiveGeneration, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *DatabaseClient) FindArticleByHash(ctx context.Context, contentHash string) (*models.Article, error) {
	const q = `
		SELECT id, collection, source_path, title, content_hash, chunk_count, active_generation, updated_at
		FROM articles
		WHERE content_hash = $1 AND active_generation > 0
		LIMIT 1
	`
	var a models.Article
	err := c.db.QueryRowContext(ctx, q, contentHash).Scan(
		&a.ID, &a.Collection, &a.SourcePath, &a.Title, &a.ContentHash, &a.ChunkCount, &a.ActiveGeneration, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *DatabaseClient) UpsertArticle(ctx context.Context, a *models.Article) error {
	if a == nil {
		return errors.New("nil article")
	}
	const q = `
		INSERT INTO articles (id, collection, source_path, title, content_hash, chunk_count, active_generation, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (collection, source_path) DO NOTHING
	`
	_, err := c.db.ExecContext(ctx, q,
		a.ID, a.Collection, a.SourcePath, a.Title, a.ContentHash, a.ChunkCount, a.ActiveGeneration)
	return err
}

// ListArticles returns a collection's articles. Rows whose first commit never
// completed (active_generation still 0) are placeholders, not articles, and
// are excluded.
func (c *DatabaseClient) ListArticles(ctx context.Context, collection string) ([]models.Article, error) {
	const q = `
		SELECT id, collection, source_path, title, content_hash, chunk_count, active_generation, updated_at
		FROM articles
		WHERE collection = $1 AND active_generation > 0
		ORDER BY source_path ASC
	`
	rows, err := c.db.QueryContext(ctx, q, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Article
	for rows.Next() {
		var a models.Article
		if err := rows.Scan(
			&a.ID, &a.Collection, &a.SourcePath, &a.Title, &a.ContentHash, &a.ChunkCount, &a.ActiveGeneration, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Chunks

// InsertChunks writes chunks under their generation in a single transaction.
// They stay invisible to readers until SwapGeneration points at them.
func (c *DatabaseClient) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO chunks (id, article_id, generation, position, text, embedding, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		vec := pgvector.NewVector(ch.Embedding)
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.ArticleID, ch.Generation, ch.Position, ch.Text, vec, ch.TokenCount, ch.CreatedAt,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) DeleteGeneration(ctx context.Context, articleID string, generation int64) error {
	const q = `DELETE FROM chunks WHERE article_id = $1 AND generation = $2`
	_, err := c.db.ExecContext(ctx, q, articleID, generation)
	return err
}

func (c *DatabaseClient) CountChunks(ctx context.Context, articleID string, generation int64) (int, error) {
	const q = `SELECT count(*) FROM chunks WHERE article_id = $1 AND generation = $2`
	var n int
	if err := c.db.QueryRowContext(ctx, q, articleID, generation).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SwapGeneration flips the article's active generation with a compare-and-swap
// on the previous value. A zero-row update means another writer won the race.
func (c *DatabaseClient) SwapGeneration(ctx context.Context, a *models.Article, fromGen int64) error {
	if a == nil {
		return errors.New("nil article")
	}
	const q = `
		UPDATE articles
		SET title = $2, content_hash = $3, chunk_count = $4, active_generation = $5, updated_at = now()
		WHERE id = $1 AND active_generation = $6
	`
	res, err := c.db.ExecContext(ctx, q, a.ID, a.Title, a.ContentHash, a.ChunkCount, a.ActiveGeneration, fromGen)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("article %s: %w", a.ID, core.ErrCommitConflict)
	}
	return nil
}

func (c *DatabaseClient) PruneGenerations(ctx context.Context, articleID string, keep int64) error {
	const q = `DELETE FROM chunks WHERE article_id = $1 AND generation <> $2`
	_, err := c.db.ExecContext(ctx, q, articleID, keep)
	return err
}

func (c *DatabaseClient) GetChunks(ctx context.Context, articleID string) ([]models.Chunk, error) {
	const q = `
		SELECT c.id, c.article_id, c.generation, c.position, c.text, c.embedding, c.token_count, c.created_at
		FROM chunks c
		JOIN articles a ON a.id = c.article_id AND a.active_generation = c.generation
		WHERE c.article_id = $1
		ORDER BY c.position ASC
	`
	rows, err := c.db.QueryContext(ctx, q, articleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			ch  models.Chunk
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&ch.ID, &ch.ArticleID, &ch.Generation, &ch.Position, &ch.Text, &emb, &ch.TokenCount, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Fingerprints

func (c *DatabaseClient) GetFingerprint(ctx context.Context, collection, path string) (*models.Fingerprint, error) {
	const q = `
		SELECT collection, source_path, content_hash, size_bytes, computed_at
		FROM fingerprints
		WHERE collection = $1 AND source_path = $2
	`
	var fp models.Fingerprint
	err := c.db.QueryRowContext(ctx, q, collection, path).Scan(
		&fp.Collection, &fp.Path, &fp.ContentHash, &fp.SizeBytes, &fp.ComputedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fp, nil
}

func (c *DatabaseClient) PutFingerprint(ctx context.Context, fp *models.Fingerprint) error {
	if fp == nil {
		return errors.New("nil fingerprint")
	}
	const q = `
		INSERT INTO fingerprints (collection, source_path, content_hash, size_bytes, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, source_path)
		DO UPDATE SET content_hash = EXCLUDED.content_hash, size_bytes = EXCLUDED.size_bytes, computed_at = EXCLUDED.computed_at
	`
	_, err := c.db.ExecContext(ctx, q, fp.Collection, fp.Path, fp.ContentHash, fp.SizeBytes, fp.ComputedAt)
	return err
}

func (c *DatabaseClient) ClearFingerprints(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM fingerprints`)
	return err
}

// Search

// SearchChunks finds the top-k chunks nearest to the query embedding across
// all articles. Only chunks of each article's active generation are visible.
// Score is the similarity 1/(1+distance), so an exact vector match scores 1.
func (c *DatabaseClient) SearchChunks(ctx context.Context, queryVec []float32, topK int) ([]models.SearchResult, error) {
	const q = `
		SELECT c.id, c.article_id, c.position, c.text, c.token_count, c.created_at,
		       a.collection, a.source_path, a.title,
		       c.embedding <-> $1 AS distance
		FROM chunks c
		JOIN articles a ON a.id = c.article_id AND a.active_generation = c.generation
		ORDER BY c.embedding <-> $1
		LIMIT $2
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, vec, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var (
			r    models.SearchResult
			dist float64
		)
		if err := rows.Scan(
			&r.Chunk.ID, &r.Chunk.ArticleID, &r.Chunk.Position, &r.Chunk.Text, &r.Chunk.TokenCount, &r.Chunk.CreatedAt,
			&r.Collection, &r.SourcePath, &r.Title, &dist,
		); err != nil {
			return nil, err
		}
		r.Score = 1 / (1 + dist)
		out = append(out, r)
	}
	return out, rows.Err()
}
