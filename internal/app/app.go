package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quarrylabs/kbindex/internal/config"
	"github.com/quarrylabs/kbindex/internal/core"
	db "github.com/quarrylabs/kbindex/internal/core/database"
	"github.com/quarrylabs/kbindex/internal/core/extract"
	"github.com/quarrylabs/kbindex/internal/core/llm"
	"github.com/quarrylabs/kbindex/internal/core/objectstore"
	"github.com/quarrylabs/kbindex/internal/ingest"
	"github.com/quarrylabs/kbindex/internal/models"
)

// App wires the datastore, storage backend, AI providers and the ingestion
// pipeline together, and owns the run-at-a-time ingestion state.
type App struct {
	Cfg         *config.Config
	Log         *slog.Logger
	DBClient    *db.DatabaseClient
	Objects     core.ObjectStore
	Local       *objectstore.LocalStore // nil unless STORAGE_BACKEND=local
	Embedder    *llm.GeminiEmbedder
	LLM         *llm.GeminiLLM
	Coordinator *ingest.Coordinator
	Server      *Server

	ctx     context.Context
	mu      sync.Mutex
	running bool
	lastRun *models.RunSummary
}

func NewApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	dbClient, err := db.NewDatabaseClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	log.Info("database initialized and bootstrapped")

	var (
		objects core.ObjectStore
		local   *objectstore.LocalStore
	)
	switch cfg.StorageBackend {
	case "s3":
		objects, err = objectstore.NewS3Client(ctx, cfg)
	case "local":
		local, err = objectstore.NewLocalStore(cfg.LocalRoot)
		objects = local
	default:
		err = fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("object store: %w", err)
	}
	log.Info("object store ready", "backend", cfg.StorageBackend)

	embedder, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}
	generator, err := llm.NewGeminiLLM(ctx, cfg.AIAPIKey, cfg.GenModel, cfg.GenTemperature, cfg.GenMaxTokens)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("llm: %w", err)
	}

	chunker, err := ingest.NewChunker(cfg.ChunkTargetTokens, cfg.ChunkOverlapTokens)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("chunker: %w", err)
	}

	batcher := ingest.NewEmbeddingBatcher(embedder, log, ingest.BatcherConfig{
		MaxBatchSize: cfg.EmbedBatchSize,
		MaxAttempts:  cfg.EmbedMaxAttempts,
		BaseDelay:    cfg.EmbedRetryBase,
		RateLimit:    cfg.EmbedRateLimit,
		CallTimeout:  cfg.EmbedTimeout,
		EmbedDim:     cfg.EmbedDim,
	})

	writer := ingest.NewIndexWriter(dbClient, log, 3, cfg.EmbedRetryBase, cfg.CommitTimeout)

	coordinator := ingest.NewCoordinator(
		dbClient, objects, extract.NewDocconvExtractor(), chunker, batcher, writer, log,
		ingest.CoordinatorConfig{
			Collections:  cfg.Collections,
			Workers:      cfg.Workers,
			FetchTimeout: cfg.FetchTimeout,
			StoreTimeout: cfg.StoreTimeout,
		},
	)

	a := &App{
		Cfg:         cfg,
		Log:         log,
		DBClient:    dbClient,
		Objects:     objects,
		Local:       local,
		Embedder:    embedder,
		LLM:         generator,
		Coordinator: coordinator,
		ctx:         ctx,
	}
	a.Server = NewServer(cfg, a)
	return a, nil
}

// StartRun begins an asynchronous ingestion run. Only one run may be active
// at a time.
func (a *App) StartRun(fullReindex bool) bool {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return false
	}
	a.running = true
	a.mu.Unlock()

	go func() {
		summary, err := a.Coordinator.Run(a.ctx, ingest.RunOptions{FullReindex: fullReindex})
		if err != nil {
			a.Log.Error("ingestion run ended with error", "error", err)
		}

		a.mu.Lock()
		a.running = false
		if summary != nil {
			a.lastRun = summary
		}
		a.mu.Unlock()
	}()
	return true
}

// Status reports the last finished run summary and whether one is active.
func (a *App) Status() (*models.RunSummary, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRun, a.running
}

func (a *App) Close() {
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.LLM != nil {
		_ = a.LLM.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
