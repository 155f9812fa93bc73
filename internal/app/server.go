package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quarrylabs/kbindex/internal/api/handlers"
	appMiddleware "github.com/quarrylabs/kbindex/internal/api/middlewares"
	"github.com/quarrylabs/kbindex/internal/config"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, a *App) *Server {
	searchHandler := handlers.NewSearchHandler(a.DBClient, a.Embedder)
	chatHandler := handlers.NewChatHandler(a.DBClient, a.Embedder, a.LLM)
	ingestHandler := handlers.NewIngestHandler(a)
	docHandler := handlers.NewDocumentHandler(a.DBClient, a.Objects, a, cfg.Collections)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Group(func(protected chi.Router) {
			if cfg.JWTSecret != "" {
				protected.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))
			}
			protected.Post("/search", searchHandler.Search)
			protected.Post("/chat/query", chatHandler.Query)
			protected.Post("/ingest/run", ingestHandler.Run)
			protected.Get("/ingest/status", ingestHandler.Status)
			protected.Post("/documents/upload", docHandler.Upload)
			protected.Get("/collections/{collection}/articles", docHandler.ListArticles)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, log: a.Log}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
