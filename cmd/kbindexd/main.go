package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quarrylabs/kbindex/internal/app"
	"github.com/quarrylabs/kbindex/internal/config"
	"github.com/quarrylabs/kbindex/internal/ingest"
)

func main() {
	mode := flag.String("mode", "serve", "run mode: serve, sync or watch")
	full := flag.Bool("full", false, "sync mode: clear bookkeeping and reindex everything")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cfg := config.LoadConfig()
	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	switch *mode {
	case "sync":
		runSync(ctx, application, *full)

	case "watch":
		if application.Local == nil {
			log.Error("watch mode requires STORAGE_BACKEND=local")
			os.Exit(1)
		}
		watcher := ingest.NewWatcher(application.Coordinator, application.Local, log, cfg.WatchDebounce)
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("watch failed", "error", err)
			os.Exit(1)
		}

	case "serve":
		go func() {
			<-ctx.Done()
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutCancel()
			_ = application.Server.Shutdown(shutCtx)
		}()
		if err := application.Server.Start(); err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}

	default:
		log.Error("unknown mode", "mode", *mode)
		os.Exit(2)
	}
}

func runSync(ctx context.Context, application *app.App, full bool) {
	summary, err := application.Coordinator.Run(ctx, ingest.RunOptions{FullReindex: full})
	if summary != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(summary)
	}
	if err != nil {
		application.Log.Error("sync failed", "error", err)
		os.Exit(1)
	}
	if summary != nil && summary.Failed > 0 {
		os.Exit(1)
	}
}
