package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quarrylabs/kbindex/internal/core"
)

// DirResolver maps a collection name to the directory backing it. Implemented
// by the local object store; S3 collections cannot be watched.
type DirResolver interface {
	CollectionDir(collection string) string
}

// Watcher re-runs ingestion when files under the watched collections change.
// Bursts of events are merged with a debounce window so one bulk copy
// triggers a single run.
type Watcher struct {
	co       *Coordinator
	dirs     DirResolver
	log      *slog.Logger
	debounce time.Duration
}

func NewWatcher(co *Coordinator, dirs DirResolver, log *slog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{co: co, dirs: dirs, log: log, debounce: debounce}
}

// Run performs an initial sync and then blocks, re-syncing on changes, until
// ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, collection := range w.co.cfg.Collections {
		dir := w.dirs.CollectionDir(collection)
		if err := addRecursive(fw, dir); err != nil {
			w.log.Warn("cannot watch collection", "collection", collection, "error", err)
		}
	}

	if _, err := w.co.Run(ctx, RunOptions{}); err != nil && !core.IsTransient(err) {
		w.log.Error("initial sync failed", "error", err)
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addRecursive(fw, ev.Name)
				}
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)

		case <-timer.C:
			if _, err := w.co.Run(ctx, RunOptions{}); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.log.Error("sync failed", "error", err)
			}
		}
	}
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}
