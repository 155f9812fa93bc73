package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/quarrylabs/kbindex/internal/core"
	"github.com/quarrylabs/kbindex/internal/models"
)

// LocalStore implements core.ObjectStore over a directory tree. Each
// collection is a subdirectory of root. Used for on-prem deployments and by
// watch mode.
type LocalStore struct {
	root string
}

var _ core.ObjectStore = (*LocalStore)(nil)

func NewLocalStore(root string) (*LocalStore, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("local root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local root %s is not a directory", root)
	}
	return &LocalStore{root: root}, nil
}

// CollectionDir returns the directory backing a collection.
func (l *LocalStore) CollectionDir(collection string) string {
	return filepath.Join(l.root, collection)
}

func (l *LocalStore) ListDocuments(ctx context.Context, collection string) ([]models.SourceDocument, error) {
	dir := l.CollectionDir(collection)
	var docs []models.SourceDocument

	err := filepath.Walk(dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		docs = append(docs, models.SourceDocument{
			Collection:   collection,
			Path:         rel,
			MimeHint:     MimeHintForPath(rel),
			SizeBytes:    info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return docs, nil
}

func (l *LocalStore) FetchBytes(ctx context.Context, collection, path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.CollectionDir(collection), filepath.FromSlash(path)))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("local object %s/%s: %w", collection, path, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (l *LocalStore) UploadFile(ctx context.Context, collection, path string, data []byte, contentType string) error {
	full := filepath.Join(l.CollectionDir(collection), filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (l *LocalStore) DeleteFile(ctx context.Context, collection, path string) error {
	err := os.Remove(filepath.Join(l.CollectionDir(collection), filepath.FromSlash(path)))
	if os.IsNotExist(err) {
		return fmt.Errorf("local object %s/%s: %w", collection, path, core.ErrNotFound)
	}
	return err
}
