// Package services exposes the unified file-store facade: one API over
// whichever storage backend was configured, with raw string paths at the
// boundary and the shared error taxonomy on every return.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/FractalBrew/file-store/src/drivers/storage"
	"github.com/FractalBrew/file-store/src/models"
	"github.com/FractalBrew/file-store/src/storagepath"
)

// FileStore wraps one storage backend behind a raw-string path API. The
// backend is chosen at construction and never changes; callers needing both
// a local and a remote store hold two FileStore values.
type FileStore struct {
	provider storage.Provider
	logger   *logrus.Logger
}

// NewFileStore wraps provider. The provider must not be nil.
func NewFileStore(provider storage.Provider, logger *logrus.Logger) (*FileStore, error) {
	if provider == nil {
		return nil, fmt.Errorf("storage provider is required")
	}
	return &FileStore{provider: provider, logger: logger}, nil
}

// parseLeaf parses raw and requires file-like addressing.
func parseLeaf(op, raw string) (storagepath.Path, error) {
	p, err := storagepath.Parse(raw)
	if err != nil {
		return storagepath.Path{}, storage.NewError(storage.ErrInvalidPath, op, raw, err)
	}
	if p.IsDir() {
		return storagepath.Path{}, storage.NewError(storage.ErrInvalidPath, op, raw, fmt.Errorf("a file path is required"))
	}
	return p, nil
}

// Stat returns the metadata for the object at raw path.
func (f *FileStore) Stat(ctx context.Context, raw string) (models.FileMetadata, error) {
	p, err := parseLeaf("stat", raw)
	if err != nil {
		return models.FileMetadata{}, err
	}
	meta, err := f.provider.Stat(ctx, p)
	if err != nil {
		return models.FileMetadata{}, storage.Classify("stat", err)
	}
	return meta, nil
}

// Read opens the object at raw path for streaming. The caller owns the
// returned stream and must close it.
func (f *FileStore) Read(ctx context.Context, raw string) (io.ReadCloser, error) {
	p, err := parseLeaf("read", raw)
	if err != nil {
		return nil, err
	}
	rc, err := f.provider.Read(ctx, p)
	if err != nil {
		return nil, storage.Classify("read", err)
	}
	return rc, nil
}

// Write stores the stream at raw path, replacing any existing object only
// once the stream has been fully consumed.
func (f *FileStore) Write(ctx context.Context, raw string, data io.Reader) (models.FileMetadata, error) {
	p, err := parseLeaf("write", raw)
	if err != nil {
		return models.FileMetadata{}, err
	}
	meta, err := f.provider.Write(ctx, p, data)
	if err != nil {
		return models.FileMetadata{}, storage.Classify("write", err)
	}
	return meta, nil
}

// Delete removes the object at raw path. A directory-like path removes the
// whole subtree beneath it; a file path requires the object to exist.
func (f *FileStore) Delete(ctx context.Context, raw string) error {
	p, err := storagepath.Parse(raw)
	if err != nil {
		return storage.NewError(storage.ErrInvalidPath, "delete", raw, err)
	}
	if p.IsDir() {
		return f.removePrefix(ctx, p)
	}
	if err := f.provider.Delete(ctx, p); err != nil {
		return storage.Classify("delete", err)
	}
	return nil
}

// removePrefix deletes every object under prefix. Objects deleted by a
// concurrent caller are skipped, so two racing removals both succeed.
func (f *FileStore) removePrefix(ctx context.Context, prefix storagepath.Path) error {
	it := f.provider.List(ctx, prefix)
	defer it.Close()

	removed := 0
	for {
		entry, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return storage.Classify("delete", err)
		}
		if err := f.provider.Delete(ctx, entry.Path); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return storage.Classify("delete", err)
		}
		removed++
	}

	f.logger.WithFields(logrus.Fields{
		"prefix":  prefix.String(),
		"removed": removed,
	}).Debug("Removed objects under prefix")
	return nil
}

// Copy duplicates the object at src to dst. The backend performs the copy
// server-side when it can; otherwise content streams through this process.
func (f *FileStore) Copy(ctx context.Context, src, dst string) (models.FileMetadata, error) {
	from, err := parseLeaf("copy", src)
	if err != nil {
		return models.FileMetadata{}, err
	}
	to, err := parseLeaf("copy", dst)
	if err != nil {
		return models.FileMetadata{}, err
	}
	meta, err := f.provider.Copy(ctx, from, to)
	if err != nil {
		return models.FileMetadata{}, storage.Classify("copy", err)
	}
	return meta, nil
}

// List enumerates objects under the raw prefix in path order. An empty
// prefix lists the whole store.
func (f *FileStore) List(ctx context.Context, rawPrefix string) ([]models.FileMetadata, error) {
	p, err := storagepath.Parse(rawPrefix)
	if err != nil {
		return nil, storage.NewError(storage.ErrInvalidPath, "list", rawPrefix, err)
	}
	entries, err := storage.CollectEntries(ctx, f.provider.List(ctx, p.AsPrefix()))
	if err != nil {
		return nil, storage.Classify("list", err)
	}
	return entries, nil
}
