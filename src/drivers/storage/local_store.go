package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/FractalBrew/file-store/src/models"
	"github.com/FractalBrew/file-store/src/storagepath"
	"github.com/FractalBrew/file-store/src/stream"
)

// tempMarker tags in-progress write files so listings skip them and the
// maintenance sweep can reclaim orphans.
const tempMarker = ".fstmp-"

// LocalStore maps the capability contract onto a directory tree rooted at a
// configured base directory. Writes are atomic: content streams to a
// temporary sibling which is renamed into place only after the input stream
// is fully consumed, so a reader never observes partial content.
type LocalStore struct {
	base   string
	logger *logrus.Logger
}

// NewLocalStore creates a local backend rooted at baseDir, creating the
// directory if needed.
func NewLocalStore(baseDir string, logger *logrus.Logger) (*LocalStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	if err := os.MkdirAll(absBase, 0o755); err != nil {
		return nil, fmt.Errorf("ensure base directory: %w", err)
	}
	return &LocalStore{base: absBase, logger: logger}, nil
}

// resolve maps a storage path onto a filesystem path under the base
// directory. Parse already strips separator and `..` segments, but the
// escape check is a validated invariant here, not a convention.
func (s *LocalStore) resolve(p storagepath.Path) (string, error) {
	joined := s.base
	for _, seg := range p.Segments() {
		joined = filepath.Join(joined, seg)
	}
	rel, err := filepath.Rel(s.base, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", NewError(ErrInvalidPath, "resolve", p.String(), fmt.Errorf("path escapes base directory"))
	}
	return joined, nil
}

func (s *LocalStore) Stat(ctx context.Context, path storagepath.Path) (models.FileMetadata, error) {
	if path.IsDir() {
		return models.FileMetadata{}, NewError(ErrInvalidPath, "stat", path.String(), fmt.Errorf("object paths cannot be directory-like"))
	}
	target, err := s.resolve(path)
	if err != nil {
		return models.FileMetadata{}, err
	}
	info, err := os.Lstat(target)
	if err != nil {
		return models.FileMetadata{}, mapOSError("stat", path.String(), err)
	}
	if !info.Mode().IsRegular() {
		return models.FileMetadata{}, NewError(ErrNotFound, "stat", path.String(), nil)
	}
	return models.FileMetadata{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

func (s *LocalStore) Read(ctx context.Context, path storagepath.Path) (io.ReadCloser, error) {
	if path.IsDir() {
		return nil, NewError(ErrInvalidPath, "read", path.String(), fmt.Errorf("object paths cannot be directory-like"))
	}
	target, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Lstat(target)
	if err != nil {
		return nil, mapOSError("read", path.String(), err)
	}
	if !info.Mode().IsRegular() {
		return nil, NewError(ErrNotFound, "read", path.String(), nil)
	}

	f, err := os.Open(target)
	if err != nil {
		return nil, mapOSError("read", path.String(), err)
	}
	return stream.NewCancelReader(ctx, f), nil
}

func (s *LocalStore) Write(ctx context.Context, path storagepath.Path, data io.Reader) (models.FileMetadata, error) {
	if path.IsDir() {
		return models.FileMetadata{}, NewError(ErrInvalidPath, "write", path.String(), fmt.Errorf("object paths cannot be directory-like"))
	}
	target, err := s.resolve(path)
	if err != nil {
		return models.FileMetadata{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return models.FileMetadata{}, mapOSError("write", path.String(), err)
	}

	tmp := target + tempMarker + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return models.FileMetadata{}, mapOSError("write", path.String(), err)
	}

	hashed := stream.NewHashingReader(stream.ContextReader(ctx, data))
	_, copyErr := io.Copy(f, hashed)
	closeErr := f.Close()

	if copyErr != nil {
		os.Remove(tmp)
		return models.FileMetadata{}, mapOSError("write", path.String(), copyErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return models.FileMetadata{}, mapOSError("write", path.String(), closeErr)
	}

	// The original, if any, stays untouched until this rename.
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return models.FileMetadata{}, mapOSError("write", path.String(), err)
	}

	s.logger.WithFields(logrus.Fields{
		"path": path.String(),
		"size": hashed.Count(),
	}).Debug("Wrote local object")

	return models.FileMetadata{
		Path:    path,
		Size:    hashed.Count(),
		ModTime: time.Now().UTC(),
		SHA1:    hashed.Sum(),
	}, nil
}

func (s *LocalStore) Delete(ctx context.Context, path storagepath.Path) error {
	if path.IsDir() {
		return NewError(ErrInvalidPath, "delete", path.String(), fmt.Errorf("object paths cannot be directory-like"))
	}
	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	info, err := os.Lstat(target)
	if err != nil {
		return mapOSError("delete", path.String(), err)
	}
	if !info.Mode().IsRegular() {
		return NewError(ErrNotFound, "delete", path.String(), nil)
	}
	if err := os.Remove(target); err != nil {
		return mapOSError("delete", path.String(), err)
	}
	s.pruneEmptyParents(filepath.Dir(target))
	return nil
}

// pruneEmptyParents removes directories left empty by a delete, stopping at
// the base directory or the first non-empty one.
func (s *LocalStore) pruneEmptyParents(dir string) {
	for dir != s.base {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *LocalStore) Copy(ctx context.Context, src, dst storagepath.Path) (models.FileMetadata, error) {
	return CopyViaReadWrite(ctx, s, src, dst)
}

func (s *LocalStore) List(ctx context.Context, prefix storagepath.Path) EntryIterator {
	return newDeferredIterator(func(ctx context.Context) ([]models.FileMetadata, error) {
		return s.collect(ctx, prefix)
	})
}

func (s *LocalStore) collect(ctx context.Context, prefix storagepath.Path) ([]models.FileMetadata, error) {
	root, err := s.resolve(prefix)
	if err != nil {
		return nil, err
	}

	info, err := os.Lstat(root)
	if os.IsNotExist(err) {
		// Listing an absent prefix is an empty enumeration, matching the
		// remote backend.
		return nil, nil
	}
	if err != nil {
		return nil, mapOSError("list", prefix.String(), err)
	}

	if info.Mode().IsRegular() {
		if strings.Contains(filepath.Base(root), tempMarker) {
			return nil, nil
		}
		return []models.FileMetadata{{
			Path:    prefix.AsFile(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}}, nil
	}
	if !info.IsDir() {
		return nil, nil
	}

	var entries []models.FileMetadata
	walkErr := filepath.WalkDir(root, func(fullPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return mapOSError("list", prefix.String(), err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// WalkDir does not follow symlinks; skip the link entries themselves
		// too so cycles cannot appear in listings.
		if d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if strings.Contains(d.Name(), tempMarker) {
			return nil
		}

		rel, err := filepath.Rel(s.base, fullPath)
		if err != nil {
			return mapOSError("list", prefix.String(), err)
		}
		p, err := storagepath.Parse(filepath.ToSlash(rel))
		if err != nil {
			return NewError(ErrFatal, "list", rel, err)
		}

		fileInfo, err := d.Info()
		if err != nil {
			return mapOSError("list", p.String(), err)
		}
		entries = append(entries, models.FileMetadata{
			Path:    p,
			Size:    fileInfo.Size(),
			ModTime: fileInfo.ModTime(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return entries, nil
}

// SweepStale removes orphaned temporary write files older than olderThan.
// Run from the maintenance scheduler.
func (s *LocalStore) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	err := filepath.WalkDir(s.base, func(fullPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return mapOSError("sweep", fullPath, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.Contains(d.Name(), tempMarker) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(fullPath); err == nil {
			removed++
		}
		return nil
	})
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("Swept stale temp files")
	}
	return removed, err
}

var _ Provider = (*LocalStore)(nil)
