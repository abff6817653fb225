// Package storage defines the capability contract every storage backend
// implements, the shared error taxonomy, and the two concrete backends:
// LocalStore over a base directory and RemoteStore over the B2 object
// storage protocol. New backends implement Provider; nothing subclasses an
// existing backend.
package storage

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/FractalBrew/file-store/src/models"
	"github.com/FractalBrew/file-store/src/storagepath"
)

// Provider is the capability contract shared by all backends.
//
// Semantics common to every implementation:
//   - List enumerates entries at or below prefix, recursively, ordered
//     lexicographically by normalized path. The iterator is lazy; a failure
//     mid-enumeration surfaces as the iterator's terminal error.
//   - Write consumes data fully or fails, and is atomic from any reader's
//     point of view: no partially written object is ever observable.
//   - Delete reports ErrNotFound for an absent path; callers that want
//     idempotent semantics may treat that as success.
//   - Copy may use a backend-native server-side copy; CopyViaReadWrite is
//     the default implementation for backends without one.
type Provider interface {
	List(ctx context.Context, prefix storagepath.Path) EntryIterator
	Stat(ctx context.Context, path storagepath.Path) (models.FileMetadata, error)
	Read(ctx context.Context, path storagepath.Path) (io.ReadCloser, error)
	Write(ctx context.Context, path storagepath.Path, data io.Reader) (models.FileMetadata, error)
	Delete(ctx context.Context, path storagepath.Path) error
	Copy(ctx context.Context, src, dst storagepath.Path) (models.FileMetadata, error)
}

// Sweeper is implemented by backends with a periodic maintenance job:
// reclaiming orphaned temp files locally, cancelling stale unfinished
// uploads remotely. SweepStale returns how many items were reclaimed.
type Sweeper interface {
	SweepStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// EntryIterator is a lazy sequence of listing results. Next returns io.EOF
// after the final entry, or a taxonomy error as its terminal item. Close
// releases any resources held by an unfinished enumeration.
type EntryIterator interface {
	Next(ctx context.Context) (models.FileMetadata, error)
	Close() error
}

// CollectEntries drains it into a slice. The iterator is closed on return.
func CollectEntries(ctx context.Context, it EntryIterator) ([]models.FileMetadata, error) {
	defer it.Close()
	var entries []models.FileMetadata
	for {
		entry, err := it.Next(ctx)
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
}

// CopyViaReadWrite is the default copy implementation for backends without
// a native server-side copy: a streamed read into an atomic write.
func CopyViaReadWrite(ctx context.Context, p Provider, src, dst storagepath.Path) (models.FileMetadata, error) {
	rc, err := p.Read(ctx, src)
	if err != nil {
		return models.FileMetadata{}, err
	}
	defer rc.Close()
	return p.Write(ctx, dst, rc)
}

// sliceIterator yields pre-collected entries. Both backends use it once a
// listing has been gathered and sorted.
type sliceIterator struct {
	entries []models.FileMetadata
	next    int
}

func newSliceIterator(entries []models.FileMetadata) *sliceIterator {
	return &sliceIterator{entries: entries}
}

func (it *sliceIterator) Next(ctx context.Context) (models.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return models.FileMetadata{}, err
	}
	if it.next >= len(it.entries) {
		return models.FileMetadata{}, io.EOF
	}
	entry := it.entries[it.next]
	it.next++
	return entry, nil
}

func (it *sliceIterator) Close() error { return nil }

// errorIterator reports err as its terminal item.
type errorIterator struct {
	err error
}

func (it *errorIterator) Next(context.Context) (models.FileMetadata, error) {
	return models.FileMetadata{}, it.err
}

func (it *errorIterator) Close() error { return nil }

// deferredIterator runs fetch on the first Next call, so listings stay lazy
// until the caller actually pulls.
type deferredIterator struct {
	fetch func(ctx context.Context) ([]models.FileMetadata, error)
	inner EntryIterator
}

func newDeferredIterator(fetch func(ctx context.Context) ([]models.FileMetadata, error)) *deferredIterator {
	return &deferredIterator{fetch: fetch}
}

func (it *deferredIterator) Next(ctx context.Context) (models.FileMetadata, error) {
	if it.inner == nil {
		entries, err := it.fetch(ctx)
		if err != nil {
			it.inner = &errorIterator{err: err}
		} else {
			sortEntries(entries)
			it.inner = newSliceIterator(entries)
		}
	}
	return it.inner.Next(ctx)
}

func (it *deferredIterator) Close() error {
	if it.inner != nil {
		return it.inner.Close()
	}
	return nil
}

func sortEntries(entries []models.FileMetadata) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path.Less(entries[j].Path)
	})
}
