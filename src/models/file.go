package models

import (
	"time"

	"github.com/FractalBrew/file-store/src/storagepath"
)

// FileMetadata describes one stored object as reported by Stat and List.
// Values are immutable once produced; a refresh replaces the whole record.
type FileMetadata struct {
	Path storagepath.Path `json:"-"`

	// Size of the object in bytes.
	Size int64 `json:"size"`

	// ModTime is the last-modified timestamp when the backend reports one;
	// the zero value means unknown.
	ModTime time.Time `json:"modTime,omitempty"`

	// SHA1 is the hex content hash when known, "" otherwise. The remote
	// backend verifies it against the server on upload; the local backend
	// computes it while streaming writes.
	SHA1 string `json:"sha1,omitempty"`
}

// Key returns the canonical string form of the object path, which is what
// the JSON surface exposes.
func (m FileMetadata) Key() string { return m.Path.String() }
