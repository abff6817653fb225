// Package storagepath defines the canonical addressing model shared by all
// storage backends. A Path is an ordered list of segments plus a flag that
// distinguishes directory-like (prefix) addressing from file-like (leaf)
// addressing, so hierarchical local paths and flat remote object keys can be
// handled through the same value type.
package storagepath

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins segments in the string form of a Path. Segments themselves
// never contain it.
const Separator = "/"

// ErrInvalidPath reports a raw path that cannot be represented: embedded NUL
// bytes, or `..` segments that would escape above the root.
var ErrInvalidPath = errors.New("invalid path")

// Path is an immutable storage location. The zero value is the root prefix.
type Path struct {
	segments []string
	dir      bool
}

// Root returns the empty directory-like path.
func Root() Path {
	return Path{dir: true}
}

// Parse normalizes raw into a Path. Empty and `.` segments collapse, `..`
// removes the preceding segment and fails with ErrInvalidPath if there is
// none to remove. A trailing separator (or an empty string) yields a
// directory-like path.
func Parse(raw string) (Path, error) {
	if strings.ContainsRune(raw, 0) {
		return Path{}, fmt.Errorf("%w: embedded NUL byte", ErrInvalidPath)
	}

	dir := raw == "" || strings.HasSuffix(raw, Separator)
	var segments []string
	for _, seg := range strings.Split(raw, Separator) {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(segments) == 0 {
				return Path{}, fmt.Errorf("%w: %q escapes above the root", ErrInvalidPath, raw)
			}
			segments = segments[:len(segments)-1]
		default:
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		dir = true
	}
	return Path{segments: segments, dir: dir}, nil
}

// MustParse is Parse for statically known paths; it panics on error.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// IsDir reports whether the path addresses a prefix rather than a leaf.
func (p Path) IsDir() bool { return p.dir }

// IsRoot reports whether the path has no segments.
func (p Path) IsRoot() bool { return len(p.segments) == 0 }

// String renders the canonical form: segments joined by the separator, with
// a trailing separator for non-root directory-like paths. Parse(p.String())
// round-trips to an equal Path.
func (p Path) String() string {
	s := strings.Join(p.segments, Separator)
	if p.dir && len(p.segments) > 0 {
		s += Separator
	}
	return s
}

// Join appends rel beneath p. The result takes rel's directory flag. Join is
// the only sanctioned way to build deeper paths; callers never concatenate
// raw strings.
func (p Path) Join(rel Path) Path {
	segments := make([]string, 0, len(p.segments)+len(rel.segments))
	segments = append(segments, p.segments...)
	segments = append(segments, rel.segments...)
	dir := rel.dir
	if len(segments) == 0 {
		dir = true
	}
	return Path{segments: segments, dir: dir}
}

// Parent returns the directory-like path one level up, and false at the root.
func (p Path) Parent() (Path, bool) {
	if len(p.segments) == 0 {
		return Path{}, false
	}
	segments := make([]string, len(p.segments)-1)
	copy(segments, p.segments)
	return Path{segments: segments, dir: true}, true
}

// AsPrefix returns the same location forced to directory-like addressing.
func (p Path) AsPrefix() Path {
	return Path{segments: p.segments, dir: true}
}

// AsFile returns the same location forced to file-like addressing. The root
// cannot address a file and stays directory-like.
func (p Path) AsFile() Path {
	if len(p.segments) == 0 {
		return Path{dir: true}
	}
	return Path{segments: p.segments, dir: false}
}

// Base returns the final segment, or "" for the root.
func (p Path) Base() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Equal reports structural equality: same segments, same addressing mode.
// Raw spellings such as "a/b" and "a//b" compare equal after Parse.
func (p Path) Equal(other Path) bool {
	if p.dir != other.dir || len(p.segments) != len(other.segments) {
		return false
	}
	for i, seg := range p.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}

// Less orders paths lexicographically segment by segment, with a shorter
// path sorting before its extensions. This matches a depth-first walk of a
// directory tree, so local and remote listings agree on ordering.
func (p Path) Less(other Path) bool {
	n := len(p.segments)
	if len(other.segments) < n {
		n = len(other.segments)
	}
	for i := 0; i < n; i++ {
		if p.segments[i] != other.segments[i] {
			return p.segments[i] < other.segments[i]
		}
	}
	if len(p.segments) != len(other.segments) {
		return len(p.segments) < len(other.segments)
	}
	return !p.dir && other.dir
}

// HasPrefix reports whether p sits at or below prefix. Matching is by whole
// segments, never by partial segment text, so "ab" is not under "a".
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix.segments) > len(p.segments) {
		return false
	}
	for i, seg := range prefix.segments {
		if p.segments[i] != seg {
			return false
		}
	}
	return true
}
