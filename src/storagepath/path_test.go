package storagepath

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNormalization(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantDir bool
	}{
		{"simple file", "a/b", "a/b", false},
		{"simple dir", "a/b/", "a/b/", true},
		{"double separator collapses", "a//b", "a/b", false},
		{"dot segments collapse", "a/./b", "a/b", false},
		{"dotdot pops", "a/c/../b", "a/b", false},
		{"leading separator", "/a/b", "a/b", false},
		{"root", "", "", true},
		{"bare separator", "/", "", true},
		{"dot only", ".", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
			assert.Equal(t, tt.wantDir, p.IsDir())
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"escape above root", ".."},
		{"escape after segment", "a/../.."},
		{"leading escape", "../a"},
		{"embedded NUL", "a/b\x00c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, raw := range []string{"", "a", "a/", "a/b/c", "deep/nested/dir/", "a//b/./c"} {
		p, err := Parse(raw)
		require.NoError(t, err)

		again, err := Parse(p.String())
		require.NoError(t, err)
		assert.True(t, p.Equal(again), "round trip of %q: %q != %q", raw, p, again)
	}
}

func TestStructuralEquality(t *testing.T) {
	a := MustParse("a/b")
	b := MustParse("a//b")
	c := MustParse("a/./b")
	assert.True(t, a.Equal(b))
	assert.True(t, a.Equal(c))
	assert.False(t, a.Equal(a.AsPrefix()))
	assert.False(t, a.Equal(MustParse("a/b/c")))
}

func TestJoinAssociative(t *testing.T) {
	a := MustParse("a")
	b := MustParse("b/c")
	c := MustParse("d/e")

	left := a.Join(b).Join(c)
	right := a.Join(b.Join(c))
	assert.True(t, left.Equal(right))
	assert.Equal(t, "a/b/c/d/e", left.String())
}

func TestJoinTakesRelativeFlag(t *testing.T) {
	base := MustParse("a/")
	assert.False(t, base.Join(MustParse("b")).IsDir())
	assert.True(t, base.Join(MustParse("b/")).IsDir())
	assert.True(t, base.Join(Root()).IsDir())
}

func TestParent(t *testing.T) {
	p := MustParse("a/b/c")

	parent, ok := p.Parent()
	require.True(t, ok)
	assert.Equal(t, "a/b/", parent.String())
	assert.True(t, parent.IsDir())

	_, ok = Root().Parent()
	assert.False(t, ok)
}

func TestLessOrdering(t *testing.T) {
	raws := []string{"b", "a/b", "ab", "a-", "a/b/c", "a"}
	paths := make([]Path, 0, len(raws))
	for _, raw := range raws {
		paths = append(paths, MustParse(raw))
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].Less(paths[j]) })

	got := make([]string, 0, len(paths))
	for _, p := range paths {
		got = append(got, p.String())
	}
	// Segment-wise order: a sorts with its children before a- and ab.
	assert.Equal(t, []string{"a", "a/b", "a/b/c", "a-", "ab", "b"}, got)
}

func TestHasPrefix(t *testing.T) {
	p := MustParse("a/b/c")
	assert.True(t, p.HasPrefix(Root()))
	assert.True(t, p.HasPrefix(MustParse("a/")))
	assert.True(t, p.HasPrefix(MustParse("a/b")))
	assert.True(t, p.HasPrefix(p))
	assert.False(t, p.HasPrefix(MustParse("a/c")))
	assert.False(t, MustParse("ab").HasPrefix(MustParse("a")))
}
