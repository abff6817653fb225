package stream

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackedReader struct {
	io.Reader
	closed atomic.Bool
}

func (r *trackedReader) Close() error {
	r.closed.Store(true)
	return nil
}

// blockingReader blocks until closed, like an idle network body.
type blockingReader struct {
	unblock chan struct{}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.unblock
	return 0, io.ErrClosedPipe
}

func (r *blockingReader) Close() error {
	close(r.unblock)
	return nil
}

func TestCancelReaderReadsThrough(t *testing.T) {
	src := &trackedReader{Reader: strings.NewReader("hello world")}
	cr := NewCancelReader(context.Background(), src)

	data, err := io.ReadAll(cr)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	require.NoError(t, cr.Close())
	assert.True(t, src.closed.Load())
}

func TestCancelReaderReleasesOnCancel(t *testing.T) {
	src := &blockingReader{unblock: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cr := NewCancelReader(ctx, src)

	readErr := make(chan error, 1)
	go func() {
		_, err := cr.Read(make([]byte, 8))
		readErr <- err
	}()

	cancel()

	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked read was not released by cancellation")
	}
}

func TestCancelReaderCloseIdempotent(t *testing.T) {
	src := &trackedReader{Reader: strings.NewReader("x")}
	cr := NewCancelReader(context.Background(), src)
	require.NoError(t, cr.Close())
	require.NoError(t, cr.Close())
}

func TestHashingReader(t *testing.T) {
	payload := []byte("the quick brown fox")
	hr := NewHashingReader(bytes.NewReader(payload))

	data, err := io.ReadAll(hr)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, int64(len(payload)), hr.Count())

	want := sha1.Sum(payload)
	assert.Equal(t, hex.EncodeToString(want[:]), hr.Sum())
}

func TestPartSplitter(t *testing.T) {
	tests := []struct {
		name      string
		input     int
		partSize  int
		wantSizes []int
	}{
		{"exact multiple", 12, 4, []int{4, 4, 4}},
		{"short tail", 10, 4, []int{4, 4, 2}},
		{"single short part", 3, 4, []int{3}},
		{"empty input", 0, 4, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte{0xAB}, tt.input)
			s := NewPartSplitter(bytes.NewReader(payload), tt.partSize)

			var sizes []int
			var joined []byte
			for {
				part, err := s.Next()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				sizes = append(sizes, len(part))
				joined = append(joined, part...)
			}

			assert.Equal(t, tt.wantSizes, sizes)
			assert.Equal(t, payload, joined)

			_, err := s.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestContextReader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := ContextReader(ctx, strings.NewReader("abcdef"))

	buf := make([]byte, 3)
	_, err := r.Read(buf)
	require.NoError(t, err)

	cancel()
	_, err = r.Read(buf)
	assert.ErrorIs(t, err, context.Canceled)
}
