// Package stream provides the byte-stream plumbing shared by the storage
// backends. Streams are plain io.ReadCloser values: pull-based, single-pass,
// cancelled by Close. The helpers here add context binding, incremental
// hashing, byte counting, and fixed-size part splitting for multipart
// uploads, each without buffering more than one chunk.
package stream

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"
	"sync"
)

// CancelReader binds an io.ReadCloser to a context. When the context is
// cancelled the underlying stream is closed immediately, which aborts any
// in-flight request or open handle even while a Read is blocked. Close is
// idempotent and safe to call concurrently with the context watcher.
type CancelReader struct {
	ctx  context.Context
	rc   io.ReadCloser
	stop chan struct{}
	once sync.Once

	mu       sync.Mutex
	closeErr error
}

// NewCancelReader wraps rc so that cancelling ctx (or calling Close) releases
// the underlying resource exactly once.
func NewCancelReader(ctx context.Context, rc io.ReadCloser) *CancelReader {
	c := &CancelReader{ctx: ctx, rc: rc, stop: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.stop:
		}
	}()
	return c
}

func (c *CancelReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.rc.Read(p)
	if err != nil && err != io.EOF {
		// A close triggered by cancellation surfaces as a read error on the
		// underlying stream; report the cancellation instead.
		if ctxErr := c.ctx.Err(); ctxErr != nil {
			return n, ctxErr
		}
	}
	return n, err
}

// Close releases the underlying stream. Subsequent calls return the first
// result.
func (c *CancelReader) Close() error {
	c.once.Do(func() {
		close(c.stop)
		c.mu.Lock()
		c.closeErr = c.rc.Close()
		c.mu.Unlock()
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// ContextReader returns a reader that fails with the context's error once
// ctx is cancelled. It is used for caller-supplied write streams, where the
// caller retains ownership of any underlying resource.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// HashingReader computes a SHA-1 digest of everything read through it.
type HashingReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

// NewHashingReader wraps r with incremental SHA-1 hashing.
func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, h: sha1.New()}
}

func (h *HashingReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.h.Write(p[:n])
		h.n += int64(n)
	}
	return n, err
}

// Sum returns the hex SHA-1 of the bytes read so far.
func (h *HashingReader) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// Count returns the number of bytes read so far.
func (h *HashingReader) Count() int64 { return h.n }

// SHA1Hex returns the hex SHA-1 digest of data.
func SHA1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// PartSplitter slices a stream into parts of at most partSize bytes. Only
// one part is resident in memory at a time, which is what bounds memory use
// for arbitrarily large uploads.
type PartSplitter struct {
	r        io.Reader
	partSize int
	done     bool
}

// NewPartSplitter returns a splitter producing partSize-byte parts from r.
func NewPartSplitter(r io.Reader, partSize int) *PartSplitter {
	return &PartSplitter{r: r, partSize: partSize}
}

// Next returns the next part, or io.EOF after the final part has been
// returned. A short final part is normal; a zero-length tail is dropped.
func (s *PartSplitter) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	buf := make([]byte, s.partSize)
	n, err := io.ReadFull(s.r, buf)
	switch err {
	case nil:
		return buf, nil
	case io.ErrUnexpectedEOF:
		s.done = true
		return buf[:n], nil
	case io.EOF:
		s.done = true
		return nil, io.EOF
	default:
		s.done = true
		return nil, err
	}
}
