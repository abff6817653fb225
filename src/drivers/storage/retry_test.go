package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestWithRetryTransientSucceedsEventually(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), quietLogger(), testRetryConfig(), "op", func() error {
		calls++
		if calls < 3 {
			return NewError(ErrTransient, "op", "", errors.New("flaky"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryFatalNotRetried(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), quietLogger(), testRetryConfig(), "op", func() error {
		calls++
		return NewError(ErrFatal, "op", "", errors.New("broken"))
	})
	assert.ErrorIs(t, err, ErrFatal)
	assert.Equal(t, 1, calls)
}

func TestWithRetryIntegrityNotRetried(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), quietLogger(), testRetryConfig(), "op", func() error {
		calls++
		return NewError(ErrIntegrity, "op", "key", errors.New("hash mismatch"))
	})
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.Equal(t, 1, calls)
}

func TestWithRetryExhaustionKeepsTransientKind(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), quietLogger(), testRetryConfig(), "op", func() error {
		calls++
		return NewError(ErrTransient, "op", "", errors.New("still down"))
	})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 4, calls)
}

func TestWithRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, quietLogger(), testRetryConfig(), "op", func() error {
		calls++
		cancel()
		return NewError(ErrTransient, "op", "", errors.New("flaky"))
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoffForStaysWithinBounds(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  2.0,
	}
	for attempt := 1; attempt <= 10; attempt++ {
		wait := cfg.backoffFor(attempt)
		assert.GreaterOrEqual(t, wait, 50*time.Millisecond)
		assert.LessOrEqual(t, wait, time.Second)
	}
}
