package storage

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig holds the backoff schedule shared by every remote operation.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns the retry policy used unless configuration
// overrides it.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	return c
}

// backoffFor computes the sleep before the given retry attempt (1-based),
// exponential with full jitter on the upper half.
func (c RetryConfig) backoffFor(attempt int) time.Duration {
	backoff := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= c.BackoffFactor
		if backoff >= float64(c.MaxBackoff) {
			backoff = float64(c.MaxBackoff)
			break
		}
	}
	half := backoff / 2
	return time.Duration(half + rand.Float64()*half)
}

// withRetry runs fn up to cfg.MaxAttempts times, retrying only errors that
// classify as transient. Fatal kinds (including ErrIntegrity) surface
// immediately. The last transient error is returned once attempts are
// exhausted, still carrying ErrTransient so callers may retry at a higher
// level.
func withRetry(ctx context.Context, logger *logrus.Logger, cfg RetryConfig, op string, fn func() error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := cfg.backoffFor(attempt - 1)
			logger.WithFields(logrus.Fields{
				"operation": op,
				"attempt":   attempt,
				"backoff":   wait.String(),
			}).Debug("Retrying after transient failure")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransient) {
			return err
		}
		lastErr = err

		logger.WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt,
		}).WithError(err).Warn("Transient failure")
	}
	return lastErr
}
