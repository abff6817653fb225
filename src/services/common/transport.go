// Package common holds service-level plumbing shared across backends: the
// pooled HTTP transport with circuit breaking that remote stores use to move
// bytes.
package common

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen reports a request rejected locally because the remote host
// has been failing; no bytes were sent.
var ErrCircuitOpen = errors.New("circuit breaker open")

// HTTPClientConfig tunes the pooled transport.
type HTTPClientConfig struct {
	// Timeout caps one whole request including the body. Zero means no cap,
	// which streaming downloads need.
	Timeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// DefaultHTTPClientConfig returns the pool settings used in production.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	}
}

// BreakerTransport executes HTTP requests through a shared connection pool
// guarded by a circuit breaker. Five consecutive transport failures open the
// circuit; requests are then rejected locally until a probe succeeds.
// Status-code semantics are left entirely to the caller, so 4xx and 5xx
// responses never count as breaker failures.
type BreakerTransport struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *logrus.Logger
}

// NewBreakerTransport builds the transport. name identifies the breaker in
// logs, one per remote host.
func NewBreakerTransport(name string, cfg HTTPClientConfig, logger *logrus.Logger) *BreakerTransport {
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &BreakerTransport{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
		logger:  logger,
	}
}

// Do sends one request. A rejection by the open circuit is reported as
// ErrCircuitOpen so callers can classify it as transient.
func (t *BreakerTransport) Do(req *http.Request) (*http.Response, error) {
	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		return t.client.Do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}
	return resp, nil
}

// State returns the breaker state for diagnostics endpoints.
func (t *BreakerTransport) State() gobreaker.State {
	return t.breaker.State()
}
