// Package tracker talks to the issue tracker over HTTP: URL building,
// authentication and opening response streams.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Fetcher opens an authenticated stream for a tracker URL. Callers close it.
type Fetcher interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Code, e.Body)
	}
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// Fatal reports whether the status means the configured access is wrong.
func (e *StatusError) Fatal() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}

// BreakerConfig tunes the circuit breaker around tracker requests.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns conservative breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         5 * time.Minute,
		Timeout:          2 * time.Minute,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// HTTPFetcher implements Fetcher with net/http behind a circuit breaker.
type HTTPFetcher struct {
	client  *http.Client
	auth    Authenticator
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPFetcher returns a fetcher using client and auth. A nil client uses a
// client with a 30s timeout; a nil auth sends no credentials.
func NewHTTPFetcher(client *http.Client, auth Authenticator, cfg BreakerConfig) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if auth == nil {
		auth = NoAuth{}
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tracker",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		// Client errors say nothing about tracker health.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500
			}
			return err == nil
		},
	})

	return &HTTPFetcher{client: client, auth: auth, breaker: cb}
}

// Open issues a GET for url. Non-2xx responses are returned as *StatusError.
func (f *HTTPFetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	out, err := f.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/xml, application/rss+xml, text/xml")
		if err := f.auth.Authorize(ctx, req); err != nil {
			return nil, err
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", url, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return nil, &StatusError{URL: url, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		return resp.Body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("tracker unavailable: %w", err)
		}
		return nil, err
	}
	return out.(io.ReadCloser), nil
}
