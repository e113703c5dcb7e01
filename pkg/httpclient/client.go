package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"chart-warehouse/pkg/logging"
	"chart-warehouse/pkg/metrics"
)

const (
	// DefaultTimeout bounds a single upstream request.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxAttempts caps physical attempts per logical request.
	DefaultMaxAttempts = 3
	// DefaultRetryPause is the fixed wait after a transport failure.
	DefaultRetryPause = 2 * time.Second
	// DefaultBackoffBase seeds the doubling wait after HTTP 429.
	DefaultBackoffBase = 2 * time.Second
)

// Config holds client behavior for one upstream source.
type Config struct {
	Source      string // label used in logs and metrics
	Timeout     time.Duration
	MaxAttempts int
	RetryPause  time.Duration
	BackoffBase time.Duration
	UserAgent   string
}

// DefaultConfig returns production settings for the given source label
func DefaultConfig(source string) Config {
	return Config{
		Source:      source,
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
		RetryPause:  DefaultRetryPause,
		BackoffBase: DefaultBackoffBase,
		UserAgent:   "chart-warehouse/1.0",
	}
}

// StatusError reports a non-success upstream response
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// IsNotFound reports whether err is an upstream 404
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether err is an upstream 429 that survived backoff
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// Client is a counting HTTP client with retry and backoff. Every physical
// attempt increments the request counter, so callers can meter themselves
// against upstream quotas by reading Requests.
type Client struct {
	cfg      Config
	http     *http.Client
	requests atomic.Int64
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// New creates a client for one upstream source
func New(cfg Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = DefaultRetryPause
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}

	return &Client{
		cfg: cfg,
		// Default transport is kept so the client stays interceptable in tests.
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Requests returns the number of physical HTTP attempts made so far
func (c *Client) Requests() int64 {
	return c.requests.Load()
}

// Do executes the request with retry semantics: a 429 waits
// BackoffBase<<attempt before the next try, a transport failure waits a
// fixed RetryPause. Both give up after MaxAttempts physical attempts.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		attemptReq := req.Clone(ctx)
		c.requests.Add(1)

		start := time.Now()
		resp, err := c.http.Do(attemptReq)
		c.metrics.HTTPRequestDuration.WithLabelValues(c.cfg.Source).Observe(time.Since(start).Seconds())

		if err != nil {
			lastErr = err
			if attempt == c.cfg.MaxAttempts-1 {
				break
			}
			c.metrics.RecordUpstreamRetry(c.cfg.Source, "transport")
			c.logger.Warn(ctx, "[HTTP_RETRY] Transport failure, retrying", logging.Fields{
				"source":  c.cfg.Source,
				"url":     req.URL.String(),
				"attempt": attempt + 1,
				"pause":   c.cfg.RetryPause.String(),
			})
			if err := sleepContext(ctx, c.cfg.RetryPause); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			drainBody(resp)
			lastErr = &StatusError{URL: req.URL.String(), StatusCode: resp.StatusCode}
			wait := c.cfg.BackoffBase << attempt
			c.metrics.RecordUpstreamRetry(c.cfg.Source, "rate_limited")
			c.logger.Warn(ctx, "[HTTP_BACKOFF] Rate limited, backing off", logging.Fields{
				"source":  c.cfg.Source,
				"url":     req.URL.String(),
				"attempt": attempt + 1,
				"wait":    wait.String(),
			})
			if err := sleepContext(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		c.metrics.RecordUpstreamRequest(c.cfg.Source, strconv.Itoa(resp.StatusCode))
		return resp, nil
	}

	return nil, fmt.Errorf("request to %s failed after %d attempts: %w", req.URL.String(), c.cfg.MaxAttempts, lastErr)
}

// GetJSON performs a GET and decodes a JSON body into out. A non-success
// status is returned as a StatusError so callers can classify 404s.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       string(snippet),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}

	return nil
}

// sleepContext waits for d unless the context is canceled first
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// drainBody discards and closes a response body so the connection is reused
func drainBody(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
