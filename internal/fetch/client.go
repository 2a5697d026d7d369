// Package fetch downloads registry resources and decodes them into raw rows.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultTimeout        = 45 * time.Second
	DefaultMaxAttempts    = 3
	DefaultBackoff        = 1200 * time.Millisecond
	DefaultRateLimitDelay = 2 * time.Second

	maxBodyBytes = 256 << 20
)

// Outcomes passed to an Observer.
const (
	OutcomeOK          = "ok"
	OutcomeHTTPError   = "http_error"
	OutcomeNetError    = "net_error"
	OutcomeRateLimited = "rate_limited"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Retryable reports whether another attempt could succeed.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout || e.Code >= 500
}

// Observer receives the outcome of every HTTP attempt.
type Observer interface {
	ObserveFetch(outcome string, d time.Duration)
}

// Options configures a Client. Zero values take the defaults above.
type Options struct {
	UserAgent      string
	Timeout        time.Duration
	MaxAttempts    int
	Backoff        time.Duration
	RateLimitDelay time.Duration
	Jar            http.CookieJar
	Transport      http.RoundTripper
	Observer       Observer
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode  int
	ContentType string
	FinalURL    string
	Body        []byte
}

// Client performs GET requests with browser-like headers and linear-backoff retries.
type Client struct {
	http *http.Client
	opts Options
}

// NewClient creates a client.
func NewClient(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.RateLimitDelay <= 0 {
		opts.RateLimitDelay = DefaultRateLimitDelay
	}
	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Jar:       opts.Jar,
			Transport: opts.Transport,
		},
		opts: opts,
	}
}

// WithJar returns a copy of c that keeps cookies in jar.
func (c *Client) WithJar(jar http.CookieJar) *Client {
	opts := c.opts
	opts.Jar = jar
	return NewClient(opts)
}

// Get downloads url. Network errors, 5xx, 408 and 429 are retried; the wait
// grows linearly with the attempt number, and 429 uses the longer rate-limit delay.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.get(ctx, url, "*/*")
}

// GetJSON downloads url and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := c.get(ctx, url, "application/json, text/javascript, */*; q=0.01")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode json from %s: %w", url, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url, accept string) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.opts.Backoff * time.Duration(attempt)
			var se *StatusError
			if errors.As(lastErr, &se) && se.Code == http.StatusTooManyRequests {
				wait = c.opts.RateLimitDelay * time.Duration(attempt+1)
			}
			slog.Debug("retrying fetch", "url", url, "attempt", attempt+1, "wait", wait, "error", lastErr)
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		resp, err := c.do(ctx, url, accept)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			break
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", url, lastErr)
}

func (c *Client) do(ctx context.Context, url, accept string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "ja,en;q=0.9")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(OutcomeNetError, start)
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode == http.StatusTooManyRequests {
			c.observe(OutcomeRateLimited, start)
		} else {
			c.observe(OutcomeHTTPError, start)
		}
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.observe(OutcomeNetError, start)
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.observe(OutcomeOK, start)

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
		Body:        body,
	}, nil
}

func (c *Client) observe(outcome string, start time.Time) {
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveFetch(outcome, time.Since(start))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
