// Package fetcher implements the version-negotiating HTTP client used
// against the register and provider endpoints.
package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures the HTTP client.
type Options struct {
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	RatePerHost rate.Limit
	Burst       int
}

// Client issues GETs with transport-level retry, per-host rate
// limiting and x-v version negotiation. One Client is shared for the
// lifetime of a run; its connection pool is released by Close.
type Client struct {
	client *http.Client
	opts   Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Client with the given options.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = 400 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "cdr-pipeline/1.0"
	}
	if opts.RatePerHost == 0 {
		opts.RatePerHost = 10
	}
	if opts.Burst == 0 {
		opts.Burst = 10
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Close releases idle transport connections.
func (c *Client) Close() {
	if t, ok := c.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

func (c *Client) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = rate.NewLimiter(c.opts.RatePerHost, c.opts.Burst)
		c.limiters[host] = lim
	}
	return lim
}

// retryable reports whether a status code is transient enough to retry.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// doWithRetry performs the request, retrying connection errors, 429s
// and 5xx responses with exponential backoff and jitter, honoring
// Retry-After. When retries are exhausted on a transient status the
// last response is returned rather than an error: an HTTP error
// response is a valid outcome the caller records.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		lim := c.limiterFor(req.URL.String())
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		cloned := req.Clone(ctx)
		resp, err := c.client.Do(cloned)
		if err != nil {
			lastErr = err
			zap.L().Warn("http request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.backoff(ctx, attempt, 0)
			continue
		}

		if retryable(resp.StatusCode) && attempt < c.opts.MaxRetries {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			_ = resp.Body.Close()
			zap.L().Warn("transient status, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			c.backoff(ctx, attempt, retryAfter)
			continue
		}

		return resp, nil
	}

	return nil, eris.Wrapf(lastErr, "fetcher: all retries exhausted for %s", req.URL.String())
}

// backoff sleeps for an exponentially growing, jittered interval, or
// the server-supplied Retry-After hint when it is longer.
func (c *Client) backoff(ctx context.Context, attempt int, retryAfter time.Duration) {
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(c.opts.BackoffBase) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d)/2 + 1))
	if retryAfter > d {
		d = retryAfter
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// get issues one GET with the x-v header set and reads the full body.
func (c *Client) get(ctx context.Context, rawURL string, xv int) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "fetcher: create request for %s", rawURL)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-v", strconv.Itoa(xv))

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// The exchange happened; surface what we got with an empty body.
		zap.L().Warn("failed reading response body",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		body = nil
	}
	return resp, body, nil
}
