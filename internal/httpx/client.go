// Package httpx implements the resilient fetch layer: a rate-limited,
// retrying HTTP client with optional proxy rotation, plus the bounded
// caches that sit in front of per-id lookups.
//
// The layers apply in a fixed order: politeness (token bucket + minimum
// inter-request delay), proxy selection, per-attempt timeout, then
// retry with backoff chosen by failure class.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 5 * 1024 * 1024

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}

// Options control a single Fetch call.
type Options struct {
	Timeout        time.Duration // per-attempt timeout. Default: 10s.
	MaxRetries     int           // retries after the first attempt. Default: 3.
	RetryDelay     time.Duration // base backoff delay. Default: 500ms.
	UseRateLimiter bool          // pass through the politeness layer.
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
}

// Config configures a Client.
type Config struct {
	UserAgent string
	ProxyURLs []string
	// RefillPerSec is the token bucket refill rate. Default: 2.
	RefillPerSec float64
	// Burst is the token bucket capacity. Default: 10.
	Burst int
	// Floor is the minimum delay between any two requests, regardless of
	// bucket state. Default: 150ms.
	Floor time.Duration
}

func (c *Config) defaults() {
	if c.UserAgent == "" {
		c.UserAgent = "signalscout/1.0"
	}
	if c.RefillPerSec <= 0 {
		c.RefillPerSec = 2
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.Floor <= 0 {
		c.Floor = 150 * time.Millisecond
	}
}

// Client is the shared outbound HTTP client. All source clients go
// through a single Client so the rate limit covers the whole scan.
type Client struct {
	limiter *rate.Limiter
	direct  *http.Client
	proxies *ProxyRing
	cfg     Config
	log     *slog.Logger

	mu     sync.Mutex
	lastAt time.Time
}

// New creates a Client with the given configuration.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	cfg.defaults()
	ring, err := NewProxyRing(cfg.ProxyURLs)
	if err != nil {
		return nil, err
	}
	return &Client{
		limiter: rate.NewLimiter(rate.Limit(cfg.RefillPerSec), cfg.Burst),
		direct:  &http.Client{},
		proxies: ring,
		cfg:     cfg,
		log:     log,
	}, nil
}

// Fetch retrieves a URL, applying rate limiting, retries, and proxy
// rotation per the options. Returns the response body.
//
// HTTP 429 retries with exponential backoff and rotates the proxy;
// timeouts and network errors retry with linear backoff. Any other
// non-2xx status fails immediately.
func (c *Client) Fetch(ctx context.Context, url string, opts Options) ([]byte, error) {
	opts.defaults()

	bo := &fetchBackoff{delay: opts.RetryDelay}
	var body []byte
	err := retry.Do(ctx, retry.WithMaxRetries(uint64(opts.MaxRetries), bo), func(ctx context.Context) error {
		if opts.UseRateLimiter {
			if err := c.politeness(ctx); err != nil {
				return err
			}
		}

		b, err := c.fetchOnce(ctx, url, opts.Timeout)
		if err == nil {
			body = b
			return nil
		}

		var se *StatusError
		switch {
		case errors.As(err, &se) && se.Code == http.StatusTooManyRequests:
			bo.rateLimited = true
			c.proxies.Rotate()
			c.log.Debug("rate limited, backing off", "url", url, "attempt", bo.attempt)
			return retry.RetryableError(err)
		case errors.As(err, &se):
			// Other HTTP errors are not transient.
			return err
		case errors.Is(err, context.Canceled):
			return err
		default:
			// Timeout or network error.
			bo.rateLimited = false
			return retry.RetryableError(err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return body, nil
}

// politeness waits for a rate limiter token and enforces the minimum
// inter-request delay.
func (c *Client) politeness(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	wait := c.cfg.Floor - time.Since(c.lastAt)
	c.lastAt = time.Now().Add(max(wait, 0))
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) fetchOnce(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	client := c.proxies.Current()
	if client == nil {
		client = c.direct
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// fetchBackoff picks the delay for the next retry: exponential after a
// 429 (delay * 2^(attempt+1)), linear otherwise (delay * (attempt+1)).
type fetchBackoff struct {
	delay       time.Duration
	attempt     int
	rateLimited bool
}

func (b *fetchBackoff) Next() (time.Duration, bool) {
	var d time.Duration
	if b.rateLimited {
		d = b.delay * time.Duration(1<<(b.attempt+1))
	} else {
		d = b.delay * time.Duration(b.attempt+1)
	}
	b.attempt++
	return d, false
}
