// Package httpclient is the cache-first, retrying HTTP access layer used by
// the extractors.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/county-wage-etl/internal/cache"
	"github.com/JakeFAU/county-wage-etl/internal/logging"
	"github.com/JakeFAU/county-wage-etl/internal/metrics"
)

// Cache is the subset of the response cache the client needs.
type Cache interface {
	Get(ctx context.Context, key string) (cache.Entry, bool)
	Put(ctx context.Context, key string, entry cache.Entry, ttl time.Duration) error
}

// Doer performs one network exchange.
type Doer interface {
	Do(ctx context.Context, method, target string, headers http.Header) (RawResponse, error)
}

// Request describes one logical request.
type Request struct {
	Method  string
	URL     string
	Params  url.Values
	Headers http.Header
}

// Response is a successful (2xx) result.
type Response struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
	FromCache   bool
}

// Config collects the client knobs.
type Config struct {
	Transport TransportConfig
	Retry     RetryPolicy
	Pacer     PacerConfig
	// CacheTTL is passed to Cache.Put; zero defers to the cache default.
	CacheTTL time.Duration
	Headers  http.Header
}

// Client issues requests. It is safe for concurrent use.
type Client struct {
	doer     Doer
	cache    Cache
	pacer    *Pacer
	retry    RetryPolicy
	cacheTTL time.Duration
	headers  http.Header
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
	requests atomic.Int64
}

// Option customizes a Client.
type Option func(*Client)

// WithCache enables cache-first lookups.
func WithCache(c Cache) Option {
	return func(cl *Client) {
		cl.cache = c
	}
}

// WithPacer shares a pacer between clients.
func WithPacer(p *Pacer) Option {
	return func(cl *Client) {
		cl.pacer = p
	}
}

// WithDoer replaces the network transport.
func WithDoer(d Doer) Option {
	return func(cl *Client) {
		cl.doer = d
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		cl.logger = logging.OrNop(l)
	}
}

// New builds a Client with a colly transport unless WithDoer overrides it.
func New(cfg Config, opts ...Option) (*Client, error) {
	c := &Client{
		retry:    cfg.Retry,
		cacheTTL: cfg.CacheTTL,
		headers:  cfg.Headers.Clone(),
		logger:   zap.NewNop(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pacer == nil {
		c.pacer = NewPacer(cfg.Pacer)
	}
	if c.doer == nil {
		t, err := NewTransport(cfg.Transport)
		if err != nil {
			return nil, fmt.Errorf("build transport: %w", err)
		}
		c.doer = t
	}
	return c, nil
}

// RequestCount returns the number of network attempts made so far.
func (c *Client) RequestCount() int64 {
	return c.requests.Load()
}

// Get is Request with method GET.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (Response, error) {
	return c.Request(ctx, Request{Method: http.MethodGet, URL: rawURL, Params: params})
}

// Request returns the cached body when present; otherwise it paces, performs
// the request with retries, and caches a 2xx response.
func (c *Client) Request(ctx context.Context, req Request) (Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return Response{}, &FetchError{Method: method, URL: req.URL, Err: err}
	}

	key := ""
	if c.cache != nil {
		key, err = cache.Key(method, req.URL, req.Params)
		if err != nil {
			c.logger.Warn("cache key failed", zap.String("url", target), zap.Error(err))
		} else if entry, ok := c.cache.Get(ctx, key); ok {
			c.logger.Debug("cache hit", zap.String("url", target))
			return Response{
				URL:         target,
				Status:      http.StatusOK,
				ContentType: entry.ContentType,
				Body:        entry.Body,
				FromCache:   true,
			}, nil
		}
	}

	resp, err := c.fetch(ctx, method, target, c.mergeHeaders(req.Headers))
	if err != nil {
		return Response{}, err
	}

	if key != "" {
		entry := cache.Entry{URL: target, ContentType: resp.ContentType, Body: resp.Body}
		if err := c.cache.Put(ctx, key, entry, c.cacheTTL); err != nil {
			c.logger.Warn("cache store failed", zap.String("url", target), zap.Error(err))
		}
	}
	return resp, nil
}

func (c *Client) fetch(ctx context.Context, method, target string, headers http.Header) (Response, error) {
	maxAttempts := c.retry.MaxAttempts()
	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			return Response{}, &FetchError{Method: method, URL: target, Attempts: attempt, Err: err}
		}
		c.requests.Add(1)
		raw, err := c.doer.Do(ctx, method, target, headers)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, &FetchError{Method: method, URL: target, Attempts: attempt + 1, Err: ctxErr}
		}

		class := classifyError(err)
		lastErr, lastStatus = err, 0
		if err == nil {
			lastStatus = raw.StatusCode
			class = classifyStatus(raw.StatusCode)
		}

		switch class {
		case classOK:
			metrics.ObserveHTTPAttempt(target, "ok")
			return Response{
				URL:         firstNonEmpty(raw.URL, target),
				Status:      raw.StatusCode,
				ContentType: raw.Headers.Get("Content-Type"),
				Body:        raw.Body,
			}, nil
		case classPermanent:
			metrics.ObserveHTTPAttempt(target, "permanent")
			c.logger.Warn("request failed permanently",
				zap.String("url", target),
				zap.Int("status", lastStatus),
				zap.Error(err),
			)
			return Response{}, &FetchError{
				Method: method, URL: target, StatusCode: lastStatus, Attempts: attempt + 1, Err: err,
			}
		}

		metrics.ObserveHTTPAttempt(target, "retryable")
		if attempt+1 >= maxAttempts {
			break
		}
		delay := c.retry.Backoff(attempt, class == classRateLimited)
		metrics.ObserveRetry(target)
		c.logger.Info("retrying request",
			zap.String("url", target),
			zap.Int("attempt", attempt+1),
			zap.Int("status", lastStatus),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return Response{}, &FetchError{Method: method, URL: target, Attempts: attempt + 1, Err: err}
		}
	}
	return Response{}, &FetchError{
		Method:     method,
		URL:        target,
		StatusCode: lastStatus,
		Attempts:   maxAttempts,
		Exhausted:  true,
		Err:        lastErr,
	}
}

func (c *Client) mergeHeaders(extra http.Header) http.Header {
	out := c.headers.Clone()
	if out == nil {
		out = http.Header{}
	}
	for k, values := range extra {
		out.Del(k)
		for _, v := range values {
			out.Add(k, v)
		}
	}
	return out
}

func buildURL(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", rawURL)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, values := range params {
			for _, v := range values {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
