// Package sources holds the process-wide clients behind the research tools:
// web search, page fetching and public statistics. Every client carries its
// own rate limiter so concurrent runs share the remote quota without sharing
// any run state.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/konard/RDmitryV-Trial-RDV/internal/cache"
)

const (
	browserUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultTimeout    = 30 * time.Second
	maxRateLimitRetry = 5
)

var ErrRateLimited = errors.New("remote source kept answering 429")

type Option func(*limitedClient)

func WithHTTPClient(client *http.Client) Option {
	return func(c *limitedClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *limitedClient) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithRateLimit sets requests per second; zero or less disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *limitedClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

func WithCache(store cache.Cache) Option {
	return func(c *limitedClient) {
		c.cache = store
	}
}

func WithEndpoint(endpoint string) Option {
	return func(c *limitedClient) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

type limitedClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      cache.Cache
	endpoint   string
	backoff    time.Duration
	maxBackoff time.Duration
}

func newLimitedClient(endpoint string, rps float64, opts ...Option) limitedClient {
	client := limitedClient{
		httpClient: &http.Client{Timeout: defaultTimeout},
		endpoint:   endpoint,
		backoff:    time.Second,
		maxBackoff: 30 * time.Second,
	}
	WithRateLimit(rps)(&client)
	for _, opt := range opts {
		opt(&client)
	}
	return client
}

// do waits for the limiter, sends the request built by newRequest and backs
// off with a doubling delay while the remote answers 429.
func (c *limitedClient) do(ctx context.Context, newRequest func(context.Context) (*http.Request, error)) (*http.Response, error) {
	delay := c.backoff
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := newRequest(ctx)
		if err != nil {
			return nil, err
		}
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", browserUserAgent)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if attempt >= maxRateLimitRetry {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, req.URL.Host)
		}
		log.Warn().Str("host", req.URL.Host).Dur("backoff", delay).Msg("source_rate_limited")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > c.maxBackoff {
			delay = c.maxBackoff
		}
	}
}

func (c *limitedClient) loadCached(ctx context.Context, key string, target any) bool {
	if c.cache == nil {
		return false
	}
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("source_cache_read_failed")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false
	}
	return true
}

func (c *limitedClient) storeCached(ctx context.Context, key string, value any) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("source_cache_write_failed")
	}
}

func readBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}
