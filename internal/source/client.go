// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/reelplay/internal/cache"
	xglog "github.com/ManuGH/reelplay/internal/log"
	"github.com/ManuGH/reelplay/internal/metrics"
	"github.com/ManuGH/reelplay/internal/platform/httpx"
	"github.com/ManuGH/reelplay/internal/quality"
	"github.com/ManuGH/reelplay/internal/resilience"
	"github.com/ManuGH/reelplay/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidKey        = errors.New("invalid episode key")
	ErrNotFound          = errors.New("episode not found")
	ErrUpstream          = errors.New("upstream error")
	ErrInvalidDescriptor = errors.New("invalid episode descriptor")
)

const maxDescriptorBytes = 1 << 20

// Config configures a Client.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	CacheTTL         time.Duration
	RateLimit        float64 // requests per second, 0 disables
	RateBurst        int
	BreakerThreshold int
	BreakerReset     time.Duration
	UserAgent        string
}

// Client fetches episode descriptors through a cache, a rate limiter and a
// circuit breaker. Concurrent lookups of the same key share one fetch.
type Client struct {
	base      *url.URL
	http      *http.Client
	cache     cache.Cache
	ttl       time.Duration
	budget    time.Duration
	limiter   *rate.Limiter
	breaker   *resilience.CircuitBreaker
	userAgent string
	group     singleflight.Group
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient validates cfg and returns a client. A nil store disables caching.
func NewClient(cfg Config, store cache.Cache, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("source: invalid base url %q", cfg.BaseURL)
	}
	if store == nil {
		store = cache.NoOp{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	c := &Client{
		base:      base,
		http:      httpx.NewInstrumentedClient(cfg.Timeout, "source"),
		cache:     store,
		ttl:       cfg.CacheTTL,
		budget:    2 * cfg.Timeout,
		limiter:   limiter,
		userAgent: cfg.UserAgent,
		logger:    xglog.WithComponent("source"),
		now:       time.Now,
	}
	c.breaker = resilience.NewCircuitBreaker("source", cfg.BreakerThreshold, cfg.BreakerReset,
		resilience.WithFailureFilter(countsAsOutage))
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// A missing episode or a caller going away says nothing about upstream health.
func countsAsOutage(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrInvalidKey) &&
		!errors.Is(err, context.Canceled)
}

// Episode returns the descriptor for key, from cache when fresh.
func (c *Client) Episode(ctx context.Context, key Key) (Episode, error) {
	if err := key.Validate(); err != nil {
		return Episode{}, err
	}
	if ep, ok := c.cached(ctx, key); ok {
		metrics.RecordSourceRequest("cache", "hit")
		return ep, nil
	}
	return c.shared(ctx, "get:"+key.String(), key, "upstream", true)
}

// Refresh re-issues the upstream fetch bypassing the cache and stores the
// result. Used when variant URLs are suspected stale.
func (c *Client) Refresh(ctx context.Context, key Key) (Episode, error) {
	if err := key.Validate(); err != nil {
		return Episode{}, err
	}
	c.cache.Delete(ctx, key.String())
	return c.shared(ctx, "refresh:"+key.String(), key, "refresh", false)
}

// Prefetch warms the cache for key. It only touches metadata.
func (c *Client) Prefetch(ctx context.Context, key Key) error {
	_, err := c.Episode(ctx, key)
	return err
}

// UpstreamState reports the breaker guarding the upstream API.
func (c *Client) UpstreamState() resilience.State {
	return c.breaker.State()
}

func (c *Client) cached(ctx context.Context, key Key) (Episode, bool) {
	raw, ok := c.cache.Get(ctx, key.String())
	if !ok {
		return Episode{}, false
	}
	var ep Episode
	if err := json.Unmarshal(raw, &ep); err != nil {
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("dropping undecodable cache entry")
		c.cache.Delete(ctx, key.String())
		return Episode{}, false
	}
	return ep, true
}

// shared runs one fetch per flight key, bounded by its own budget. A
// detached fetch ignores the first caller's cancellation so other waiters
// are not failed by it; refreshes stay bound to the caller so a torn-down
// attachment aborts its upstream request. Each caller returns as soon as
// its own ctx is done.
func (c *Client) shared(ctx context.Context, flight string, key Key, origin string, detach bool) (Episode, error) {
	ch := c.group.DoChan(flight, func() (any, error) {
		parent := ctx
		if detach {
			parent = context.WithoutCancel(ctx)
		}
		fetchCtx, cancel := context.WithTimeout(parent, c.budget)
		defer cancel()
		ep, err := c.fetch(fetchCtx, key)
		if err != nil {
			return Episode{}, err
		}
		if raw, err := json.Marshal(ep); err == nil && c.ttl > 0 {
			c.cache.Set(fetchCtx, key.String(), raw, c.ttl)
		}
		return ep, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			metrics.RecordSourceRequest(origin, "error")
			return Episode{}, res.Err
		}
		metrics.RecordSourceRequest(origin, "ok")
		return res.Val.(Episode), nil
	case <-ctx.Done():
		metrics.RecordSourceRequest(origin, "canceled")
		return Episode{}, ctx.Err()
	}
}

type playResponse struct {
	Data struct {
		Name  string           `json:"name"`
		Total int              `json:"total"`
		Video quality.Variants `json:"video"`
	} `json:"data"`
}

func (c *Client) fetch(ctx context.Context, key Key) (ep Episode, err error) {
	ctx, span := telemetry.Tracer("reelplay/source").Start(ctx, "source.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.EpisodeAttributes(key.SeriesCode, key.Number, "")...))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(telemetry.ErrorAttributes(fetchErrorType(err))...)
			span.SetStatus(codes.Error, "fetch failed")
		}
		span.End()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return Episode{}, fmt.Errorf("source: rate limit: %w", err)
	}

	start := time.Now()
	err = c.breaker.Execute(func() error {
		var err error
		ep, err = c.do(ctx, key)
		return err
	})
	metrics.ObserveSourceFetch(time.Since(start))
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str(xglog.FieldSeries, key.SeriesCode).
			Int(xglog.FieldEpisode, key.Number).
			Msg("episode descriptor fetch failed")
		return Episode{}, err
	}
	return ep, nil
}

func fetchErrorType(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidDescriptor):
		return "invalid_descriptor"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "upstream"
	}
}

func (c *Client) do(ctx context.Context, key Key) (Episode, error) {
	u := *c.base
	u.Path += "/api/play"
	q := url.Values{}
	q.Set("code", key.SeriesCode)
	q.Set("lang", key.Lang)
	q.Set("ep", strconv.Itoa(key.Number))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Episode{}, fmt.Errorf("source: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Episode{}, fmt.Errorf("source: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Episode{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Episode{}, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var body playResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDescriptorBytes)).Decode(&body); err != nil {
		return Episode{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if body.Data.Video.Empty() {
		return Episode{}, fmt.Errorf("%w: no variants for %s", ErrInvalidDescriptor, key)
	}

	total := body.Data.Total
	if total < key.Number {
		total = key.Number
	}
	return Episode{
		SeriesCode: key.SeriesCode,
		Lang:       key.Lang,
		Number:     key.Number,
		Name:       norm.NFC.String(strings.TrimSpace(body.Data.Name)),
		Total:      total,
		Variants:   body.Data.Video,
		FetchedAt:  c.now().UTC(),
	}, nil
}
