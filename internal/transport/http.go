// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/reelplay/internal/metrics"
)

const (
	defaultMaxRetries = 2
	defaultRetryDelay = 250 * time.Millisecond
	defaultMaxBody    = 64 << 20
)

// HTTPLoader fetches requests over HTTP. Network failures and 5xx responses
// are retried a bounded number of times; the final failure is returned as *Error.
type HTTPLoader struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	retryDelay time.Duration
	maxBody    int64
}

// HTTPOption configures an HTTPLoader.
type HTTPOption func(*HTTPLoader)

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) HTTPOption {
	return func(l *HTTPLoader) { l.userAgent = ua }
}

// WithRetries sets the retry budget and base delay (doubled per attempt).
func WithRetries(n int, delay time.Duration) HTTPOption {
	return func(l *HTTPLoader) {
		l.maxRetries = n
		l.retryDelay = delay
	}
}

// WithMaxBody caps the accepted response size.
func WithMaxBody(n int64) HTTPOption {
	return func(l *HTTPLoader) { l.maxBody = n }
}

// NewHTTPLoader returns a loader using client.
func NewHTTPLoader(client *http.Client, opts ...HTTPOption) *HTTPLoader {
	l := &HTTPLoader{
		client:     client,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		maxBody:    defaultMaxBody,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load implements Loader.
func (l *HTTPLoader) Load(ctx context.Context, req *Request) (*Response, error) {
	stats := Stats{Requested: time.Now()}
	delay := l.retryDelay

	for attempt := 0; ; attempt++ {
		resp, err := l.once(ctx, req, &stats)
		if err == nil {
			metrics.RecordLoaderRequest(string(req.Kind), "ok")
			return resp, nil
		}

		var le *Error
		if !errors.As(err, &le) {
			metrics.RecordLoaderRequest(string(req.Kind), string(ErrNetwork))
			return nil, err
		}
		retryable := le.Kind == ErrNetwork || (le.Kind == ErrHTTP && le.Status >= 500)
		if !retryable || attempt >= l.maxRetries {
			metrics.RecordLoaderRequest(string(req.Kind), string(le.Kind))
			return nil, err
		}

		stats.Retries++
		select {
		case <-ctx.Done():
			metrics.RecordLoaderRequest(string(req.Kind), string(ErrCanceled))
			return nil, &Error{Kind: ErrCanceled, URL: req.URL, Err: ctx.Err()}
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (l *HTTPLoader) once(ctx context.Context, req *Request, stats *Stats) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, URL: req.URL, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if l.userAgent != "" {
		httpReq.Header.Set("User-Agent", l.userAgent)
	}
	if req.RangeEnd > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", req.RangeStart, req.RangeEnd))
	}

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, classifyErr(ctx, req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	stats.FirstByte = time.Now()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{Kind: ErrHTTP, URL: req.URL, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBody+1))
	if err != nil {
		return nil, classifyErr(ctx, req.URL, err)
	}
	if int64(len(data)) > l.maxBody {
		return nil, &Error{Kind: ErrNetwork, URL: req.URL, Err: fmt.Errorf("response exceeds %d bytes", l.maxBody)}
	}
	stats.Loaded = time.Now()
	stats.Bytes = int64(len(data))

	return &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
		Stats:       *stats,
	}, nil
}

func classifyErr(ctx context.Context, rawURL string, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Error{Kind: ErrTimeout, URL: rawURL, Err: err}
		}
		return &Error{Kind: ErrCanceled, URL: rawURL, Err: ctx.Err()}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: ErrTimeout, URL: rawURL, Err: err}
	}
	return &Error{Kind: ErrNetwork, URL: rawURL, Err: err}
}
