// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transport

import (
	"context"
	"errors"
	"time"

	xglog "github.com/ManuGH/reelplay/internal/log"
	"github.com/ManuGH/reelplay/internal/metrics"
	xnet "github.com/ManuGH/reelplay/internal/platform/net"
	"github.com/ManuGH/reelplay/internal/segment"
	"github.com/ManuGH/reelplay/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const outcomeMetric = "reelplay.segment.outcomes"

// DecryptingLoader wraps a Loader and decodes container segments in fragment
// responses. Manifest and key loads, errors and all Stats pass through
// untouched; only Response.Data of fragments is replaced.
type DecryptingLoader struct {
	next    Loader
	pool    *segment.Pool
	timeout time.Duration
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// DecryptOption configures a DecryptingLoader.
type DecryptOption func(*DecryptingLoader)

// WithDecodeTimeout bounds how long a fragment may wait for and spend on a
// pool worker. Zero means no bound beyond the request context.
func WithDecodeTimeout(d time.Duration) DecryptOption {
	return func(l *DecryptingLoader) { l.timeout = d }
}

// NewDecryptingLoader decorates next. pool may be shared across loaders.
func NewDecryptingLoader(next Loader, pool *segment.Pool, opts ...DecryptOption) *DecryptingLoader {
	if pool == nil {
		pool = segment.NewPool(0)
	}
	l := &DecryptingLoader{
		next:   next,
		pool:   pool,
		logger: xglog.WithComponent("transport"),
		tracer: telemetry.Tracer("reelplay/transport"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load implements Loader.
func (l *DecryptingLoader) Load(ctx context.Context, req *Request) (*Response, error) {
	resp, err := l.next.Load(ctx, req)
	if err != nil || req.Kind != KindFragment || resp == nil {
		return resp, err
	}

	ctx, span := l.tracer.Start(ctx, "segment.open",
		trace.WithAttributes(telemetry.SegmentAttributes(len(resp.Data), "")...))
	defer span.End()

	openCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	res, err := l.pool.Open(openCtx, resp.Data)
	if err != nil {
		span.RecordError(err)
		kind := ErrCanceled
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			kind = ErrTimeout
		}
		return nil, &Error{Kind: kind, URL: req.URL, Err: err}
	}
	span.SetAttributes(attribute.String(telemetry.SegmentOutcomeKey, string(res.Outcome)))
	metrics.ObserveSegment(string(res.Outcome), len(res.Data), res.Took)
	recordOutcome(ctx, res.Outcome)

	if res.Fault != nil {
		logger := xglog.WithContext(ctx, l.logger)
		logger.Warn().
			Err(res.Fault).
			Str(xglog.FieldEvent, "segment."+string(res.Outcome)).
			Str(xglog.FieldURL, xnet.SanitizeURL(req.URL)).
			Int("bytes", len(resp.Data)).
			Msg("delivering fragment undecoded")
	}

	out := *resp
	out.Data = res.Data
	return &out, nil
}

// recordOutcome looks the meter up per call so a provider installed after
// the loader was built still receives the count.
func recordOutcome(ctx context.Context, outcome segment.Outcome) {
	meter := otel.GetMeterProvider().Meter("reelplay/transport")
	counter, err := meter.Int64Counter(outcomeMetric, metric.WithDescription("Fragments opened, by outcome"))
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String(telemetry.SegmentOutcomeKey, string(outcome))))
}
