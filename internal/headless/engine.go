// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package headless is a display-less playback engine. It walks an HLS
// media playlist through a transport.Loader and streams the fragments it
// receives to an io.Writer, reporting progress the way a real ABR engine
// would.
package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	xglog "github.com/ManuGH/reelplay/internal/log"
	"github.com/ManuGH/reelplay/internal/playback"
	"github.com/ManuGH/reelplay/internal/transport"
	"github.com/rs/zerolog"
)

// Options configures engines built by Factory.
type Options struct {
	// Output receives fragment payloads in playlist order. Nil discards.
	Output io.Writer
	// StallAfter is how long a fragment load may take before the engine
	// reports a stall. Zero disables stall reporting.
	StallAfter time.Duration
	// Realtime paces output by segment duration divided by the rate.
	Realtime bool
}

// Factory returns a playback.EngineFactory producing headless engines.
func Factory(opts Options) playback.EngineFactory {
	return func(cfg playback.EngineConfig, sink playback.EventSink) (playback.Engine, error) {
		if cfg.Loader == nil {
			return nil, errors.New("headless: loader is required")
		}
		if sink == nil {
			return nil, errors.New("headless: event sink is required")
		}
		out := opts.Output
		if out == nil {
			out = io.Discard
		}
		return &Engine{
			opts:   opts,
			out:    out,
			loader: cfg.Loader,
			sink:   sink,
			logger: xglog.WithComponent("headless").With().Str(xglog.FieldSessionID, cfg.SessionID).Logger(),
			rate:   1,
			wake:   make(chan struct{}, 1),
		}, nil
	}
}

// Engine implements playback.Engine.
type Engine struct {
	opts   Options
	out    io.Writer
	loader transport.Loader
	sink   playback.EventSink
	logger zerolog.Logger
	wake   chan struct{}

	mu        sync.Mutex
	url       string
	segs      []mediaSegment
	pos       time.Duration
	rate      float64
	playing   bool
	running   bool
	destroyed bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Load starts walking url from start, replacing any earlier load.
func (e *Engine) Load(rawURL string, start time.Duration) error {
	if _, err := url.Parse(rawURL); err != nil {
		return fmt.Errorf("headless: invalid url: %w", err)
	}
	e.stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return errors.New("headless: engine destroyed")
	}
	e.url = rawURL
	e.segs = nil
	e.pos = start
	e.startLocked()
	return nil
}

func (e *Engine) Play() error {
	e.mu.Lock()
	e.playing = true
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

func (e *Engine) Pause() error {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("headless: invalid rate %v", rate)
	}
	e.mu.Lock()
	e.rate = rate
	e.mu.Unlock()
	return nil
}

func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

// StartLoad resumes from the first fragment not yet written.
func (e *Engine) StartLoad() error { return e.resume() }

// RecoverMedia behaves like StartLoad; there is no decoder to reset.
func (e *Engine) RecoverMedia() error { return e.resume() }

func (e *Engine) resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return errors.New("headless: engine destroyed")
	}
	if e.url == "" {
		return errors.New("headless: nothing loaded")
	}
	if !e.running {
		e.startLocked()
	}
	return nil
}

func (e *Engine) Destroy() {
	e.mu.Lock()
	e.destroyed = true
	e.mu.Unlock()
	e.stop()
}

func (e *Engine) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx)
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()
}

func (e *Engine) stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

func (e *Engine) emit(kind playback.EngineEventKind) {
	e.sink(playback.EngineEvent{Kind: kind})
}

func (e *Engine) fault(err error, kind playback.FaultKind) {
	f, ok := playback.FaultFromLoadError(err, true)
	if !ok {
		return
	}
	if kind != "" {
		f.Kind = kind
	}
	e.logger.Warn().Err(err).Str(xglog.FieldEvent, "headless.fault").Msg("engine stopped on fault")
	e.sink(playback.EngineEvent{Kind: playback.EngineFault, Fault: f})
}

func (e *Engine) run(ctx context.Context) {
	segs, err := e.playlist(ctx)
	if err != nil {
		if errors.Is(err, errEmptyPlaylist) {
			e.fault(err, playback.FaultMedia)
		} else {
			e.fault(err, "")
		}
		return
	}

	e.mu.Lock()
	idx, at := seek(segs, e.pos)
	e.pos = at
	e.mu.Unlock()
	if idx >= len(segs) {
		e.emit(playback.EngineEnded)
		return
	}

	var written *initSection
	data, err := e.fetch(ctx, segs[idx], written)
	if err != nil {
		e.fault(err, "")
		return
	}
	e.emit(playback.EngineFirstData)

	for {
		if !e.waitPlaying(ctx) {
			return
		}
		if _, err := e.out.Write(data); err != nil {
			e.fault(fmt.Errorf("headless: write output: %w", err), playback.FaultMedia)
			return
		}
		written = segs[idx].Init
		if !e.pace(ctx, segs[idx].Duration) {
			return
		}
		e.mu.Lock()
		e.pos += segs[idx].Duration
		e.mu.Unlock()

		idx++
		if idx >= len(segs) {
			e.logger.Debug().Str(xglog.FieldEvent, "headless.ended").Msg("playlist exhausted")
			e.emit(playback.EngineEnded)
			return
		}
		if data, err = e.fetchWatched(ctx, segs[idx], written); err != nil {
			e.fault(err, "")
			return
		}
	}
}

// playlist returns the media segments, resolving a master playlist to its
// first variant. The result is kept so restarts skip the manifest.
func (e *Engine) playlist(ctx context.Context) ([]mediaSegment, error) {
	e.mu.Lock()
	segs, target := e.segs, e.url
	e.mu.Unlock()
	if segs != nil {
		return segs, nil
	}

	for range 2 {
		resp, err := e.loader.Load(ctx, &transport.Request{URL: target, Kind: transport.KindManifest})
		if err != nil {
			return nil, err
		}
		base, err := url.Parse(resp.URL)
		if err != nil || base.Host == "" {
			base, _ = url.Parse(target)
		}
		p, err := parsePlaylist(resp.Data, base)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errEmptyPlaylist, err)
		}
		if p.master() {
			target = p.Variants[0]
			continue
		}
		if len(p.Segments) == 0 {
			return nil, errEmptyPlaylist
		}
		e.mu.Lock()
		e.segs = p.Segments
		e.mu.Unlock()
		return p.Segments, nil
	}
	return nil, errEmptyPlaylist
}

// fetch loads seg. When seg needs an init section other than the one last
// written, that section is loaded too and prepended.
func (e *Engine) fetch(ctx context.Context, seg mediaSegment, written *initSection) ([]byte, error) {
	var prefix []byte
	if seg.Init != nil && (written == nil || *written != *seg.Init) {
		req := &transport.Request{URL: seg.Init.URL, Kind: transport.KindFragment}
		seg.Init.apply(req)
		resp, err := e.loader.Load(ctx, req)
		if err != nil {
			return nil, err
		}
		prefix = resp.Data
	}

	req := &transport.Request{URL: seg.URL, Kind: transport.KindFragment}
	seg.apply(req)
	resp, err := e.loader.Load(ctx, req)
	if err != nil {
		return nil, err
	}
	if prefix == nil {
		return resp.Data, nil
	}
	return append(prefix, resp.Data...), nil
}

// fetchWatched reports a stall if the load outlives StallAfter and a
// resume once it completes.
func (e *Engine) fetchWatched(ctx context.Context, seg mediaSegment, written *initSection) ([]byte, error) {
	if e.opts.StallAfter <= 0 {
		return e.fetch(ctx, seg, written)
	}
	var (
		mu      sync.Mutex
		done    bool
		stalled bool
	)
	t := time.AfterFunc(e.opts.StallAfter, func() {
		mu.Lock()
		defer mu.Unlock()
		if !done {
			stalled = true
			e.emit(playback.EngineStalled)
		}
	})
	data, err := e.fetch(ctx, seg, written)
	t.Stop()

	mu.Lock()
	done = true
	wasStalled := stalled
	mu.Unlock()
	if wasStalled && err == nil {
		e.emit(playback.EngineResumed)
	}
	return data, err
}

func (e *Engine) waitPlaying(ctx context.Context) bool {
	for {
		e.mu.Lock()
		playing := e.playing
		e.mu.Unlock()
		if playing {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-e.wake:
		}
	}
}

func (e *Engine) pace(ctx context.Context, d time.Duration) bool {
	if !e.opts.Realtime || d <= 0 {
		return ctx.Err() == nil
	}
	e.mu.Lock()
	rate := e.rate
	e.mu.Unlock()
	t := time.NewTimer(time.Duration(float64(d) / rate))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
