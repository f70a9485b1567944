// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	xglog "github.com/ManuGH/reelplay/internal/log"
	"github.com/ManuGH/reelplay/internal/metrics"
	"github.com/ManuGH/reelplay/internal/quality"
	"github.com/ManuGH/reelplay/internal/source"
	"github.com/ManuGH/reelplay/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrClosed        = errors.New("playback: controller closed")
	ErrNoSource      = errors.New("playback: no source attached")
	ErrNoEngine      = errors.New("playback: no engine attached")
	ErrInvalidRate   = errors.New("playback: rate must be positive")
	ErrEngine        = errors.New("playback: engine failure")
	ErrUnrecoverable = errors.New("playback: unrecoverable engine fault")
	ErrStaleSource   = errors.New("playback: source refresh exhausted")
)

const (
	DefaultStallTimeout = 8 * time.Second
	saveTimeout         = 2 * time.Second
)

// Refresher re-fetches an episode descriptor, bypassing caches.
type Refresher interface {
	Refresh(ctx context.Context, key source.Key) (source.Episode, error)
}

// Prefetcher warms descriptor metadata for an upcoming episode.
type Prefetcher interface {
	Prefetch(ctx context.Context, key source.Key) error
}

// PositionStore persists the last playback position per episode.
type PositionStore interface {
	Load(ctx context.Context, key source.Key) (time.Duration, bool, error)
	Save(ctx context.Context, key source.Key, pos time.Duration) error
}

// Config wires a controller. Factory is required.
type Config struct {
	Factory    EngineFactory
	Loader     transport.Loader
	Refresher  Refresher
	Prefetcher Prefetcher
	Positions  PositionStore

	StallTimeout         time.Duration
	MaxInPlaceRecoveries int
	// Autoplay starts playback as soon as the active attachment is ready.
	Autoplay bool
	// OnEnded runs on its own goroutine when an episode plays to the end.
	// The hook may call Close; Close does not wait for it to return.
	OnEnded func(source.Episode)

	Clock Clock
}

// Controller owns at most one engine attachment and drives the status
// machine. All state is confined to a single goroutine; public methods and
// engine events are funneled through its mailbox, so engine callbacks may
// arrive from any goroutine.
type Controller struct {
	id     string
	cfg    Config
	deck   *Deck
	logger zerolog.Logger

	mbMu     sync.Mutex
	ops      []func()
	mbClosed bool
	signal   chan struct{}
	loopDone chan struct{}

	subsMu     sync.Mutex
	subs       map[*subscriber]struct{}
	subsClosed bool
	last       Update
	subsWG     sync.WaitGroup

	bg        sync.WaitGroup
	closeOnce sync.Once

	// Owned by the loop goroutine.
	closed         bool
	active         bool
	status         Status
	episode        *source.Episode
	tier           quality.Tier
	resolved       quality.Tier
	url            string
	startAt        time.Duration
	wantPlay       bool
	rate           float64
	gen            uint64
	engine         Engine
	sessCancel     context.CancelFunc
	sessCtx        context.Context
	recovery       *RecoveryPolicy
	stallTimer     Timer
	stallToken     uint64
	stallRefreshed bool
	finished       bool
	lastErr        error
}

// NewController starts a controller. Close releases it.
func NewController(cfg Config) *Controller {
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}

	id := uuid.NewString()
	c := &Controller{
		id:       id,
		cfg:      cfg,
		logger:   xglog.WithComponent("playback").With().Str(xglog.FieldSessionID, id).Logger(),
		signal:   make(chan struct{}, 1),
		loopDone: make(chan struct{}),
		subs:     make(map[*subscriber]struct{}),
		last:     Update{Status: StatusIdle},
		status:   StatusIdle,
		tier:     quality.Auto,
		rate:     1,
	}
	go c.run()
	return c
}

// ID returns the session identifier used in logs.
func (c *Controller) ID() string { return c.id }

// Status returns the last emitted status.
func (c *Controller) Status() Status {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	return c.last.Status
}

// Snapshot is a consistent view of the controller.
type Snapshot struct {
	Status     Status
	Active     bool
	Episode    source.Key
	Tier       quality.Tier
	Resolved   quality.Tier
	URL        string
	Rate       float64
	Generation uint64
	Err        error
}

// Snapshot returns the current state once all previously queued work has run.
func (c *Controller) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := c.do(func() error {
		s = Snapshot{
			Status:     c.status,
			Active:     c.active,
			Tier:       c.tier,
			Resolved:   c.resolved,
			URL:        c.url,
			Rate:       c.rate,
			Generation: c.gen,
			Err:        c.lastErr,
		}
		if c.episode != nil {
			s.Episode = c.episode.Key()
		}
		return nil
	})
	return s, err
}

// Subscribe returns a channel receiving the current status followed by every
// subsequent change, in order. cancel stops delivery and closes the channel.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	s := newSubscriber()

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.subsClosed {
		close(s.out)
		return s.out, func() {}
	}
	s.push(c.last)
	c.subs[s] = struct{}{}
	c.subsWG.Add(1)
	go s.pump(&c.subsWG)

	return s.out, func() {
		s.stop()
		c.subsMu.Lock()
		delete(c.subs, s)
		c.subsMu.Unlock()
	}
}

// Activate marks the controller's slide active. A pending source is attached.
func (c *Controller) Activate() error {
	if c.deck != nil {
		if err := c.deck.acquire(c); err != nil {
			return err
		}
	}
	err := c.do(func() error {
		if c.active {
			return nil
		}
		c.active = true
		c.logger.Debug().Str(xglog.FieldEvent, "playback.activate").Msg("slide activated")
		if c.episode != nil && c.status == StatusIdle {
			return c.attachLocked()
		}
		return nil
	})
	if errors.Is(err, ErrClosed) && c.deck != nil {
		c.deck.release(c)
	}
	return err
}

// Deactivate tears down the attachment and cancels its in-flight work. The
// source is kept and re-attached, at the saved position, on Activate.
func (c *Controller) Deactivate() error {
	err := c.do(func() error {
		if !c.active {
			return nil
		}
		c.active = false
		c.wantPlay = false
		c.stallRefreshed = false
		c.teardown()
		c.logger.Debug().Str(xglog.FieldEvent, "playback.deactivate").Msg("slide deactivated")
		return nil
	})
	if c.deck != nil {
		c.deck.release(c)
	}
	return err
}

// Attach supplies a new source. Any existing attachment is torn down first;
// the new engine is created immediately when active, otherwise on Activate.
// An unavailable explicit tier is rejected without touching the current one.
func (c *Controller) Attach(ctx context.Context, ep source.Episode, tier quality.Tier) error {
	if tier == "" {
		tier = quality.Auto
	}
	if _, _, err := quality.Resolve(tier, ep.Variants); err != nil {
		return err
	}

	var start time.Duration
	if c.cfg.Positions != nil {
		pos, ok, err := c.cfg.Positions.Load(ctx, ep.Key())
		if err != nil {
			c.logger.Warn().Err(err).Msg("resume position lookup failed")
		} else if ok {
			start = pos
		}
	}

	return c.do(func() error {
		c.teardown()
		c.episode = &ep
		c.tier = tier
		c.startAt = start
		c.wantPlay = false
		c.stallRefreshed = false
		if !c.active {
			return nil
		}
		return c.attachLocked()
	})
}

// Detach tears down the attachment and forgets the source.
func (c *Controller) Detach() error {
	return c.do(func() error {
		c.teardown()
		c.episode = nil
		c.url = ""
		c.wantPlay = false
		c.stallRefreshed = false
		return nil
	})
}

// Play starts playback, or schedules it for when loading completes.
func (c *Controller) Play() error {
	return c.do(func() error {
		if c.engine == nil {
			return ErrNoEngine
		}
		switch c.status {
		case StatusLoading:
			c.wantPlay = true
			return nil
		case StatusReady:
			return c.playLocked()
		default:
			return nil
		}
	})
}

// Pause stops playback and returns to ready.
func (c *Controller) Pause() error {
	return c.do(func() error {
		if c.engine == nil {
			return ErrNoEngine
		}
		c.wantPlay = false
		if c.status != StatusPlaying && c.status != StatusBuffering {
			return nil
		}
		if err := c.engine.Pause(); err != nil {
			return fmt.Errorf("%w: pause: %v", ErrEngine, err)
		}
		c.stopStallTimer()
		c.stallRefreshed = false
		c.transition(EvPause)
		return nil
	})
}

// SetRate changes the playback rate. It is re-applied after re-attachment.
func (c *Controller) SetRate(rate float64) error {
	if rate <= 0 {
		return ErrInvalidRate
	}
	return c.do(func() error {
		c.rate = rate
		if c.engine == nil {
			return nil
		}
		if err := c.engine.SetRate(rate); err != nil {
			return fmt.Errorf("%w: set rate: %v", ErrEngine, err)
		}
		return nil
	})
}

// SetTier switches quality. A different URL re-attaches at the current
// position, resuming playback if it was playing.
func (c *Controller) SetTier(tier quality.Tier) error {
	return c.do(func() error {
		if c.episode == nil {
			return ErrNoSource
		}
		resolved, u, err := quality.Resolve(tier, c.episode.Variants)
		if err != nil {
			return err
		}
		c.tier = tier
		if c.engine == nil || u == c.url {
			c.resolved = resolved
			return nil
		}
		c.logger.Info().
			Str(xglog.FieldEvent, "playback.tier_switch").
			Str(xglog.FieldTier, string(resolved)).
			Msg("switching quality")
		c.reattach()
		return nil
	})
}

// Close tears everything down and stops all goroutines. Further calls
// return ErrClosed.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		_ = c.do(func() error {
			c.active = false
			c.teardown()
			c.episode = nil
			c.closed = true
			return nil
		})

		c.mbMu.Lock()
		c.mbClosed = true
		c.mbMu.Unlock()
		c.wake()
		<-c.loopDone

		if c.deck != nil {
			c.deck.release(c)
		}
		c.bg.Wait()

		c.subsMu.Lock()
		c.subsClosed = true
		for s := range c.subs {
			s.stop()
			delete(c.subs, s)
		}
		c.subsMu.Unlock()
		c.subsWG.Wait()
	})
	return nil
}

// mailbox

func (c *Controller) post(op func()) bool {
	c.mbMu.Lock()
	if c.mbClosed {
		c.mbMu.Unlock()
		return false
	}
	c.ops = append(c.ops, op)
	c.mbMu.Unlock()
	c.wake()
	return true
}

func (c *Controller) wake() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *Controller) do(op func() error) error {
	var err error
	done := make(chan struct{})
	ok := c.post(func() {
		defer close(done)
		if c.closed {
			err = ErrClosed
			return
		}
		err = op()
	})
	if !ok {
		return ErrClosed
	}
	<-done
	return err
}

func (c *Controller) run() {
	defer close(c.loopDone)
	for range c.signal {
		for {
			c.mbMu.Lock()
			ops := c.ops
			c.ops = nil
			finished := c.mbClosed && len(ops) == 0
			c.mbMu.Unlock()

			if finished {
				return
			}
			if len(ops) == 0 {
				break
			}
			for _, op := range ops {
				op()
			}
		}
	}
}

// loop-owned helpers below

func (c *Controller) attachLocked() error {
	resolved, u, err := quality.Resolve(c.tier, c.episode.Variants)
	if err != nil {
		c.fail(err)
		return err
	}

	c.gen++
	gen := c.gen
	c.sessCtx, c.sessCancel = context.WithCancel(xglog.ContextWithSessionID(context.Background(), c.id))
	sink := func(ev EngineEvent) {
		c.post(func() { c.onEngineEvent(gen, ev) })
	}

	var loader transport.Loader
	if c.cfg.Loader != nil {
		loader = boundLoader{ctx: c.sessCtx, next: c.cfg.Loader}
	}
	eng, err := c.cfg.Factory(EngineConfig{SessionID: c.id, Loader: loader}, sink)
	if err != nil {
		err = fmt.Errorf("%w: create: %v", ErrEngine, err)
		c.fail(err)
		return err
	}

	c.engine = eng
	c.finished = false
	c.recovery = NewRecoveryPolicy(c.cfg.MaxInPlaceRecoveries)
	c.resolved, c.url = resolved, u
	metrics.IncAttachments()
	c.transition(EvSourceAttached)

	if err := eng.Load(u, c.startAt); err != nil {
		err = fmt.Errorf("%w: load: %v", ErrEngine, err)
		c.fail(err)
		return err
	}
	if c.rate != 1 {
		if err := eng.SetRate(c.rate); err != nil {
			c.logger.Warn().Err(err).Msg("re-applying playback rate failed")
		}
	}
	c.startPrefetch()
	return nil
}

// reattach tears down and re-creates the engine for the current source,
// carrying position and play intent over.
func (c *Controller) reattach() {
	if c.status == StatusPlaying || c.status == StatusBuffering {
		c.wantPlay = true
	}
	c.teardown()
	_ = c.attachLocked()
}

func (c *Controller) playLocked() error {
	if err := c.engine.Play(); err != nil {
		return fmt.Errorf("%w: play: %v", ErrEngine, err)
	}
	c.wantPlay = true
	c.finished = false
	if c.transition(EvPlay) {
		// Reaching playing ends the stall episode, refreshed or not.
		c.stallRefreshed = false
	}
	return nil
}

// release destroys the engine and invalidates everything bound to it.
func (c *Controller) release() {
	c.stopStallTimer()
	if c.sessCancel != nil {
		c.sessCancel()
		c.sessCancel = nil
		c.sessCtx = nil
	}
	if c.engine != nil {
		pos := c.engine.Position()
		if c.finished {
			pos = 0
		}
		// An engine that never got going reports zero; keep what we had.
		if pos > 0 || c.finished {
			c.savePosition(pos)
			c.startAt = pos
		}
		c.engine.Destroy()
		c.engine = nil
		metrics.DecAttachments()
	}
	c.gen++
}

func (c *Controller) teardown() {
	c.release()
	if c.status != StatusIdle {
		c.transition(EvTeardown)
	}
	c.lastErr = nil
}

// fail destroys the engine before the error status becomes visible.
func (c *Controller) fail(err error) {
	c.release()
	c.lastErr = err
	c.logger.Error().Err(err).Str(xglog.FieldEvent, "playback.error").Msg("playback failed")
	c.transition(EvFatal)
}

func (c *Controller) onEngineEvent(gen uint64, ev EngineEvent) {
	if c.closed || gen != c.gen || c.engine == nil {
		c.logger.Debug().
			Uint64(xglog.FieldGeneration, gen).
			Str(xglog.FieldEvent, string(ev.Kind)).
			Msg("dropping stale engine event")
		return
	}

	switch ev.Kind {
	case EngineFirstData:
		if c.transition(EvFirstData) {
			c.startAt = 0
			if c.wantPlay || (c.cfg.Autoplay && c.active) {
				if err := c.playLocked(); err != nil {
					c.logger.Warn().Err(err).Msg("autoplay failed")
				}
			}
		}
	case EngineStalled:
		if c.transition(EvStalled) {
			c.armStallTimer()
		}
	case EngineResumed:
		if c.transition(EvResumed) {
			c.stopStallTimer()
			c.stallRefreshed = false
		}
	case EngineEnded:
		if c.transition(EvEnded) {
			c.stopStallTimer()
			c.stallRefreshed = false
			c.wantPlay = false
			c.finished = true
			c.notifyEnded()
		}
	case EngineFault:
		c.onFault(ev.Fault)
	}
}

func (c *Controller) onFault(f Fault) {
	action := c.recovery.Decide(f)
	metrics.RecordRecovery(string(f.Kind), string(action))

	logger := c.logger.With().
		Str(xglog.FieldEvent, "playback.fault").
		Str("fault", string(f.Kind)).
		Bool("fatal", f.Fatal).
		Str("action", string(action)).
		Logger()

	switch action {
	case ActionNone:
		logger.Debug().Err(f).Msg("engine reported recoverable fault")
	case ActionResumeLoad:
		logger.Warn().Err(f).Int("budget_left", c.recovery.Remaining()).Msg("resuming load in place")
		if err := c.engine.StartLoad(); err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrUnrecoverable, err))
		}
	case ActionRecoverMedia:
		logger.Warn().Err(f).Int("budget_left", c.recovery.Remaining()).Msg("recovering media in place")
		if err := c.engine.RecoverMedia(); err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrUnrecoverable, err))
		}
	case ActionRebuild:
		c.fail(fmt.Errorf("%w: %v", ErrUnrecoverable, f))
	}
}

func (c *Controller) armStallTimer() {
	if c.stallTimer != nil {
		return
	}
	c.stallToken++
	gen, token := c.gen, c.stallToken
	c.stallTimer = c.cfg.Clock.AfterFunc(c.cfg.StallTimeout, func() {
		c.post(func() { c.onStallTimeout(gen, token) })
	})
}

func (c *Controller) stopStallTimer() {
	if c.stallTimer != nil {
		c.stallTimer.Stop()
		c.stallTimer = nil
	}
	// Invalidates a callback that already fired but is still queued.
	c.stallToken++
}

func (c *Controller) onStallTimeout(gen, token uint64) {
	if c.closed || gen != c.gen || token != c.stallToken || c.status != StatusBuffering {
		return
	}
	c.stallTimer = nil

	if c.stallRefreshed || c.cfg.Refresher == nil {
		metrics.RecordStallRefresh("exhausted")
		c.fail(ErrStaleSource)
		return
	}
	c.stallRefreshed = true

	key := c.episode.Key()
	ctx := c.sessCtx
	c.logger.Warn().
		Str(xglog.FieldEvent, "playback.stall_refresh").
		Str(xglog.FieldSeries, key.SeriesCode).
		Int(xglog.FieldEpisode, key.Number).
		Dur("stalled_for", c.cfg.StallTimeout).
		Msg("buffering stalled, refreshing source")

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ep, err := c.cfg.Refresher.Refresh(ctx, key)
		c.post(func() { c.onRefreshed(gen, ep, err) })
	}()
}

func (c *Controller) onRefreshed(gen uint64, ep source.Episode, err error) {
	if c.closed || gen != c.gen {
		return
	}
	if err != nil {
		metrics.RecordStallRefresh("error")
		c.fail(fmt.Errorf("%w: %v", ErrStaleSource, err))
		return
	}
	metrics.RecordStallRefresh("ok")

	c.episode = &ep
	if c.status != StatusBuffering {
		// Recovered on its own; the fresh URLs apply from the next attach.
		return
	}
	if _, _, err := quality.Resolve(c.tier, ep.Variants); err != nil {
		c.fail(fmt.Errorf("%w: %v", ErrStaleSource, err))
		return
	}
	c.reattach()
}

func (c *Controller) startPrefetch() {
	if c.cfg.Prefetcher == nil || !c.episode.HasNext() {
		return
	}
	next := c.episode.Key().Next()
	ctx := c.sessCtx
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if err := c.cfg.Prefetcher.Prefetch(ctx, next); err != nil && ctx.Err() == nil {
			c.logger.Debug().Err(err).Int(xglog.FieldEpisode, next.Number).Msg("prefetch failed")
		}
	}()
}

func (c *Controller) savePosition(pos time.Duration) {
	if c.cfg.Positions == nil || c.episode == nil {
		return
	}
	key := c.episode.Key()
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := c.cfg.Positions.Save(ctx, key, pos); err != nil {
			c.logger.Warn().Err(err).Msg("saving resume position failed")
		}
	}()
}

func (c *Controller) notifyEnded() {
	if c.cfg.OnEnded == nil {
		return
	}
	ep := *c.episode
	go c.cfg.OnEnded(ep)
}

func (c *Controller) transition(ev EventKind) bool {
	tr, ok := TransitionFor(c.status, ev)
	if !ok {
		c.logger.Debug().
			Str(xglog.FieldOldState, string(c.status)).
			Str(xglog.FieldEvent, string(ev)).
			Msg("ignoring event in current status")
		return false
	}

	prev := c.status
	c.status = tr.To
	metrics.RecordTransition(string(prev), string(tr.To))
	c.logger.Debug().
		Str(xglog.FieldEvent, "playback.transition").
		Str(xglog.FieldOldState, string(prev)).
		Str(xglog.FieldNewState, string(tr.To)).
		Uint64(xglog.FieldGeneration, c.gen).
		Msg("status changed")

	u := Update{
		Status:     tr.To,
		Prev:       prev,
		Generation: c.gen,
		Tier:       c.resolved,
		At:         c.cfg.Clock.Now(),
	}
	if c.episode != nil {
		u.Episode = c.episode.Key()
	}
	if tr.To == StatusError {
		u.Err = c.lastErr
		u.Retryable = true
	}
	c.broadcast(u)
	return true
}

func (c *Controller) broadcast(u Update) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.last = u
	for s := range c.subs {
		s.push(u)
	}
}

// boundLoader ties every load to the attachment's lifetime and tags it
// with the controller's session id.
type boundLoader struct {
	ctx  context.Context
	next transport.Loader
}

func (b boundLoader) Load(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if sid := xglog.SessionIDFromContext(b.ctx); sid != "" {
		ctx = xglog.ContextWithSessionID(ctx, sid)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(b.ctx, func() { cancel(context.Cause(b.ctx)) })
	defer stop()
	return b.next.Load(ctx, req)
}
