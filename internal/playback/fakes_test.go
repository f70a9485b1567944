// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/reelplay/internal/quality"
	"github.com/ManuGH/reelplay/internal/source"
	"github.com/stretchr/testify/require"
)

type loadCall struct {
	url   string
	start time.Duration
}

type fakeEngine struct {
	id   int
	sink EventSink
	cfg  EngineConfig

	mu           sync.Mutex
	loads        []loadCall
	plays        int
	pauses       int
	startLoads   int
	recoverMedia int
	rates        []float64
	pos          time.Duration
	destroyed    int
}

func (e *fakeEngine) Load(url string, start time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads = append(e.loads, loadCall{url: url, start: start})
	return nil
}

func (e *fakeEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plays++
	return nil
}

func (e *fakeEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauses++
	return nil
}

func (e *fakeEngine) SetRate(rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rates = append(e.rates, rate)
	return nil
}

func (e *fakeEngine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

func (e *fakeEngine) StartLoad() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startLoads++
	return nil
}

func (e *fakeEngine) RecoverMedia() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recoverMedia++
	return nil
}

func (e *fakeEngine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed++
}

func (e *fakeEngine) setPos(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = d
}

func (e *fakeEngine) snapshot() fakeEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fakeEngine{
		id:           e.id,
		loads:        append([]loadCall(nil), e.loads...),
		plays:        e.plays,
		pauses:       e.pauses,
		startLoads:   e.startLoads,
		recoverMedia: e.recoverMedia,
		rates:        append([]float64(nil), e.rates...),
		destroyed:    e.destroyed,
	}
}

func (e *fakeEngine) emit(kind EngineEventKind) {
	e.sink(EngineEvent{Kind: kind})
}

func (e *fakeEngine) fault(kind FaultKind, fatal bool) {
	e.sink(EngineEvent{Kind: EngineFault, Fault: Fault{Kind: kind, Fatal: fatal, Details: "test"}})
}

type engines struct {
	mu   sync.Mutex
	list []*fakeEngine
	err  error
}

func (h *engines) factory(cfg EngineConfig, sink EventSink) (Engine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	e := &fakeEngine{id: len(h.list) + 1, sink: sink, cfg: cfg}
	h.list = append(h.list, e)
	return e, nil
}

func (h *engines) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.list)
}

func (h *engines) get(t *testing.T, i int) *fakeEngine {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Greater(t, len(h.list), i, "engine %d was never created", i)
	return h.list[i]
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due callbacks on the caller's goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls []source.Key
	reply chan refreshReply
}

type refreshReply struct {
	ep  source.Episode
	err error
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{reply: make(chan refreshReply, 4)}
}

func (r *fakeRefresher) Refresh(ctx context.Context, key source.Key) (source.Episode, error) {
	r.mu.Lock()
	r.calls = append(r.calls, key)
	r.mu.Unlock()
	select {
	case rep := <-r.reply:
		return rep.ep, rep.err
	case <-ctx.Done():
		return source.Episode{}, ctx.Err()
	}
}

func (r *fakeRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type memPositions struct {
	mu    sync.Mutex
	saved map[source.Key]time.Duration
	saves chan source.Key
}

func newMemPositions() *memPositions {
	return &memPositions{saved: make(map[source.Key]time.Duration), saves: make(chan source.Key, 16)}
}

func (m *memPositions) Load(_ context.Context, key source.Key) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.saved[key]
	return d, ok, nil
}

func (m *memPositions) Save(_ context.Context, key source.Key, pos time.Duration) error {
	m.mu.Lock()
	m.saved[key] = pos
	m.mu.Unlock()
	m.saves <- key
	return nil
}

var errFactory = errors.New("no decoder")

func episode(n int) source.Episode {
	return source.Episode{
		SeriesCode: "abc",
		Lang:       "en",
		Number:     n,
		Total:      10,
		Variants: quality.Variants{
			V480:  "https://cdn.example.com/480.m3u8",
			V720:  "https://cdn.example.com/720.m3u8",
			V1080: "https://cdn.example.com/1080.m3u8",
		},
	}
}

// expectStatuses reads updates until want is observed in order.
func expectStatuses(t *testing.T, ch <-chan Update, want ...Status) []Update {
	t.Helper()
	got := make([]Update, 0, len(want))
	for _, w := range want {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "subscription closed while waiting for %s", w)
			require.Equal(t, w, u.Status, "after %v", statuses(got))
			got = append(got, u)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s after %v", w, statuses(got))
		}
	}
	return got
}

// expectQuiet asserts nothing else was emitted once queued work has drained.
func expectQuiet(t *testing.T, c *Controller, ch <-chan Update) {
	t.Helper()
	_, err := c.Snapshot()
	require.NoError(t, err)
	select {
	case u := <-ch:
		t.Fatalf("unexpected update %s", u.Status)
	case <-time.After(20 * time.Millisecond):
	}
}

func statuses(us []Update) []Status {
	out := make([]Status, len(us))
	for i, u := range us {
		out[i] = u.Status
	}
	return out
}

// settle waits for all mailbox work posted so far.
func settle(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	s, err := c.Snapshot()
	require.NoError(t, err)
	return s
}
