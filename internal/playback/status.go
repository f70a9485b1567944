// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package playback

import (
	"time"

	"github.com/ManuGH/reelplay/internal/quality"
	"github.com/ManuGH/reelplay/internal/source"
)

// Status is the observable state of a controller.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusReady     Status = "ready"
	StatusPlaying   Status = "playing"
	StatusBuffering Status = "buffering"
	StatusError     Status = "error"
)

// EventKind drives the status machine.
type EventKind string

const (
	EvSourceAttached EventKind = "source_attached"
	EvFirstData      EventKind = "first_data"
	EvPlay           EventKind = "play"
	EvStalled        EventKind = "stalled"
	EvResumed        EventKind = "resumed"
	EvPause          EventKind = "pause"
	EvEnded          EventKind = "ended"
	EvFatal          EventKind = "fatal"
	EvTeardown       EventKind = "teardown"
)

// Transition is a single allowed edge in the status machine.
type Transition struct {
	From  Status
	Event EventKind
	To    Status
}

var transitionsTable = []Transition{
	// Attach path
	{From: StatusIdle, Event: EvSourceAttached, To: StatusLoading},
	{From: StatusLoading, Event: EvFirstData, To: StatusReady},
	{From: StatusReady, Event: EvPlay, To: StatusPlaying},

	// Buffering
	{From: StatusPlaying, Event: EvStalled, To: StatusBuffering},
	{From: StatusBuffering, Event: EvResumed, To: StatusPlaying},

	// Back to ready
	{From: StatusPlaying, Event: EvPause, To: StatusReady},
	{From: StatusBuffering, Event: EvPause, To: StatusReady},
	{From: StatusPlaying, Event: EvEnded, To: StatusReady},
	{From: StatusBuffering, Event: EvEnded, To: StatusReady},

	// Fatal faults; idle covers engine creation failures
	{From: StatusIdle, Event: EvFatal, To: StatusError},
	{From: StatusLoading, Event: EvFatal, To: StatusError},
	{From: StatusReady, Event: EvFatal, To: StatusError},
	{From: StatusPlaying, Event: EvFatal, To: StatusError},
	{From: StatusBuffering, Event: EvFatal, To: StatusError},

	// Teardown
	{From: StatusLoading, Event: EvTeardown, To: StatusIdle},
	{From: StatusReady, Event: EvTeardown, To: StatusIdle},
	{From: StatusPlaying, Event: EvTeardown, To: StatusIdle},
	{From: StatusBuffering, Event: EvTeardown, To: StatusIdle},
	{From: StatusError, Event: EvTeardown, To: StatusIdle},
}

// TransitionFor returns the allowed transition for a given status+event.
func TransitionFor(from Status, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// Update is one status change delivered to subscribers.
type Update struct {
	Status     Status
	Prev       Status
	Generation uint64
	Episode    source.Key
	Tier       quality.Tier
	At         time.Time

	// Err is set for StatusError. Retryable tells the presentation layer to
	// offer retry or switching to another item.
	Err       error
	Retryable bool
}
