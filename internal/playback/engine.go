// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package playback

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/reelplay/internal/transport"
)

// Engine is the external ABR engine bound to one attachment. Methods are
// only called from the controller's own goroutine and must not block on
// the controller.
type Engine interface {
	// Load starts loading url, beginning playback at start once ready.
	Load(url string, start time.Duration) error
	Play() error
	Pause() error
	SetRate(rate float64) error
	Position() time.Duration
	// StartLoad resumes loading after a network fault.
	StartLoad() error
	// RecoverMedia resets the decode pipeline after a media fault.
	RecoverMedia() error
	// Destroy releases every resource. It is called exactly once.
	Destroy()
}

// EngineConfig is handed to the factory for each attachment.
type EngineConfig struct {
	SessionID string
	// Loader is cancelled when the attachment is torn down.
	Loader transport.Loader
}

// EventSink receives engine events. It never blocks.
type EventSink func(EngineEvent)

// EngineFactory creates one engine per attachment.
type EngineFactory func(cfg EngineConfig, sink EventSink) (Engine, error)

// EngineEventKind is what the engine reports.
type EngineEventKind string

const (
	EngineFirstData EngineEventKind = "first_data"
	EngineStalled   EngineEventKind = "stalled"
	EngineResumed   EngineEventKind = "resumed"
	EngineEnded     EngineEventKind = "ended"
	EngineFault     EngineEventKind = "fault"
)

// EngineEvent is one engine report. Fault is set for EngineFault.
type EngineEvent struct {
	Kind  EngineEventKind
	Fault Fault
}

// FaultKind is the engine's error class.
type FaultKind string

const (
	FaultNetwork FaultKind = "network"
	FaultMedia   FaultKind = "media"
	FaultOther   FaultKind = "other"
)

// Fault is an engine error. Non-fatal faults are handled by the engine itself.
type Fault struct {
	Kind    FaultKind
	Fatal   bool
	Details string
	Err     error
}

func (f Fault) Error() string {
	s := fmt.Sprintf("%s fault", f.Kind)
	if f.Fatal {
		s = "fatal " + s
	}
	if f.Details != "" {
		s += ": " + f.Details
	}
	if f.Err != nil {
		s += ": " + f.Err.Error()
	}
	return s
}

func (f Fault) Unwrap() error { return f.Err }

// FaultFromLoadError classifies a loader failure for engines built on
// transport.Loader. Cancellations are not faults.
func FaultFromLoadError(err error, fatal bool) (Fault, bool) {
	var le *transport.Error
	if !errors.As(err, &le) {
		return Fault{Kind: FaultOther, Fatal: fatal, Err: err}, true
	}
	if le.Kind == transport.ErrCanceled {
		return Fault{}, false
	}
	return Fault{Kind: FaultNetwork, Fatal: fatal, Details: string(le.Kind), Err: err}, true
}
