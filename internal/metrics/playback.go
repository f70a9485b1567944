// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	playbackTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelplay_playback_transitions_total",
		Help: "Playback status transitions",
	}, []string{"from", "to"})

	// RecoveryActions counts fault recovery decisions by action.
	RecoveryActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelplay_recovery_actions_total",
		Help: "Fault recovery decisions by fault class and action",
	}, []string{"fault", "action"})

	// StallRefreshes counts URL refreshes triggered by stalled buffering.
	StallRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelplay_stall_refresh_total",
		Help: "URL refreshes triggered by stalled buffering by result",
	}, []string{"result"}) // result=reattached|fetch_failed|exhausted|stale

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelplay_engine_attachments_active",
		Help: "Engine instances currently attached across all controllers",
	})
)

// RecordTransition increments the transition counter.
func RecordTransition(from, to string) {
	playbackTransitions.WithLabelValues(from, to).Inc()
}

// RecordRecovery increments the recovery action counter.
func RecordRecovery(fault, action string) {
	RecoveryActions.WithLabelValues(fault, action).Inc()
}

// RecordStallRefresh increments the stall refresh counter.
func RecordStallRefresh(result string) {
	StallRefreshes.WithLabelValues(result).Inc()
}

// IncAttachments tracks an engine attach.
func IncAttachments() { activeSessions.Inc() }

// DecAttachments tracks an engine teardown.
func DecAttachments() { activeSessions.Dec() }
