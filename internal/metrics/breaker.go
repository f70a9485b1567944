// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reelplay_breaker_state",
		Help: "Breaker state per component: 0 closed, 1 half-open, 2 open",
	}, []string{"component"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelplay_breaker_trips_total",
		Help: "Breaker transitions to open, by reason",
	}, []string{"component", "reason"})
)

var breakerLevels = map[string]float64{"closed": 0, "half-open": 1, "open": 2}

// SetBreakerState publishes the breaker state of component. Unknown states
// are ignored.
func SetBreakerState(component, state string) {
	if v, ok := breakerLevels[state]; ok {
		breakerState.WithLabelValues(component).Set(v)
	}
}

// RecordBreakerTrip counts one transition to open.
func RecordBreakerTrip(component, reason string) {
	breakerTrips.WithLabelValues(component, reason).Inc()
}
