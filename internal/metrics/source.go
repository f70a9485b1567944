// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelplay_source_requests_total",
		Help: "Episode descriptor lookups by origin and result",
	}, []string{"origin", "result"}) // origin=cache|upstream|prefetch, result=ok|error|circuit_open

	sourceLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reelplay_source_fetch_duration_seconds",
		Help:    "Upstream episode descriptor fetch latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)

// RecordSourceRequest records one descriptor lookup.
func RecordSourceRequest(origin, result string) {
	sourceRequests.WithLabelValues(origin, result).Inc()
}

// ObserveSourceFetch records the latency of one upstream fetch.
func ObserveSourceFetch(d time.Duration) {
	sourceLatency.Observe(d.Seconds())
}
