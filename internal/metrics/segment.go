// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SegmentOutcomes counts fragment payloads by what the decrypting loader did with them.
	SegmentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelplay_segment_outcomes_total",
		Help: "Fragment payloads by outcome (decrypted, passthrough, parse_fault, decrypt_fault)",
	}, []string{"outcome"})

	// SegmentDecryptDuration tracks the CPU time spent on parse + decrypt per fragment.
	SegmentDecryptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reelplay_segment_decrypt_duration_seconds",
		Help:    "Time spent parsing and decrypting a fragment",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	segmentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelplay_segment_bytes_total",
		Help: "Fragment bytes handed to the engine by outcome",
	}, []string{"outcome"})

	loaderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelplay_loader_requests_total",
		Help: "Transport loader requests by kind and result",
	}, []string{"kind", "result"}) // result=ok|timeout|http_error|network_error|canceled
)

// ObserveSegment records one processed fragment.
func ObserveSegment(outcome string, size int, took time.Duration) {
	SegmentOutcomes.WithLabelValues(outcome).Inc()
	segmentBytes.WithLabelValues(outcome).Add(float64(size))
	SegmentDecryptDuration.Observe(took.Seconds())
}

// RecordLoaderRequest records the result of one transport load.
func RecordLoaderRequest(kind, result string) {
	loaderRequests.WithLabelValues(kind, result).Inc()
}
