// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration is labelled by route pattern, never raw path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reelplay_http_request_duration_seconds",
		Help:    "Relay HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelplay_http_requests_in_flight",
		Help: "Relay HTTP requests currently being served",
	})

	relayBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelplay_relay_bytes_total",
		Help: "Bytes written by the relay by request kind",
	}, []string{"kind"})
)

// TrackInFlight increments the in-flight gauge and returns its decrement.
func TrackInFlight() func() {
	httpInFlight.Inc()
	return httpInFlight.Dec
}

func ObserveHTTPRequest(method, route string, status int, took time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(took.Seconds())
}

func AddRelayBytes(kind string, n int) {
	relayBytes.WithLabelValues(kind).Add(float64(n))
}
