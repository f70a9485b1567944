// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans across packages.
const (
	SegmentBytesKey   = "segment.bytes"
	SegmentOutcomeKey = "segment.outcome"

	LoaderKindKey = "loader.kind"

	SessionIDKey  = "session.id"
	SeriesCodeKey = "episode.series"
	EpisodeKey    = "episode.number"
	TierKey       = "quality.tier"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// SegmentAttributes describes one segment decode.
func SegmentAttributes(size int, outcome string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int(SegmentBytesKey, size)}
	if outcome != "" {
		attrs = append(attrs, attribute.String(SegmentOutcomeKey, outcome))
	}
	return attrs
}

// EpisodeAttributes describes an episode lookup. Empty values are omitted.
func EpisodeAttributes(series string, episode int, tier string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if series != "" {
		attrs = append(attrs, attribute.String(SeriesCodeKey, series))
	}
	if episode > 0 {
		attrs = append(attrs, attribute.Int(EpisodeKey, episode))
	}
	if tier != "" {
		attrs = append(attrs, attribute.String(TierKey, tier))
	}
	return attrs
}

// ErrorAttributes marks a span as failed with a coarse error type.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
