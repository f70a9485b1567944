// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldSlideID   = "slide_id"
	FieldRequestID = "request_id"
	FieldSeries    = "series"
	FieldEpisode   = "episode"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Media / stream fields
	FieldTier       = "tier"
	FieldKind       = "kind"
	FieldOutcome    = "outcome"
	FieldGeneration = "generation"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldURL     = "url"
	FieldBaseURL = "base_url"
	FieldPath    = "path"
)
