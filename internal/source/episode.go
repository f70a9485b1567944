// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package source fetches episode descriptors from the upstream content API.
package source

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/reelplay/internal/quality"
)

// Key identifies one episode of a series in a language.
type Key struct {
	SeriesCode string
	Lang       string
	Number     int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.SeriesCode, k.Lang, k.Number)
}

// Next returns the key of the following episode.
func (k Key) Next() Key {
	k.Number++
	return k
}

// Validate rejects keys that cannot address an episode.
func (k Key) Validate() error {
	if strings.TrimSpace(k.SeriesCode) == "" {
		return fmt.Errorf("%w: empty series code", ErrInvalidKey)
	}
	if k.Number < 1 {
		return fmt.Errorf("%w: episode %d", ErrInvalidKey, k.Number)
	}
	return nil
}

// Episode is the descriptor of one episode. Variant URLs may carry embedded
// authorization, so descriptors are treated as expiring and re-fetchable.
type Episode struct {
	SeriesCode string           `json:"series_code"`
	Lang       string           `json:"lang"`
	Number     int              `json:"number"`
	Name       string           `json:"name"`
	Total      int              `json:"total"`
	Variants   quality.Variants `json:"variants"`
	FetchedAt  time.Time        `json:"fetched_at"`
}

// Key returns the episode's key.
func (e Episode) Key() Key {
	return Key{SeriesCode: e.SeriesCode, Lang: e.Lang, Number: e.Number}
}

// HasNext reports whether a following episode exists.
func (e Episode) HasNext() bool {
	return e.Number < e.Total
}
