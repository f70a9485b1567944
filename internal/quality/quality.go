// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package quality resolves a requested tier to a variant URL.
package quality

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is a requested quality level.
type Tier string

const (
	Auto     Tier = "auto"
	Tier480  Tier = "480"
	Tier720  Tier = "720"
	Tier1080 Tier = "1080"
)

var (
	ErrTierUnavailable = errors.New("quality tier not available")
	ErrUnknownTier     = errors.New("unknown quality tier")
)

// autoOrder is the fallback used for Auto: moderate bandwidth first.
var autoOrder = []Tier{Tier720, Tier1080, Tier480}

// Variants holds the per-tier URLs of one episode. Field tags match the
// upstream descriptor so it decodes directly. Empty means absent.
type Variants struct {
	V480  string `json:"video_480,omitempty"`
	V720  string `json:"video_720,omitempty"`
	V1080 string `json:"video_1080,omitempty"`
}

// URL returns the URL for an explicit tier, or "" for Auto and unknown tiers.
func (v Variants) URL(t Tier) string {
	switch t {
	case Tier480:
		return v.V480
	case Tier720:
		return v.V720
	case Tier1080:
		return v.V1080
	default:
		return ""
	}
}

// Empty reports whether no tier is available.
func (v Variants) Empty() bool {
	return v.V480 == "" && v.V720 == "" && v.V1080 == ""
}

// ParseTier accepts "auto", "480", "480p" and so on, case-insensitively.
// The empty string selects Auto.
func ParseTier(s string) (Tier, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "p")
	switch Tier(s) {
	case "", Auto:
		return Auto, nil
	case Tier480, Tier720, Tier1080:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// Resolve returns the concrete tier and URL for t. Explicit tiers match
// exactly and are never substituted.
func Resolve(t Tier, v Variants) (Tier, string, error) {
	switch t {
	case Auto:
		for _, candidate := range autoOrder {
			if u := v.URL(candidate); u != "" {
				return candidate, u, nil
			}
		}
		return "", "", ErrTierUnavailable
	case Tier480, Tier720, Tier1080:
		if u := v.URL(t); u != "" {
			return t, u, nil
		}
		return "", "", fmt.Errorf("%w: %sp", ErrTierUnavailable, t)
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTier, string(t))
	}
}

// Select returns the URL for t.
func Select(t Tier, v Variants) (string, error) {
	_, u, err := Resolve(t, v)
	return u, err
}

// Option is one entry of the tier menu.
type Option struct {
	Tier    Tier   `json:"tier"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
	Hint    string `json:"hint"`
}

// Options lists the tier menu. Auto is always enabled; explicit tiers
// without a URL are disabled rather than hidden.
func Options(v Variants) []Option {
	opts := []Option{{Tier: Auto, Label: "Auto", Enabled: true, Hint: "Prefer 720p"}}
	for _, t := range []Tier{Tier480, Tier720, Tier1080} {
		o := Option{Tier: t, Label: string(t) + "p", Hint: "Not available"}
		if v.URL(t) != "" {
			o.Enabled = true
			o.Hint = "Available"
		}
		opts = append(opts, o)
	}
	return opts
}
