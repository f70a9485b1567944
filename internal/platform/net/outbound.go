// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package net

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrOutboundNotAllowed indicates the URL did not match the allowlist.
var ErrOutboundNotAllowed = errors.New("outbound url not allowed")

// NormalizeHost validates and normalizes a host for comparison.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.Contains(host, "://") {
		return "", fmt.Errorf("host must not include scheme: %s", raw)
	}
	if strings.Contains(host, "/") {
		return "", fmt.Errorf("host must not include path: %s", raw)
	}
	if strings.Contains(host, "@") {
		return "", fmt.Errorf("host must not include userinfo: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("host must not include zone: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// HostAllowlist matches URL hosts against a normalized set. A leading "*."
// entry matches any subdomain (but not the apex).
type HostAllowlist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewHostAllowlist normalizes hosts into an allowlist.
func NewHostAllowlist(hosts []string) (HostAllowlist, error) {
	allow := HostAllowlist{exact: make(map[string]struct{})}
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(h, "*."); ok {
			normalized, err := NormalizeHost(rest)
			if err != nil {
				return HostAllowlist{}, err
			}
			allow.suffixes = append(allow.suffixes, "."+normalized)
			continue
		}
		normalized, err := NormalizeHost(h)
		if err != nil {
			return HostAllowlist{}, err
		}
		allow.exact[normalized] = struct{}{}
	}
	return allow, nil
}

// Empty reports whether no host is allowed.
func (a HostAllowlist) Empty() bool {
	return len(a.exact) == 0 && len(a.suffixes) == 0
}

// Check returns ErrOutboundNotAllowed unless u is a direct http(s) URL whose
// host is on the list.
func (a HostAllowlist) Check(u *url.URL) error {
	if u == nil {
		return ErrOutboundNotAllowed
	}
	if err := directHTTP(u); err != nil {
		return fmt.Errorf("%w: %v: %s", ErrOutboundNotAllowed, err, SanitizeURL(u.String()))
	}
	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutboundNotAllowed, err)
	}
	if _, ok := a.exact[host]; ok {
		return nil
	}
	for _, suffix := range a.suffixes {
		if strings.HasSuffix(host, suffix) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %s", ErrOutboundNotAllowed, host)
}
