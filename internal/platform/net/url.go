// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package net

import (
	"errors"
	"net/url"
	"strings"
)

// SanitizeURL drops user info, query and fragment for logging. Delivery
// URLs carry their authorization in the query.
func SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// directHTTP rejects anything but a plain http(s) URL with a host and no
// credentials.
func directHTTP(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.New("scheme must be http or https")
	}
	switch {
	case u.Host == "":
		return errors.New("missing host")
	case u.User != nil:
		return errors.New("embedded credentials")
	case u.Opaque != "":
		return errors.New("opaque URL")
	}
	return nil
}
