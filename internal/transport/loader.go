// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package transport defines the loader capability the ABR engine fetches
// through, a plain HTTP implementation and the decrypting decorator.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Kind classifies what a request loads.
type Kind string

const (
	KindManifest Kind = "manifest"
	KindKey      Kind = "key"
	KindFragment Kind = "fragment"
)

// Request is one engine load.
type Request struct {
	URL    string
	Kind   Kind
	Header http.Header
	// RangeStart/RangeEnd select an inclusive byte range when RangeEnd > 0.
	RangeStart int64
	RangeEnd   int64
}

// Stats is the timing metadata reported to the engine for bandwidth estimation.
type Stats struct {
	Requested time.Time
	FirstByte time.Time
	Loaded    time.Time
	Bytes     int64
	Retries   int
}

// Response is a successful load.
type Response struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string
	Data        []byte
	Stats       Stats
}

// Loader loads one request. Implementations must honour ctx cancellation.
type Loader interface {
	Load(ctx context.Context, req *Request) (*Response, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, req *Request) (*Response, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// ErrorKind is the shape of a failed load, mirroring what ABR engines distinguish.
type ErrorKind string

const (
	ErrTimeout  ErrorKind = "timeout"
	ErrHTTP     ErrorKind = "http_error"
	ErrNetwork  ErrorKind = "network_error"
	ErrCanceled ErrorKind = "canceled"
)

// Error describes a failed load.
type Error struct {
	Kind   ErrorKind
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == ErrHTTP {
		return fmt.Sprintf("load %s: http status %d", e.URL, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("load %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("load %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the load timed out.
func (e *Error) Timeout() bool { return e.Kind == ErrTimeout }

// IsKind reports whether err is a load *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == kind
}

// Classify infers the request kind from a URL path for callers that cannot
// tag requests themselves.
func Classify(rawURL string) Kind {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".m3u8", ".m3u":
		return KindManifest
	case ".key", ".bin":
		return KindKey
	default:
		return KindFragment
	}
}
