// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import "errors"

// ErrMissingServer is returned when an app is created without a server.
var ErrMissingServer = errors.New("server is required")
