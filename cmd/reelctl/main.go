// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command reelctl inspects and decrypts container segments and plays
// episodes headlessly through the playback controller.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	xglog "github.com/ManuGH/reelplay/internal/log"
)

var version = "v0.1.0"

func main() {
	// stdout may carry media; logs go to stderr
	xglog.Configure(xglog.Config{Output: os.Stderr, Service: "reelctl", Version: version})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	cmd := newRootCommand()
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
