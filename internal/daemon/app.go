// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon owns the long-lived runtime of reelplayd: the relay
// server, config hot reload and resume store housekeeping.
package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/reelplay/internal/config"
	xglog "github.com/ManuGH/reelplay/internal/log"
	"github.com/ManuGH/reelplay/internal/resume"
	"github.com/rs/zerolog"
)

// Server is the serving half of the daemon.
type Server interface {
	Run(ctx context.Context) error
}

// Options wires an App.
type Options struct {
	Logger zerolog.Logger
	Server Server
	Config *config.Holder
	// OnConfig is called with every successfully reloaded config.
	OnConfig func(config.AppConfig)
	// Pruner expires resume positions older than Resume.Retention.
	Pruner     resume.Pruner
	PruneEvery time.Duration
}

// App runs the server alongside its background subsystems.
type App struct {
	opts         Options
	logger       zerolog.Logger
	reloadSignal os.Signal
	now          func() time.Time
}

// NewApp validates opts and returns an App.
func NewApp(opts Options) (*App, error) {
	if opts.Server == nil {
		return nil, ErrMissingServer
	}
	if opts.PruneEvery <= 0 {
		opts.PruneEvery = time.Hour
	}
	return &App{
		opts:         opts,
		logger:       opts.Logger,
		reloadSignal: syscall.SIGHUP,
		now:          time.Now,
	}, nil
}

// Run blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	holder := a.opts.Config
	if holder != nil {
		// Best effort: a missing watcher only disables hot reload.
		if err := holder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		defer holder.Stop()

		if a.opts.OnConfig != nil {
			applyCh := make(chan config.AppConfig, 1)
			holder.RegisterListener(applyCh)
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case cfg := <-applyCh:
						a.opts.OnConfig(cfg)
					}
				}
			})
		}

		if a.reloadSignal != nil {
			g.Go(func() error {
				hup := make(chan os.Signal, 1)
				signal.Notify(hup, a.reloadSignal)
				defer signal.Stop(hup)
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hup:
						a.logger.Info().
							Str(xglog.FieldEvent, "config.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading config")
						if err := holder.Reload(ctx); err != nil {
							a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.reload_failed").Msg("config reload failed")
						}
					}
				}
			})
		}
	}

	if a.opts.Pruner != nil {
		g.Go(func() error {
			a.pruneLoop(ctx)
			return nil
		})
	}

	g.Go(func() error {
		return a.opts.Server.Run(ctx)
	})

	return g.Wait()
}

func (a *App) retention() time.Duration {
	if a.opts.Config == nil {
		return 0
	}
	return a.opts.Config.Get().Resume.Retention
}

func (a *App) pruneLoop(ctx context.Context) {
	t := time.NewTicker(a.opts.PruneEvery)
	defer t.Stop()
	for {
		a.pruneOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (a *App) pruneOnce(ctx context.Context) {
	keep := a.retention()
	if keep <= 0 {
		return
	}
	n, err := a.opts.Pruner.Prune(ctx, a.now().Add(-keep))
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn().Err(err).Str(xglog.FieldEvent, "resume.prune_failed").Msg("pruning resume positions failed")
		}
		return
	}
	if n > 0 {
		a.logger.Info().
			Str(xglog.FieldEvent, "resume.pruned").
			Int64("removed", n).
			Dur("retention", keep).
			Msg("pruned stale resume positions")
	}
}
