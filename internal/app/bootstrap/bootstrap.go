// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package bootstrap is the composition root shared by reelplayd and reelctl.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/reelplay/internal/cache"
	"github.com/ManuGH/reelplay/internal/config"
	"github.com/ManuGH/reelplay/internal/daemon"
	xglog "github.com/ManuGH/reelplay/internal/log"
	"github.com/ManuGH/reelplay/internal/platform/httpx"
	netx "github.com/ManuGH/reelplay/internal/platform/net"
	"github.com/ManuGH/reelplay/internal/quality"
	"github.com/ManuGH/reelplay/internal/relay"
	"github.com/ManuGH/reelplay/internal/resume"
	"github.com/ManuGH/reelplay/internal/segment"
	"github.com/ManuGH/reelplay/internal/source"
	"github.com/ManuGH/reelplay/internal/telemetry"
	"github.com/ManuGH/reelplay/internal/transport"
	"github.com/rs/zerolog"
)

const serviceName = "reelplay"

// LoadConfig resolves the config path, loads it and configures logging.
// An empty explicit path falls back to $REELPLAY_DATA_DIR/config.yaml when
// that file exists.
func LoadConfig(explicitPath, version string) (config.AppConfig, *config.Loader, error) {
	xglog.Configure(xglog.Config{Level: "info", Service: serviceName, Version: version})
	logger := xglog.WithComponent("bootstrap")

	path, explicit, err := resolveConfigPath(strings.TrimSpace(explicitPath))
	if err != nil {
		return config.AppConfig{}, nil, fmt.Errorf("resolve config path: %w", err)
	}
	loader := config.NewLoader(path, version)
	cfg, err := loader.Load()
	if err != nil {
		return config.AppConfig{}, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := xglog.SetLevel(cfg.Server.LogLevel); err != nil {
		logger.Warn().Err(err).Msg("log level not applied")
	}

	ev := logger.Info().Str(xglog.FieldEvent, "config.loaded")
	switch {
	case explicit:
		ev.Str("source", "file").Str(xglog.FieldPath, path).Msg("loaded configuration from file")
	case path != "":
		ev.Str("source", "file(auto)").Str(xglog.FieldPath, path).Msg("loaded configuration from file")
	default:
		ev.Str("source", "env+defaults").Msg("loaded configuration from environment and defaults")
	}
	return cfg, loader, nil
}

// Stack is the dependency graph behind both binaries.
type Stack struct {
	Config    config.AppConfig
	Cache     cache.Cache
	Source    *source.Client
	Loader    transport.Loader
	Positions resume.Store
	Telemetry *telemetry.Provider
}

// NewStack builds the shared components for cfg. Close releases them.
func NewStack(ctx context.Context, cfg config.AppConfig) (*Stack, error) {
	if strings.TrimSpace(cfg.Source.BaseURL) == "" {
		return nil, errors.New("source.baseUrl is required (REELPLAY_SOURCE_BASE_URL)")
	}
	logger := xglog.WithComponent("bootstrap")
	st := &Stack{Config: cfg}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}
	st.Telemetry = tp

	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddr,
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.KeyPrefix,
		}, xglog.WithComponent("cache"))
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("initialize redis cache: %w", err)
		}
		st.Cache = rc
	default:
		st.Cache = cache.NewMemoryCache(time.Minute)
	}

	st.Source, err = source.NewClient(source.Config{
		BaseURL:          cfg.Source.BaseURL,
		Timeout:          cfg.Source.Timeout,
		CacheTTL:         cfg.Source.CacheTTL,
		RateLimit:        cfg.Source.RateLimit,
		RateBurst:        cfg.Source.RateBurst,
		BreakerThreshold: cfg.Source.BreakerThreshold,
		BreakerReset:     cfg.Source.BreakerReset,
		UserAgent:        cfg.Source.UserAgent,
	}, st.Cache)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize source client: %w", err)
	}

	httpLoader := transport.NewHTTPLoader(
		httpx.NewInstrumentedClient(cfg.Relay.Timeout, "segments"),
		transport.WithUserAgent(cfg.Source.UserAgent),
		transport.WithRetries(cfg.Relay.Retries, cfg.Relay.RetryDelay),
		transport.WithMaxBody(int64(cfg.Relay.MaxBodyMB)<<20),
	)
	st.Loader = transport.NewDecryptingLoader(httpLoader,
		segment.NewPool(cfg.Decrypt.Workers),
		transport.WithDecodeTimeout(cfg.Decrypt.Timeout))

	st.Positions, err = resume.NewStore(cfg.Resume.Backend, cfg.ResumeDir())
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialize resume store, falling back to memory")
		st.Positions = resume.NewMemoryStore()
	}
	return st, nil
}

// Close releases everything NewStack opened. It is safe on a partial stack.
func (s *Stack) Close() {
	logger := xglog.WithComponent("bootstrap")
	if s.Positions != nil {
		if err := s.Positions.Close(); err != nil {
			logger.Warn().Err(err).Msg("close resume store")
		}
	}
	if s.Cache != nil {
		if err := s.Cache.Close(); err != nil {
			logger.Warn().Err(err).Msg("close cache")
		}
	}
	if s.Telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Telemetry.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("shutdown telemetry")
		}
	}
}

// Container is the production composition root of reelplayd.
type Container struct {
	Config config.AppConfig
	Holder *config.Holder
	Logger zerolog.Logger
	Stack  *Stack
	Server *relay.Server
	App    *daemon.App
}

// WireServices builds the daemon dependency graph and returns a runnable container.
func WireServices(ctx context.Context, version, commit, buildDate, explicitConfigPath string) (*Container, error) {
	if ctx == nil {
		return nil, errors.New("wire services context is nil")
	}
	cfg, loader, err := LoadConfig(explicitConfigPath, version)
	if err != nil {
		return nil, err
	}
	logger := xglog.WithComponent("bootstrap")

	st, err := NewStack(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tier, err := quality.ParseTier(cfg.Playback.DefaultTier)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("playback.defaultTier: %w", err)
	}
	relayCfg := relay.Config{
		ListenAddr:        cfg.Server.ListenAddr,
		AllowedHosts:      cfg.Relay.AllowedHosts,
		RequestsPerMinute: cfg.Relay.RequestsPerMinute,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		RequestTimeout:    cfg.Relay.Timeout,
		DefaultTier:       tier,
		DefaultLang:       cfg.Source.DefaultLang,
	}
	if cfg.Telemetry.Enabled {
		relayCfg.TracingService = serviceName
	}
	srv, err := relay.New(relayCfg, st.Source, st.Loader)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize relay server: %w", err)
	}
	srv.SetPositionStore(st.Positions)
	if len(cfg.Relay.AllowedHosts) == 0 {
		logger.Warn().
			Str(xglog.FieldEvent, "relay.allowlist_empty").
			Msg("relay.allowedHosts is empty, every relay request will be refused")
	}

	holder := config.NewHolder(cfg, loader)
	opts := daemon.Options{
		Logger: logger,
		Server: srv,
		Config: holder,
		OnConfig: func(next config.AppConfig) {
			if err := srv.SetAllowedHosts(next.Relay.AllowedHosts); err != nil {
				logger.Warn().Err(err).Msg("reloaded allowlist rejected")
			}
		},
	}
	if p, ok := st.Positions.(resume.Pruner); ok {
		opts.Pruner = p
	}
	app, err := daemon.NewApp(opts)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create daemon app: %w", err)
	}

	logger.Info().
		Str(xglog.FieldEvent, "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.Server.ListenAddr).
		Msg("starting reelplayd")
	logger.Info().Msgf("→ Source: %s", netx.SanitizeURL(cfg.Source.BaseURL))
	logger.Info().Msgf("→ Cache: %s", cfg.Cache.Backend)
	logger.Info().Msgf("→ Resume store: %s (%s)", cfg.Resume.Backend, cfg.ResumeDir())
	logger.Info().Msgf("→ Relay hosts: %s", strings.Join(cfg.Relay.AllowedHosts, ", "))

	return &Container{
		Config: cfg,
		Holder: holder,
		Logger: logger,
		Stack:  st,
		Server: srv,
		App:    app,
	}, nil
}

// Run blocks on the daemon app, then releases the stack.
func (c *Container) Run(ctx context.Context) error {
	if c == nil || c.App == nil || c.Stack == nil {
		return errors.New("container is not fully initialized")
	}
	defer c.Stack.Close()
	return c.App.Run(ctx)
}

func resolveConfigPath(explicit string) (path string, explicitMode bool, err error) {
	if explicit != "" {
		absPath, err := filepath.Abs(explicit)
		if err != nil {
			return "", true, fmt.Errorf("resolve absolute path for explicit config %q: %w", explicit, err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return "", true, fmt.Errorf("explicit config file not found %q: %w", absPath, err)
		}
		if info.IsDir() {
			return "", true, fmt.Errorf("explicit config path %q is a directory", absPath)
		}
		return absPath, true, nil
	}

	dataDir := strings.TrimSpace(os.Getenv(config.EnvPrefix + "DATA_DIR"))
	if dataDir == "" {
		return "", false, nil
	}
	autoPath := filepath.Join(dataDir, "config.yaml")
	if info, err := os.Stat(autoPath); err == nil && !info.IsDir() {
		if absPath, absErr := filepath.Abs(autoPath); absErr == nil {
			return absPath, false, nil
		}
	}
	return "", false, nil
}
