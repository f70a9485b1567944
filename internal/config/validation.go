// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/ManuGH/reelplay/internal/quality"
	"github.com/rs/zerolog"
)

// Validate reports every problem in cfg at once.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Msg: fmt.Sprintf(format, args...)})
	}

	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
		add("server.listenAddr", "invalid address %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		add("server.shutdownTimeout", "must be positive")
	}
	if _, err := zerolog.ParseLevel(cfg.Server.LogLevel); err != nil {
		add("server.logLevel", "unknown level %q", cfg.Server.LogLevel)
	}

	if cfg.Source.BaseURL != "" {
		u, err := url.Parse(cfg.Source.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("source.baseUrl", "must be an absolute http(s) URL")
		}
	}
	if cfg.Source.Timeout <= 0 {
		add("source.timeout", "must be positive")
	}
	if cfg.Source.CacheTTL < 0 {
		add("source.cacheTtl", "must not be negative")
	}
	if cfg.Source.RateLimit < 0 {
		add("source.rateLimit", "must not be negative")
	}
	if cfg.Source.RateLimit > 0 && cfg.Source.RateBurst < 1 {
		add("source.rateBurst", "must be at least 1 when rate limiting")
	}
	if cfg.Source.BreakerThreshold < 1 {
		add("source.breakerThreshold", "must be at least 1")
	}
	if strings.TrimSpace(cfg.Source.DefaultLang) == "" {
		add("source.defaultLang", "must not be empty")
	}

	switch cfg.Cache.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Cache.RedisAddr) == "" {
			add("cache.redisAddr", "required for the redis backend")
		}
	default:
		add("cache.backend", "unknown backend %q (supported: memory, redis)", cfg.Cache.Backend)
	}

	if cfg.Relay.RequestsPerMinute < 0 {
		add("relay.requestsPerMinute", "must not be negative")
	}
	if cfg.Relay.Retries < 0 || cfg.Relay.Retries > 10 {
		add("relay.retries", "must be within [0,10]")
	}
	if cfg.Relay.MaxBodyMB < 1 {
		add("relay.maxBodyMb", "must be at least 1")
	}
	if cfg.Relay.Timeout <= 0 {
		add("relay.timeout", "must be positive")
	}

	if cfg.Decrypt.Workers < 0 {
		add("decrypt.workers", "must not be negative")
	}
	if cfg.Decrypt.Timeout <= 0 {
		add("decrypt.timeout", "must be positive")
	}

	if cfg.Playback.StallTimeout <= 0 {
		add("playback.stallTimeout", "must be positive")
	}
	if cfg.Playback.MaxInPlaceRecoveries < 0 {
		add("playback.maxInPlaceRecoveries", "must not be negative")
	}
	if _, err := quality.ParseTier(cfg.Playback.DefaultTier); err != nil {
		add("playback.defaultTier", "%v", err)
	}

	switch cfg.Resume.Backend {
	case "sqlite", "memory":
	default:
		add("resume.backend", "unknown backend %q (supported: sqlite, memory)", cfg.Resume.Backend)
	}
	if cfg.Resume.Retention < 0 {
		add("resume.retention", "must not be negative")
	}

	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Exporter != "grpc" && cfg.Telemetry.Exporter != "http" {
			add("telemetry.exporter", "unknown exporter %q (supported: grpc, http)", cfg.Telemetry.Exporter)
		}
		if strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
			add("telemetry.endpoint", "required when telemetry is enabled")
		}
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		add("telemetry.samplingRate", "must be within [0,1]")
	}

	return errors.Join(errs...)
}
