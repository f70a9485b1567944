// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// mergeEnv applies REELPLAY_* overrides. Malformed values are errors, not
// silently replaced by defaults.
func (l *Loader) mergeEnv(cfg *AppConfig) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := l.env(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := l.env(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, envError(key, v, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := l.env(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, envError(key, v, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := l.env(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, envError(key, v, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := l.env(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, envError(key, v, err))
				return
			}
			*dst = d
		}
	}

	str("LISTEN_ADDR", &cfg.Server.ListenAddr)
	duration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	str("LOG_LEVEL", &cfg.Server.LogLevel)
	str("DATA_DIR", &cfg.Server.DataDir)

	str("SOURCE_BASE_URL", &cfg.Source.BaseURL)
	duration("SOURCE_TIMEOUT", &cfg.Source.Timeout)
	duration("SOURCE_CACHE_TTL", &cfg.Source.CacheTTL)
	float("SOURCE_RATE_LIMIT", &cfg.Source.RateLimit)
	integer("SOURCE_RATE_BURST", &cfg.Source.RateBurst)
	integer("SOURCE_BREAKER_THRESHOLD", &cfg.Source.BreakerThreshold)
	duration("SOURCE_BREAKER_RESET", &cfg.Source.BreakerReset)
	str("SOURCE_USER_AGENT", &cfg.Source.UserAgent)
	str("SOURCE_DEFAULT_LANG", &cfg.Source.DefaultLang)

	str("CACHE_BACKEND", &cfg.Cache.Backend)
	str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	integer("REDIS_DB", &cfg.Cache.RedisDB)
	str("CACHE_KEY_PREFIX", &cfg.Cache.KeyPrefix)

	if v, ok := l.env("RELAY_ALLOWED_HOSTS"); ok {
		cfg.Relay.AllowedHosts = splitList(v)
	}
	integer("RELAY_REQUESTS_PER_MINUTE", &cfg.Relay.RequestsPerMinute)
	integer("RELAY_RETRIES", &cfg.Relay.Retries)
	duration("RELAY_RETRY_DELAY", &cfg.Relay.RetryDelay)
	integer("RELAY_MAX_BODY_MB", &cfg.Relay.MaxBodyMB)
	duration("RELAY_TIMEOUT", &cfg.Relay.Timeout)

	integer("DECRYPT_WORKERS", &cfg.Decrypt.Workers)
	duration("DECRYPT_TIMEOUT", &cfg.Decrypt.Timeout)

	duration("PLAYBACK_STALL_TIMEOUT", &cfg.Playback.StallTimeout)
	integer("PLAYBACK_MAX_RECOVERIES", &cfg.Playback.MaxInPlaceRecoveries)
	boolean("PLAYBACK_AUTOPLAY", &cfg.Playback.Autoplay)
	str("PLAYBACK_DEFAULT_TIER", &cfg.Playback.DefaultTier)

	str("RESUME_BACKEND", &cfg.Resume.Backend)
	str("RESUME_DIR", &cfg.Resume.Dir)
	duration("RESUME_RETENTION", &cfg.Resume.Retention)

	boolean("TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	str("TELEMETRY_EXPORTER", &cfg.Telemetry.Exporter)
	str("TELEMETRY_ENDPOINT", &cfg.Telemetry.Endpoint)
	float("TELEMETRY_SAMPLING_RATE", &cfg.Telemetry.SamplingRate)
	str("TELEMETRY_ENVIRONMENT", &cfg.Telemetry.Environment)

	return errors.Join(errs...)
}

// env looks up REELPLAY_<key>. Empty values count as unset.
func (l *Loader) env(key string) (string, bool) {
	full := EnvPrefix + key
	l.ConsumedEnvKeys[full] = struct{}{}
	v, ok := l.lookupEnv(full)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

func envError(key, value string, err error) error {
	return fmt.Errorf("%s%s=%q: %w", EnvPrefix, key, value, err)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
