// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads reelplay settings from defaults, a YAML file and
// REELPLAY_* environment variables, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REELPLAY_"

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Source    SourceConfig    `yaml:"source"`
	Cache     CacheConfig     `yaml:"cache"`
	Relay     RelayConfig     `yaml:"relay"`
	Decrypt   DecryptConfig   `yaml:"decrypt"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Resume    ResumeConfig    `yaml:"resume"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Version is stamped from the binary, never read from file or env.
	Version string `yaml:"-"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	LogLevel        string        `yaml:"logLevel"`
	DataDir         string        `yaml:"dataDir"`
}

// SourceConfig addresses the upstream episode API.
type SourceConfig struct {
	BaseURL          string        `yaml:"baseUrl"`
	Timeout          time.Duration `yaml:"timeout"`
	CacheTTL         time.Duration `yaml:"cacheTtl"`
	RateLimit        float64       `yaml:"rateLimit"`
	RateBurst        int           `yaml:"rateBurst"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
	UserAgent        string        `yaml:"userAgent"`
	DefaultLang      string        `yaml:"defaultLang"`
}

// CacheConfig selects the descriptor cache backend.
type CacheConfig struct {
	Backend       string `yaml:"backend"` // memory | redis
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
	KeyPrefix     string `yaml:"keyPrefix"`
}

type RelayConfig struct {
	AllowedHosts      []string      `yaml:"allowedHosts"`
	RequestsPerMinute int           `yaml:"requestsPerMinute"`
	Retries           int           `yaml:"retries"`
	RetryDelay        time.Duration `yaml:"retryDelay"`
	MaxBodyMB         int           `yaml:"maxBodyMb"`
	Timeout           time.Duration `yaml:"timeout"`
}

// DecryptConfig sizes the segment worker pool. Zero workers means GOMAXPROCS.
type DecryptConfig struct {
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
}

type PlaybackConfig struct {
	StallTimeout         time.Duration `yaml:"stallTimeout"`
	MaxInPlaceRecoveries int           `yaml:"maxInPlaceRecoveries"`
	Autoplay             bool          `yaml:"autoplay"`
	DefaultTier          string        `yaml:"defaultTier"`
}

// ResumeConfig selects where playback positions are kept. An empty Dir
// falls back to Server.DataDir.
type ResumeConfig struct {
	Backend string `yaml:"backend"` // sqlite | memory
	Dir     string `yaml:"dir"`

	// Retention drops positions untouched for longer. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc | http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			ListenAddr:      ":8089",
			ShutdownTimeout: 10 * time.Second,
			LogLevel:        "info",
		},
		Source: SourceConfig{
			Timeout:          10 * time.Second,
			CacheTTL:         10 * time.Minute,
			RateLimit:        5,
			RateBurst:        10,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
			UserAgent:        "reelplay",
			DefaultLang:      "en",
		},
		Cache: CacheConfig{
			Backend:   "memory",
			KeyPrefix: "reelplay:",
		},
		Relay: RelayConfig{
			RequestsPerMinute: 600,
			Retries:           2,
			RetryDelay:        250 * time.Millisecond,
			MaxBodyMB:         64,
			Timeout:           30 * time.Second,
		},
		Decrypt: DecryptConfig{
			Timeout: 15 * time.Second,
		},
		Playback: PlaybackConfig{
			StallTimeout:         8 * time.Second,
			MaxInPlaceRecoveries: 3,
			Autoplay:             true,
			DefaultTier:          "auto",
		},
		Resume: ResumeConfig{
			Backend:   "sqlite",
			Retention: 90 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}

// ResumeDir is the directory holding the resume database.
func (c AppConfig) ResumeDir() string {
	if c.Resume.Dir != "" {
		return c.Resume.Dir
	}
	return c.Server.DataDir
}

// String renders the config for logs with secrets masked.
func (c AppConfig) String() string {
	masked := c
	if masked.Cache.RedisPassword != "" {
		masked.Cache.RedisPassword = "***"
	}
	out, err := yaml.Marshal(masked)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath string
	version    string
	lookupEnv  func(string) (string, bool)

	// ConsumedEnvKeys records every REELPLAY_* key the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		lookupEnv:       os.LookupEnv,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path is the YAML file backing this loader, possibly empty.
func (l *Loader) Path() string { return l.configPath }

// Load loads configuration with precedence ENV > file > defaults and
// validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.mergeEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}

	if cfg.Server.DataDir != "" {
		if abs, err := filepath.Abs(cfg.Server.DataDir); err == nil {
			cfg.Server.DataDir = abs
		}
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes path over cfg. Unknown keys are fatal.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- the path comes from the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}
