// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package relay serves episode descriptors and a decrypting HLS relay so
// stock players can consume shortmax streams.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	xglog "github.com/ManuGH/reelplay/internal/log"
	netx "github.com/ManuGH/reelplay/internal/platform/net"
	"github.com/ManuGH/reelplay/internal/quality"
	"github.com/ManuGH/reelplay/internal/resilience"
	"github.com/ManuGH/reelplay/internal/resume"
	"github.com/ManuGH/reelplay/internal/source"
	"github.com/ManuGH/reelplay/internal/transport"
	"github.com/getkin/kin-openapi/routers"
	"github.com/go-chi/chi/v5"
	"github.com/oasdiff/yaml"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// EpisodeSource resolves episode descriptors.
type EpisodeSource interface {
	Episode(ctx context.Context, key source.Key) (source.Episode, error)
	Refresh(ctx context.Context, key source.Key) (source.Episode, error)
	UpstreamState() resilience.State
}

// Config holds relay server settings.
type Config struct {
	ListenAddr        string
	AllowedHosts      []string
	RequestsPerMinute int // 0 disables rate limiting
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration
	DefaultTier       quality.Tier
	DefaultLang       string
	TracingService    string // empty disables tracing
}

// Server is the relay HTTP server.
type Server struct {
	cfg       Config
	allow     atomic.Pointer[netx.HostAllowlist]
	source    EpisodeSource
	loader    transport.Loader
	positions resume.Store
	logger    zerolog.Logger
	router    chi.Router

	contract     routers.Router
	contractJSON []byte
}

var _ ServerInterface = (*Server)(nil)

// New builds the router. An empty allowlist refuses every relay request.
func New(cfg Config, src EpisodeSource, loader transport.Loader) (*Server, error) {
	if src == nil || loader == nil {
		return nil, errors.New("relay: source and loader are required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = quality.Auto
	}

	s := &Server{
		cfg:    cfg,
		source: src,
		loader: loader,
		logger: xglog.WithComponent("relay"),
	}
	if err := s.SetAllowedHosts(cfg.AllowedHosts); err != nil {
		return nil, err
	}
	doc, err := GetSwagger()
	if err != nil {
		return nil, err
	}
	if s.contract, err = newContractRouter(doc); err != nil {
		return nil, err
	}
	if s.contractJSON, err = yaml.YAMLToJSON(openapiSpec); err != nil {
		return nil, fmt.Errorf("relay: openapi to json: %w", err)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(Recoverer, RequestID, Metrics)
	if s.cfg.TracingService != "" {
		r.Use(Tracing(s.cfg.TracingService))
	}
	r.Use(AccessLog(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get(APIBaseURL+"/openapi.json", s.handleContract)

	r.Group(func(r chi.Router) {
		if s.cfg.RequestsPerMinute > 0 {
			r.Use(RateLimit(s.cfg.RequestsPerMinute, time.Minute))
		}
		r.Group(func(r chi.Router) {
			r.Use(ValidateRequests(s.contract))
			NewRouter(s, RouterOptions{BaseURL: APIBaseURL, BaseRouter: r})
		})
		r.Get("/relay/{scheme}/{host}/*", s.handleRelay)
		r.Head("/relay/{scheme}/{host}/*", s.handleRelay)
	})
	return r
}

// SetAllowedHosts swaps the relay allowlist. In-flight requests keep the
// list they started with.
func (s *Server) SetAllowedHosts(hosts []string) error {
	allow, err := netx.NewHostAllowlist(hosts)
	if err != nil {
		return fmt.Errorf("relay: allowed hosts: %w", err)
	}
	s.allow.Store(&allow)
	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens on the configured address until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully within
// ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().
			Str(xglog.FieldEvent, "relay.listening").
			Str("addr", ln.Addr().String()).
			Msg("relay server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info().Str(xglog.FieldEvent, "relay.shutdown").Msg("shutting down relay server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
