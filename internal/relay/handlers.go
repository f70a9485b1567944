// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	xglog "github.com/ManuGH/reelplay/internal/log"
	"github.com/ManuGH/reelplay/internal/metrics"
	netx "github.com/ManuGH/reelplay/internal/platform/net"
	"github.com/ManuGH/reelplay/internal/quality"
	"github.com/ManuGH/reelplay/internal/resilience"
	"github.com/ManuGH/reelplay/internal/source"
	"github.com/ManuGH/reelplay/internal/transport"
	"github.com/go-chi/chi/v5"
)

const contentTypeHLS = "application/vnd.apple.mpegurl"

type errorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{
		Error:     code,
		Detail:    detail,
		RequestID: w.Header().Get(HeaderRequestID),
	})
}

type healthBody struct {
	Status   string `json:"status"`
	Upstream string `json:"upstream"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.source.UpstreamState()
	body := healthBody{Status: "ok", Upstream: string(state)}
	if state == resilience.StateOpen {
		body.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleContract(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(s.contractJSON)))
	_, _ = w.Write(s.contractJSON)
}

// EpisodeResponse is the descriptor as served to players. Upstream variant
// URLs are never exposed; PlaybackURL points at the relay.
type EpisodeResponse struct {
	SeriesCode  string           `json:"series_code"`
	Lang        string           `json:"lang"`
	Number      int              `json:"number"`
	Name        string           `json:"name"`
	Total       int              `json:"total"`
	HasNext     bool             `json:"has_next"`
	Tier        quality.Tier     `json:"tier"`
	PlaybackURL string           `json:"playback_url"`
	Options     []quality.Option `json:"options"`
}

// GetEpisode resolves an episode to a relay playback URL.
func (s *Server) GetEpisode(w http.ResponseWriter, r *http.Request, code string, ep int, params GetEpisodeParams) {
	s.serveEpisode(w, r, s.episodeKey(code, ep, params.Lang), params.Tier, s.source.Episode)
}

// RefreshEpisode is GetEpisode with the descriptor cache bypassed.
func (s *Server) RefreshEpisode(w http.ResponseWriter, r *http.Request, code string, ep int, params RefreshEpisodeParams) {
	s.serveEpisode(w, r, s.episodeKey(code, ep, params.Lang), params.Tier, s.source.Refresh)
}

func (s *Server) serveEpisode(w http.ResponseWriter, r *http.Request, key source.Key, rawTier *string, lookup func(context.Context, source.Key) (source.Episode, error)) {
	if err := key.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_key", err.Error())
		return
	}
	tier := s.cfg.DefaultTier
	if rawTier != nil && *rawTier != "" {
		var err error
		if tier, err = quality.ParseTier(*rawTier); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_tier", err.Error())
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	ep, err := lookup(ctx, key)
	if err != nil {
		s.writeSourceError(w, r, err)
		return
	}

	resolved, variant, err := quality.Resolve(tier, ep.Variants)
	if err != nil {
		writeError(w, http.StatusNotFound, "tier_unavailable", err.Error())
		return
	}
	u, err := url.Parse(variant)
	if err != nil {
		writeError(w, http.StatusBadGateway, "invalid_descriptor", "variant url is malformed")
		return
	}
	playback, ok := Path(u)
	if !ok {
		writeError(w, http.StatusBadGateway, "invalid_descriptor", "variant url is not absolute http(s)")
		return
	}

	writeJSON(w, http.StatusOK, EpisodeResponse{
		SeriesCode:  ep.SeriesCode,
		Lang:        ep.Lang,
		Number:      ep.Number,
		Name:        ep.Name,
		Total:       ep.Total,
		HasNext:     ep.HasNext(),
		Tier:        resolved,
		PlaybackURL: playback,
		Options:     quality.Options(ep.Variants),
	})
}

func (s *Server) episodeKey(code string, ep int, lang *string) source.Key {
	key := source.Key{SeriesCode: code, Lang: s.cfg.DefaultLang, Number: ep}
	if lang != nil && *lang != "" {
		key.Lang = *lang
	}
	return key
}

func (s *Server) writeSourceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusBadGateway, "upstream_error"
	switch {
	case errors.Is(err, source.ErrInvalidKey):
		status, code = http.StatusBadRequest, "invalid_key"
	case errors.Is(err, source.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, resilience.ErrCircuitOpen):
		status, code = http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "upstream_timeout"
	case errors.Is(err, context.Canceled):
		return
	}
	logger := xglog.WithContext(r.Context(), s.logger)
	logger.Warn().
		Err(err).
		Str(xglog.FieldEvent, "relay.episode_failed").
		Int("status", status).
		Msg("episode lookup failed")
	writeError(w, status, code, err.Error())
}

// handleRelay fetches an allowlisted upstream resource through the loader
// chain. Fragments come back decrypted; manifests are rewritten so every
// reference they carry resolves through the relay again.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	scheme, host := chi.URLParam(r, "scheme"), chi.URLParam(r, "host")
	if scheme != "http" && scheme != "https" {
		writeError(w, http.StatusBadRequest, "invalid_scheme", "scheme must be http or https")
		return
	}
	prefix := relayPrefix + scheme + "/" + host
	rest := strings.TrimPrefix(r.URL.EscapedPath(), prefix)
	target, err := url.Parse(scheme + "://" + host + rest)
	if err != nil || target.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid_target", "cannot build upstream url")
		return
	}
	target.RawQuery = r.URL.RawQuery

	if err := s.allow.Load().Check(target); err != nil {
		writeError(w, http.StatusForbidden, "host_not_allowed", netx.SanitizeURL(target.String()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	kind := transport.Classify(target.String())
	resp, err := s.loader.Load(ctx, &transport.Request{URL: target.String(), Kind: kind})
	if err != nil {
		s.writeLoadError(w, r, target, err)
		return
	}

	data := resp.Data
	contentType := resp.ContentType
	switch kind {
	case transport.KindManifest:
		base := target
		if final, err := url.Parse(resp.URL); err == nil && final.Host != "" {
			base = final
		}
		rewritten, err := RewriteManifest(data, base)
		if err != nil {
			logger := xglog.WithContext(r.Context(), s.logger)
			logger.Warn().
				Err(err).
				Str(xglog.FieldEvent, "relay.manifest_invalid").
				Str(xglog.FieldURL, netx.SanitizeURL(target.String())).
				Msg("upstream manifest could not be rewritten")
			writeError(w, http.StatusBadGateway, "invalid_manifest", "upstream manifest could not be decoded")
			return
		}
		data = rewritten
		contentType = contentTypeHLS
		w.Header().Set("Cache-Control", "no-cache")
	case transport.KindFragment:
		if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
			contentType = "video/mp2t"
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		n, _ := w.Write(data)
		metrics.AddRelayBytes(string(kind), n)
	}
}

func (s *Server) writeLoadError(w http.ResponseWriter, r *http.Request, target *url.URL, err error) {
	if transport.IsKind(err, transport.ErrCanceled) && r.Context().Err() != nil {
		return
	}
	status, code := http.StatusBadGateway, "upstream_error"
	var le *transport.Error
	if errors.As(err, &le) {
		switch le.Kind {
		case transport.ErrTimeout:
			status, code = http.StatusGatewayTimeout, "upstream_timeout"
		case transport.ErrHTTP:
			if le.Status == http.StatusNotFound || le.Status == http.StatusGone || le.Status == http.StatusForbidden {
				status = le.Status
			}
		}
	}
	logger := xglog.WithContext(r.Context(), s.logger)
	logger.Warn().
		Err(err).
		Str(xglog.FieldEvent, "relay.load_failed").
		Str(xglog.FieldURL, netx.SanitizeURL(target.String())).
		Int("status", status).
		Msg("upstream load failed")
	writeError(w, status, code, "upstream load failed")
}
