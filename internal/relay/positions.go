// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relay

import (
	"encoding/json"
	"net/http"
	"time"

	xglog "github.com/ManuGH/reelplay/internal/log"
	"github.com/ManuGH/reelplay/internal/resume"
	"github.com/ManuGH/reelplay/internal/source"
)

// SetPositionStore enables the position endpoints. Without a store they
// answer 501.
func (s *Server) SetPositionStore(store resume.Store) {
	s.positions = store
}

type positionBody struct {
	PositionMS int64 `json:"position_ms"`
	Saved      bool  `json:"saved"`
}

func (s *Server) positionKey(w http.ResponseWriter, code string, ep int, params PositionParams) (source.Key, bool) {
	if s.positions == nil {
		writeError(w, http.StatusNotImplemented, "positions_disabled", "no resume store configured")
		return source.Key{}, false
	}
	key := s.episodeKey(code, ep, params.Lang)
	if err := key.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_key", err.Error())
		return source.Key{}, false
	}
	return key, true
}

// GetPosition reports the saved resume position, zero when none is stored.
func (s *Server) GetPosition(w http.ResponseWriter, r *http.Request, code string, ep int, params PositionParams) {
	key, ok := s.positionKey(w, code, ep, params)
	if !ok {
		return
	}
	pos, saved, err := s.positions.Load(r.Context(), key)
	if err != nil {
		s.positionFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positionBody{PositionMS: pos.Milliseconds(), Saved: saved})
}

// PutPosition saves a resume position.
func (s *Server) PutPosition(w http.ResponseWriter, r *http.Request, code string, ep int, params PositionParams) {
	key, ok := s.positionKey(w, code, ep, params)
	if !ok {
		return
	}
	var body PositionUpdate
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if body.PositionMS < 0 {
		writeError(w, http.StatusBadRequest, "invalid_position", "position_ms must not be negative")
		return
	}
	if err := s.positions.Save(r.Context(), key, time.Duration(body.PositionMS)*time.Millisecond); err != nil {
		s.positionFailed(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) DeletePosition(w http.ResponseWriter, r *http.Request, code string, ep int, params PositionParams) {
	key, ok := s.positionKey(w, code, ep, params)
	if !ok {
		return
	}
	if err := s.positions.Delete(r.Context(), key); err != nil {
		s.positionFailed(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) positionFailed(w http.ResponseWriter, r *http.Request, err error) {
	logger := xglog.WithContext(r.Context(), s.logger)
	logger.Error().
		Err(err).
		Str(xglog.FieldEvent, "relay.position_failed").
		Msg("resume store failed")
	writeError(w, http.StatusInternalServerError, "store_error", "resume store failed")
}
