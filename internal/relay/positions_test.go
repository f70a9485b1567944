// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/reelplay/internal/resume"
	"github.com/ManuGH/reelplay/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestPositions_Disabled(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/v1/episodes/abc/1/position")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestPositions_RoundTrip(t *testing.T) {
	f := newFixture(t)
	store := resume.NewMemoryStore()
	f.server.SetPositionStore(store)

	rec := f.get(t, "/api/v1/episodes/abc/1/position")
	require.Equal(t, http.StatusOK, rec.Code)
	var body positionBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Saved)

	rec = f.do(t, http.MethodPut, "/api/v1/episodes/abc/1/position", `{"position_ms": 42500}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	pos, ok, err := store.Load(context.Background(), source.Key{SeriesCode: "abc", Lang: "en", Number: 1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42500*time.Millisecond, pos)

	rec = f.get(t, "/api/v1/episodes/abc/1/position?lang=en")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, positionBody{PositionMS: 42500, Saved: true}, body)

	rec = f.do(t, http.MethodDelete, "/api/v1/episodes/abc/1/position", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok, _ = store.Load(context.Background(), source.Key{SeriesCode: "abc", Lang: "en", Number: 1})
	assert.False(t, ok)
}

func TestPositions_BadRequests(t *testing.T) {
	f := newFixture(t)
	f.server.SetPositionStore(resume.NewMemoryStore())

	tests := []struct {
		name   string
		target string
		body   string
		code   string
	}{
		{"negative", "/api/v1/episodes/abc/1/position", `{"position_ms": -1}`, "invalid_position"},
		{"unknown field", "/api/v1/episodes/abc/1/position", `{"pos": 1}`, "invalid_body"},
		{"not json", "/api/v1/episodes/abc/1/position", `later`, "invalid_body"},
		{"bad episode", "/api/v1/episodes/abc/x/position", `{"position_ms": 1}`, "invalid_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPut, tt.target, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var eb errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
			assert.Equal(t, tt.code, eb.Error)
		})
	}
}

type failingStore struct{ err error }

func (s failingStore) Load(context.Context, source.Key) (time.Duration, bool, error) {
	return 0, false, s.err
}
func (s failingStore) Save(context.Context, source.Key, time.Duration) error { return s.err }
func (s failingStore) Delete(context.Context, source.Key) error { return s.err }
func (s failingStore) Close() error { return nil }

func TestPositions_StoreError(t *testing.T) {
	f := newFixture(t)
	f.server.SetPositionStore(failingStore{err: errors.New("disk gone")})

	for _, tc := range []struct{ method, body string }{
		{http.MethodGet, ""},
		{http.MethodPut, `{"position_ms": 1}`},
		{http.MethodDelete, ""},
	} {
		t.Run(tc.method, func(t *testing.T) {
			rec := f.do(t, tc.method, "/api/v1/episodes/abc/1/position", tc.body)
			require.Equal(t, http.StatusInternalServerError, rec.Code)
			var eb errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
			assert.Equal(t, "store_error", eb.Error)
		})
	}
}
