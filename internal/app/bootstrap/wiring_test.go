// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bootstrap_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/reelplay/internal/app/bootstrap"
	"github.com/ManuGH/reelplay/internal/cache"
	"github.com/ManuGH/reelplay/internal/config"
	"github.com/ManuGH/reelplay/internal/relay"
	"github.com/ManuGH/reelplay/internal/resume"
)

// TestWiring_BootsMinimalStack checks that the graph is constructible and
// the router is wired before any background process starts.
func TestWiring_BootsMinimalStack(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("REELPLAY_DATA_DIR", "")

	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
server:
  listenAddr: ":0"
  dataDir: ` + tmpDir + `
source:
  baseUrl: http://127.0.0.1:1
relay:
  allowedHosts: ["cdn.example.com"]
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	container, err := bootstrap.WireServices(ctx, "test", "test-commit", "now", configPath)
	require.NoError(t, err, "Wiring failed")
	t.Cleanup(container.Stack.Close)
	require.NotNil(t, container.Server)
	require.NotNil(t, container.App)

	w := httptest.NewRecorder()
	container.Server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(relay.HeaderRequestID), "X-Request-ID header missing")

	assert.Equal(t, tmpDir, container.Config.Server.DataDir)
	assert.IsType(t, &resume.SqliteStore{}, container.Stack.Positions)
	assert.FileExists(t, filepath.Join(tmpDir, "resume.sqlite"))

	// positions are served from the same store
	w = httptest.NewRecorder()
	container.Server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/episodes/abc/1/position", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWireServices_MissingExplicitConfig(t *testing.T) {
	_, err := bootstrap.WireServices(context.Background(), "test", "", "", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "explicit config file not found")
}

func TestNewStack_RequiresSource(t *testing.T) {
	_, err := bootstrap.NewStack(context.Background(), config.Defaults())
	assert.ErrorContains(t, err, "source.baseUrl")
}

func TestNewStack_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Defaults()
	cfg.Source.BaseURL = "http://127.0.0.1:1"
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = mr.Addr()
	cfg.Resume.Backend = "memory"

	st, err := bootstrap.NewStack(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()

	assert.IsType(t, &cache.RedisCache{}, st.Cache)
	assert.IsType(t, &resume.MemoryStore{}, st.Positions)
	require.NotNil(t, st.Loader)
}

func TestNewStack_RedisUnavailable(t *testing.T) {
	cfg := config.Defaults()
	cfg.Source.BaseURL = "http://127.0.0.1:1"
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = "127.0.0.1:1"

	_, err := bootstrap.NewStack(context.Background(), cfg)
	assert.ErrorContains(t, err, "redis")
}

func TestLoadConfig_AutoPathFromDataDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("playback:\n  stallTimeout: 11s\n"), 0o600))
	t.Setenv("REELPLAY_DATA_DIR", dir)

	cfg, loader, err := bootstrap.LoadConfig("", "test")
	require.NoError(t, err)
	assert.Equal(t, 11*time.Second, cfg.Playback.StallTimeout)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), loader.Path())
}
