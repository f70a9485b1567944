// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCLI(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("cache:\n  redisPassword: hunter2\n"), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("playback:\n  stallTimout: 1s\n"), 0o600))

	var out, errOut bytes.Buffer
	assert.Equal(t, 0, runConfigCLI([]string{"validate", "-f", good}, &out, &errOut))
	assert.Contains(t, out.String(), "configuration OK")

	out.Reset()
	assert.Equal(t, 0, runConfigCLI([]string{"dump", "--file", good}, &out, &errOut))
	assert.Contains(t, out.String(), "stallTimeout")
	assert.NotContains(t, out.String(), "hunter2")

	errOut.Reset()
	assert.Equal(t, 1, runConfigCLI([]string{"validate", "-f", bad}, &out, &errOut))
	assert.Contains(t, errOut.String(), "stallTimout")

	assert.Equal(t, 2, runConfigCLI([]string{"frobnicate"}, &out, &errOut))
}

func TestHealthcheckCLI(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() || r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	var out, errOut bytes.Buffer
	assert.Equal(t, 1, runHealthcheckCLI([]string{"-addr", addr}, &out, &errOut))
	assert.Contains(t, errOut.String(), "503")

	healthy.Store(true)
	assert.Equal(t, 0, runHealthcheckCLI([]string{"-addr", addr}, &out, &errOut))
	assert.Contains(t, out.String(), "successful")
}
