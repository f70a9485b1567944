// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/reelplay/internal/segment"
)

var testKey = []byte("0123456789abcdef")

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestSealDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	plain := writeFile(t, dir, "plain.ts", []byte("transport stream payload"))
	tail := writeFile(t, dir, "tail.bin", []byte("TAIL"))
	sealed := filepath.Join(dir, "sealed.ts")
	opened := filepath.Join(dir, "opened.ts")

	_, _, err := runCLI(t, []string{"seal", plain, "--key", fmt.Sprintf("%x", testKey), "--key-offset", "100", "--trailing", tail, "-o", sealed}, "")
	require.NoError(t, err)
	raw, err := os.ReadFile(sealed)
	require.NoError(t, err)
	assert.True(t, segment.HasMagic(raw))

	_, stderr, err := runCLI(t, []string{"decrypt", sealed, "-o", opened}, "")
	require.NoError(t, err)
	assert.Contains(t, stderr, "decrypted")

	got, err := os.ReadFile(opened)
	require.NoError(t, err)
	assert.Equal(t, "transport stream payloadTAIL", string(got))
}

func TestDecrypt_PassThroughAndStrict(t *testing.T) {
	dir := t.TempDir()
	broken := append([]byte(segment.Magic), []byte("0000000099999999")...)
	in := writeFile(t, dir, "broken.ts", broken)

	stdout, stderr, err := runCLI(t, []string{"decrypt", in}, "")
	require.NoError(t, err)
	assert.Equal(t, string(broken), stdout)
	assert.Contains(t, stderr, "parse_fault")

	_, _, err = runCLI(t, []string{"decrypt", "--strict", in}, "")
	assert.ErrorIs(t, err, segment.ErrParseFault)
}

func TestInspectJSON(t *testing.T) {
	sealed, err := segment.Seal([]byte("hello"), testKey, nil, 40)
	require.NoError(t, err)
	in := writeFile(t, t.TempDir(), "seg.ts", sealed)

	stdout, _, err := runCLI(t, []string{"inspect", "--json", in}, "")
	require.NoError(t, err)

	var r segmentReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &r))
	assert.True(t, r.Parsed)
	assert.Equal(t, 40, r.KeyOffset)
	assert.Equal(t, 16, r.CipherBytes)
	assert.Equal(t, fmt.Sprintf("%x", testKey), r.Key)
	assert.Equal(t, segment.OutcomeDecrypted, r.Outcome)
	assert.Equal(t, 5, r.OutputBytes)

	stdout, _, err = runCLI(t, []string{"inspect", in}, "")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Outcome:     decrypted")
}

func TestSeal_RejectsBadKey(t *testing.T) {
	in := writeFile(t, t.TempDir(), "plain.ts", []byte("x"))
	_, _, err := runCLI(t, []string{"seal", in, "--key", "short"}, "")
	assert.ErrorContains(t, err, "32 hex digits")
}

// upstream serves the descriptor API and a two-episode CDN.
func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	fragments := map[string][]byte{}
	for ep := 1; ep <= 2; ep++ {
		for i, body := range []string{"AAAA", "BB"} {
			sealed, err := segment.Seal([]byte(fmt.Sprintf("%d%s", ep, body)), testKey, nil, segment.HeaderSize)
			require.NoError(t, err)
			fragments[fmt.Sprintf("/cdn/%d/seg%d.ts", ep, i)] = sealed
		}
	}

	mux.HandleFunc("/api/play", func(w http.ResponseWriter, r *http.Request) {
		ep := r.URL.Query().Get("ep")
		if ep != "1" && ep != "2" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"data":{"name":"Pilot","total":2,"video":{"video_720":"%s/cdn/%s/720.m3u8"}}}`, srv.URL, ep)
	})
	mux.HandleFunc("/cdn/", func(w http.ResponseWriter, r *http.Request) {
		if filepath.Ext(r.URL.Path) == ".m3u8" {
			fmt.Fprint(w, "#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXTINF:4.0,\nseg0.ts\n#EXTINF:2.0,\nseg1.ts\n#EXT-X-ENDLIST\n")
			return
		}
		body, ok := fragments[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	})
	return srv
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	t.Setenv("REELPLAY_DATA_DIR", "")
	dir := t.TempDir()
	return writeFile(t, dir, "config.yaml", []byte(fmt.Sprintf(`
server:
  dataDir: %s
source:
  baseUrl: %s
resume:
  backend: memory
`, dir, baseURL)))
}

func TestEpisodeCommand(t *testing.T) {
	srv := upstream(t)
	cfg := writeConfig(t, srv.URL)

	stdout, _, err := runCLI(t, []string{"episode", "abc", "1"}, cfg)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"Pilot" (1 of 2)`)
	assert.Contains(t, stdout, "720p")

	stdout, _, err = runCLI(t, []string{"episode", "--json", "--refresh", "abc", "2"}, cfg)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"number": 2`)

	_, _, err = runCLI(t, []string{"episode", "abc", "zero"}, cfg)
	assert.Error(t, err)
}

func TestPlayCommand_DecryptsToOutput(t *testing.T) {
	srv := upstream(t)
	cfg := writeConfig(t, srv.URL)
	out := filepath.Join(t.TempDir(), "out.ts")

	_, stderr, err := runCLI(t, []string{"play", "abc", "1", "-o", out}, cfg)
	require.NoError(t, err)
	assert.Contains(t, stderr, "playing")

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "1AAAA1BB", string(got))
}

func TestPlayCommand_Continue(t *testing.T) {
	srv := upstream(t)
	cfg := writeConfig(t, srv.URL)

	stdout, _, err := runCLI(t, []string{"play", "--continue", "--tier", "720", "abc", "1", "-o", "-"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "1AAAA1BB2AAAA2BB", stdout)
}

func TestPlayCommand_UnavailableTier(t *testing.T) {
	srv := upstream(t)
	cfg := writeConfig(t, srv.URL)

	_, _, err := runCLI(t, []string{"play", "--tier", "1080", "abc", "1"}, cfg)
	assert.Error(t, err)
}
