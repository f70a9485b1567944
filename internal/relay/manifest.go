// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relay

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/livepeer/m3u8"
)

const relayPrefix = "/relay/"

// Path returns the relay path serving u. Only absolute http(s) URLs have one.
func Path(u *url.URL) (string, bool) {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	p := relayPrefix + u.Scheme + "/" + u.Host + u.EscapedPath()
	if u.EscapedPath() == "" {
		p += "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p, true
}

// RewriteManifest points every URI in an HLS playlist back at the relay, so
// variant playlists, renditions, keys, init sections and fragments are all
// fetched through it. Relative references are resolved against base, the
// playlist's own URL. The playlist is decoded and re-encoded, so tags the
// decoder does not model are dropped.
func RewriteManifest(body []byte, base *url.URL) ([]byte, error) {
	decoded, kind, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, fmt.Errorf("relay: decode manifest: %w", err)
	}

	// Decoded playlists share Alternative, Key and Map values between
	// entries; each URI field is rewritten once.
	seen := make(map[*string]struct{})
	rewrite := func(ref *string) {
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		trimmed := strings.TrimSpace(*ref)
		if trimmed == "" {
			return
		}
		target, err := base.Parse(trimmed)
		if err != nil {
			return
		}
		if p, ok := Path(target); ok {
			*ref = p
		}
	}

	switch kind {
	case m3u8.MASTER:
		master, ok := decoded.(*m3u8.MasterPlaylist)
		if !ok {
			return nil, errors.New("relay: unexpected master playlist type")
		}
		for _, v := range master.Variants {
			if v == nil {
				continue
			}
			rewrite(&v.URI)
			for _, alt := range v.Alternatives {
				if alt != nil {
					rewrite(&alt.URI)
				}
			}
		}
	case m3u8.MEDIA:
		media, ok := decoded.(*m3u8.MediaPlaylist)
		if !ok {
			return nil, errors.New("relay: unexpected media playlist type")
		}
		if media.Key != nil {
			rewrite(&media.Key.URI)
		}
		if media.Map != nil {
			rewrite(&media.Map.URI)
		}
		for _, seg := range media.Segments {
			if seg == nil {
				break
			}
			rewrite(&seg.URI)
			if seg.Key != nil {
				rewrite(&seg.Key.URI)
			}
			if seg.Map != nil {
				rewrite(&seg.Map.URI)
			}
		}
	default:
		return nil, errors.New("relay: unknown playlist type")
	}
	return decoded.Encode().Bytes(), nil
}
