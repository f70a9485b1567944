// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package headless

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ManuGH/reelplay/internal/transport"
	"github.com/livepeer/m3u8"
)

var errEmptyPlaylist = errors.New("headless: playlist has no segments")

// byteRange selects Limit bytes starting at Offset. A zero Limit means the
// whole resource.
type byteRange struct {
	Offset int64
	Limit  int64
}

func (r byteRange) apply(req *transport.Request) {
	if r.Limit > 0 {
		req.RangeStart = r.Offset
		req.RangeEnd = r.Offset + r.Limit - 1
	}
}

// initSection is the EXT-X-MAP media initialization a segment depends on.
type initSection struct {
	URL string
	byteRange
}

type mediaSegment struct {
	URL      string
	Duration time.Duration
	byteRange
	Init *initSection
}

// playlist is the subset of an HLS playlist this engine needs: either the
// variant URIs of a master playlist or the segments of a media playlist.
type playlist struct {
	Variants []string
	Segments []mediaSegment
}

func (p playlist) master() bool { return len(p.Variants) > 0 }

func parsePlaylist(body []byte, base *url.URL) (playlist, error) {
	decoded, kind, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return playlist{}, fmt.Errorf("headless: decode playlist: %w", err)
	}
	resolve := func(ref string) (string, bool) {
		u, err := base.Parse(ref)
		if err != nil || ref == "" {
			return "", false
		}
		return u.String(), true
	}

	var p playlist
	switch kind {
	case m3u8.MASTER:
		master, _ := decoded.(*m3u8.MasterPlaylist)
		if master == nil {
			return p, nil
		}
		for _, v := range master.Variants {
			if v == nil || v.Iframe {
				continue
			}
			if u, ok := resolve(v.URI); ok {
				p.Variants = append(p.Variants, u)
			}
		}
	case m3u8.MEDIA:
		media, _ := decoded.(*m3u8.MediaPlaylist)
		if media == nil {
			return p, nil
		}
		var current *initSection
		if media.Map != nil {
			current = resolveInit(media.Map, resolve)
		}
		for _, s := range media.Segments {
			if s == nil {
				break
			}
			if s.Map != nil {
				current = resolveInit(s.Map, resolve)
			}
			u, ok := resolve(s.URI)
			if !ok {
				continue
			}
			seg := mediaSegment{
				URL:       u,
				Duration:  time.Duration(s.Duration * float64(time.Second)),
				byteRange: byteRange{Offset: s.Offset, Limit: s.Limit},
				Init:      current,
			}
			// A range without an offset continues the previous sub-range.
			if n := len(p.Segments); seg.Limit > 0 && seg.Offset == 0 && n > 0 {
				prev := p.Segments[n-1]
				if prev.URL == seg.URL && prev.Limit > 0 {
					seg.Offset = prev.Offset + prev.Limit
				}
			}
			p.Segments = append(p.Segments, seg)
		}
	}
	return p, nil
}

func resolveInit(m *m3u8.Map, resolve func(string) (string, bool)) *initSection {
	u, ok := resolve(m.URI)
	if !ok {
		return nil
	}
	return &initSection{URL: u, byteRange: byteRange{Offset: m.Offset, Limit: m.Limit}}
}

// seek returns the index of the segment containing start and the position
// at which that segment begins.
func seek(segs []mediaSegment, start time.Duration) (int, time.Duration) {
	var at time.Duration
	for i, s := range segs {
		if start < at+s.Duration {
			return i, at
		}
		at += s.Duration
	}
	return len(segs), at
}
