// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/reelplay/internal/segment"
	"github.com/ManuGH/reelplay/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/goleak"
)

func sealedFragment(t *testing.T) (sealed, plain []byte) {
	t.Helper()
	plain = bytes.Repeat([]byte{0x47, 0x40, 0x11, 0x10}, 510) // 2040 bytes, pads to 2048
	key := []byte("0123456789abcdef")
	sealed, err := segment.Seal(plain, key, []byte("tail"), 40)
	require.NoError(t, err)
	return sealed, append(plain, []byte("tail")...)
}

func TestClassify(t *testing.T) {
	tests := map[string]Kind{
		"https://cdn.example.com/a/index.m3u8":        KindManifest,
		"https://cdn.example.com/a/INDEX.M3U8?t=1":    KindManifest,
		"/relay/https/cdn.example.com/list.m3u":       KindManifest,
		"https://cdn.example.com/a/enc.key":           KindKey,
		"https://cdn.example.com/a/seg-001.ts":        KindFragment,
		"https://cdn.example.com/a/seg-001.ts?x=.m3u8": KindFragment,
		"":                                             KindFragment,
	}
	for in, want := range tests {
		assert.Equal(t, want, Classify(in), in)
	}
}

func TestDecryptingLoader_EndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sealed, want := sealedFragment(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write(sealed)
	}))
	defer srv.Close()
	client := srv.Client()
	defer client.CloseIdleConnections()

	l := NewDecryptingLoader(NewHTTPLoader(client), segment.NewPool(2))
	resp, err := l.Load(context.Background(), &Request{URL: srv.URL + "/seg-1.ts", Kind: KindFragment})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Data)
	assert.Equal(t, byte(0x47), resp.Data[0])
	assert.Equal(t, want, resp.Data)
	assert.Equal(t, "video/mp2t", resp.ContentType)
	assert.Equal(t, int64(len(sealed)), resp.Stats.Bytes, "stats describe the wire transfer")
}

func TestDecryptingLoader_PassesNonFragmentsThrough(t *testing.T) {
	sealed, _ := sealedFragment(t)
	for _, kind := range []Kind{KindManifest, KindKey} {
		inner := LoaderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			return &Response{Data: sealed}, nil
		})
		resp, err := NewDecryptingLoader(inner, nil).Load(context.Background(), &Request{Kind: kind})
		require.NoError(t, err)
		assert.Equal(t, sealed, resp.Data, "kind %s", kind)
	}
}

func TestDecryptingLoader_PreservesStats(t *testing.T) {
	sealed, _ := sealedFragment(t)
	stats := Stats{
		Requested: time.Unix(100, 0),
		FirstByte: time.Unix(101, 0),
		Loaded:    time.Unix(102, 0),
		Bytes:     int64(len(sealed)),
		Retries:   1,
	}
	inner := LoaderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{URL: req.URL, StatusCode: 200, Data: sealed, Stats: stats}, nil
	})

	resp, err := NewDecryptingLoader(inner, nil).Load(context.Background(), &Request{URL: "u", Kind: KindFragment})
	require.NoError(t, err)
	assert.Equal(t, stats, resp.Stats)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "u", resp.URL)
	assert.NotEqual(t, sealed, resp.Data)
}

func TestDecryptingLoader_FaultDeliversOriginal(t *testing.T) {
	sealed, _ := sealedFragment(t)
	broken := append([]byte(nil), sealed...)
	copy(broken[16:20], "zz00")

	inner := LoaderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{Data: broken}, nil
	})
	resp, err := NewDecryptingLoader(inner, nil).Load(context.Background(), &Request{Kind: KindFragment})
	require.NoError(t, err)
	assert.Equal(t, broken, resp.Data)
}

func TestDecryptingLoader_ErrorsPassThrough(t *testing.T) {
	want := &Error{Kind: ErrHTTP, URL: "u", Status: 404}
	inner := LoaderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return nil, want
	})
	resp, err := NewDecryptingLoader(inner, nil).Load(context.Background(), &Request{Kind: KindFragment})
	assert.Nil(t, resp)
	assert.Same(t, want, err)
}

func TestDecryptingLoader_CanceledDuringDecode(t *testing.T) {
	sealed, _ := sealedFragment(t)
	ctx, cancel := context.WithCancel(context.Background())
	inner := LoaderFunc(func(context.Context, *Request) (*Response, error) {
		cancel()
		return &Response{Data: sealed}, nil
	})
	_, err := NewDecryptingLoader(inner, nil).Load(ctx, &Request{Kind: KindFragment})
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrCanceled))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestHTTPLoader_RetriesServerErrors(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "reelplay-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "bytes=0-9", r.Header.Get("Range"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()
	client := srv.Client()
	defer client.CloseIdleConnections()

	l := NewHTTPLoader(client, WithUserAgent("reelplay-test"), WithRetries(2, time.Millisecond))
	resp, err := l.Load(context.Background(), &Request{URL: srv.URL, Kind: KindManifest, RangeEnd: 9})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp.Data)
	assert.Equal(t, 1, resp.Stats.Retries)
	assert.False(t, resp.Stats.Loaded.Before(resp.Stats.Requested))
	assert.EqualValues(t, 2, hits.Load())
}

func TestHTTPLoader_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewHTTPLoader(srv.Client(), WithRetries(3, time.Millisecond)).
		Load(context.Background(), &Request{URL: srv.URL, Kind: KindFragment})
	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrHTTP, le.Kind)
	assert.Equal(t, http.StatusNotFound, le.Status)
	assert.EqualValues(t, 1, hits.Load())
}

func TestHTTPLoader_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewHTTPLoader(srv.Client(), WithRetries(0, 0)).Load(ctx, &Request{URL: srv.URL, Kind: KindFragment})
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrTimeout), "got %v", err)
}

func TestHTTPLoader_MaxBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	_, err := NewHTTPLoader(srv.Client(), WithMaxBody(10), WithRetries(0, 0)).
		Load(context.Background(), &Request{URL: srv.URL, Kind: KindFragment})
	assert.True(t, IsKind(err, ErrNetwork))
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "load u: http status 500", (&Error{Kind: ErrHTTP, URL: "u", Status: 500}).Error())
	assert.Equal(t, "load u: timeout", (&Error{Kind: ErrTimeout, URL: "u"}).Error())
	assert.True(t, (&Error{Kind: ErrTimeout}).Timeout())
}

func TestDecryptingLoader_DecodeTimeout(t *testing.T) {
	sealed, _ := sealedFragment(t)
	inner := LoaderFunc(func(context.Context, *Request) (*Response, error) {
		return &Response{Data: sealed}, nil
	})
	l := NewDecryptingLoader(inner, segment.NewPool(1), WithDecodeTimeout(time.Nanosecond))
	_, err := l.Load(context.Background(), &Request{URL: "u", Kind: KindFragment})
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrTimeout), "got %v", err)
}

func TestDecryptingLoader_RecordsOutcomeMetric(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	sealed, _ := sealedFragment(t)
	broken := append([]byte(nil), sealed...)
	copy(broken[16:20], "zz00")
	for _, data := range [][]byte{sealed, sealed, broken} {
		inner := LoaderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			return &Response{Data: data}, nil
		})
		_, err := NewDecryptingLoader(inner, nil).Load(context.Background(), &Request{Kind: KindFragment})
		require.NoError(t, err)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != outcomeMetric {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "unexpected aggregation %T", m.Data)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(telemetry.SegmentOutcomeKey)
				got[v.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"decrypted": 2, "parse_fault": 1}, got)
}
