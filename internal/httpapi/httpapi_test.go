// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stalkerhls/portalproxy/internal/acquirer"
	"github.com/stalkerhls/portalproxy/internal/config"
	"github.com/stalkerhls/portalproxy/internal/fetcher"
	"github.com/stalkerhls/portalproxy/internal/identity"
	"github.com/stalkerhls/portalproxy/internal/lrucache"
	"github.com/stalkerhls/portalproxy/internal/session"
)

func hostOf(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err, "parse test server URL")
	return u.Host
}

func newTestServer(t *testing.T, cfg config.AppConfig) (*Server, *lrucache.Cache) {
	t.Helper()
	pool := identity.NewPool(cfg)
	cache := lrucache.New(cfg.MaxCacheKeys, cfg.MaxCacheBytes)
	f := fetcher.New(cfg.HTTPTimeout, cache)
	a := acquirer.New(cfg.Portals, pool, f, func() config.AppConfig { return cfg })
	mgr := session.NewManager(a, func() config.AppConfig { return cfg })
	return New(func() config.AppConfig { return cfg }, f, mgr), cache
}

func TestHandleHealth(t *testing.T) {
	cfg := config.Defaults()
	cfg.Portals = []config.Portal{{Host: "a.example"}, {Host: "b.example"}}
	s, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"portals":2`)
}

func TestHandlePlaylistRedirect_E1(t *testing.T) {
	cfg := config.Defaults()
	cfg.Portals = []config.Portal{{Host: "a.example"}, {Host: "b.example"}, {Host: "c.example"}}
	s, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/playlist3.m3u8?stream_id=42", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/stream/2/42/index.m3u8", rec.Header().Get("Location"))
}

func TestHandleStream_E2_RewritesEverySegmentLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:-1,Chan\na.ts\n#EXT-X-ENDLIST"))
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.Portals = []config.Portal{{Host: hostOf(t, srv)}}
	cfg.DefaultMacPool = []string{"00:1A:79:00:0A:2C"}
	s, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/stream/0/42/index.m3u8", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))

	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		assert.True(t, strings.HasPrefix(line, "/segment/"), "non-comment line %q does not start with /segment/", line)
	}
}

func TestHandleStream_E6_AcquirerFailureReturns502(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(458)
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.Portals = []config.Portal{{Host: hostOf(t, srv)}}
	cfg.DefaultMacPool = []string{"00:1A:79:00:0A:2C"}
	s, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/stream/0/42/index.m3u8", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "playlist error:"), "body = %q, want playlist error prefix", rec.Body.String())
}

func TestHandleSegment_E3_CachesWithinTTL(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(200)
		_, _ = w.Write([]byte("tsdata"))
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.SegmentTTL = 10 * 1e9 // 10s, comfortably longer than the test
	s, _ := newTestServer(t, cfg)

	path := "/segment/http/" + hostOf(t, srv) + "/seg1.ts"

	req1 := httptest.NewRequest(http.MethodGet, path, nil)
	rec1 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec1, req1)
	require.Equal(t, 200, rec1.Code)
	require.Equal(t, "tsdata", rec1.Body.String())
	assert.Equal(t, "video/MP2T", rec1.Header().Get("Content-Type"))

	req2 := httptest.NewRequest(http.MethodGet, path, nil)
	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, req2)
	assert.Equal(t, 200, rec2.Code)
	assert.Equal(t, "tsdata", rec2.Body.String())

	assert.Equal(t, 1, hits, "second request should be served from cache")
}

func TestHandleSegment_NetworkFailureReturns599(t *testing.T) {
	cfg := config.Defaults()
	cfg.HTTPTimeout = 200 * 1e6 // 200ms
	s, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/segment/http/127.0.0.1:1/seg1.ts", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 599, rec.Code)
	assert.Equal(t, 0, rec.Body.Len())
}
