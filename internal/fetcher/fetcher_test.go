// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stalkerhls/portalproxy/internal/lrucache"
)

func TestFetch_MissThenHitServesFromCache(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		w.WriteHeader(200)
		_, _ = w.Write([]byte("body"))
	}))
	defer srv.Close()

	f := New(2*time.Second, lrucache.New(100, 1<<20))

	body, status := f.Fetch(context.Background(), srv.URL, 5*time.Second)
	require.Equal(t, 200, status)
	require.Equal(t, "body", string(body))

	body, status = f.Fetch(context.Background(), srv.URL, 5*time.Second)
	assert.Equal(t, 200, status)
	assert.Equal(t, "body", string(body))
	assert.Equal(t, 1, hits, "expected second fetch to be served from cache")
}

func TestFetch_TransportFailureMapsTo599AndIsNotCached(t *testing.T) {
	f := New(200*time.Millisecond, lrucache.New(100, 1<<20))

	_, status := f.Fetch(context.Background(), "http://127.0.0.1:1/unreachable", 5*time.Second)
	assert.Equal(t, 599, status)

	_, _, ok := f.Cache().Get("http://127.0.0.1:1/unreachable")
	assert.False(t, ok, "a transport failure must not be cached")
}

func TestFetch_NonPositiveTTLStillReturnsBodyWithoutCaching(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := New(time.Second, lrucache.New(100, 1<<20))
	body, status := f.Fetch(context.Background(), srv.URL, 0)
	require.Equal(t, 200, status)
	require.Equal(t, "x", string(body))

	_, _, ok := f.Cache().Get(srv.URL)
	assert.False(t, ok, "a zero TTL must not populate the cache")
}

func TestDo_ReturnsFinalURLAfterRedirect(t *testing.T) {
	var targetURL string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, targetURL, http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("final-body"))
	})
	targetURL = srv.URL + "/final"

	f := New(2*time.Second, lrucache.New(100, 1<<20))
	finalURL, body, status, err := f.Do(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "final-body", string(body))
	assert.Equal(t, targetURL, finalURL)
}

func TestDo_BypassesCacheRead(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(200)
		_, _ = w.Write([]byte("body"))
	}))
	defer srv.Close()

	cache := lrucache.New(100, 1<<20)
	cache.Put(srv.URL, []byte("stale"), 5*time.Second, 200)

	f := New(2*time.Second, cache)
	_, body, _, err := f.Do(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "body", string(body), "expected a live fetch bypassing the stale cache entry")
	assert.Equal(t, 1, hits)
}
