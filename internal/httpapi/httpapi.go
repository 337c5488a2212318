// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpapi implements the HTTP facade (C7): it exposes the proxy's
// routes and wires the cache, fetcher, acquirer, session manager, and
// playlist rewriter together. It holds no state of its own.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stalkerhls/portalproxy/internal/config"
	"github.com/stalkerhls/portalproxy/internal/fetcher"
	xglog "github.com/stalkerhls/portalproxy/internal/log"
	"github.com/stalkerhls/portalproxy/internal/metrics"
	"github.com/stalkerhls/portalproxy/internal/playlist"
	"github.com/stalkerhls/portalproxy/internal/session"
)

// networkErrorStatus mirrors fetcher.networkErrorStatus; kept local since
// the fetcher package does not export it.
const networkErrorStatus = 599

// Server holds the collaborators the facade dispatches to.
type Server struct {
	cfgFn    func() config.AppConfig
	fetcher  *fetcher.Fetcher
	sessions *session.Manager
}

// New builds a Server. cfgFn supplies the current tunables (SegmentTTL,
// portal count) on every request.
func New(cfgFn func() config.AppConfig, f *fetcher.Fetcher, sessions *session.Manager) *Server {
	return &Server{cfgFn: cfgFn, fetcher: f, sessions: sessions}
}

// Router builds the chi router exposing every route of spec.md §6.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(xglog.Middleware())

	r.Get("/", s.handleHealth)
	r.Get("/playlist.m3u8", s.handlePlaylistRedirect(0))
	cfg := s.cfgFn()
	for k := 1; k <= len(cfg.Portals); k++ {
		r.Get(fmt.Sprintf("/playlist%d.m3u8", k), s.handlePlaylistRedirect(k-1))
	}
	r.Get("/stream/{portalIdx}/{sid}/index.m3u8", s.handleStream)
	r.Get("/segment/{proto}/*", s.handleSegment)
	r.Handle("/metrics", metricsHandler())

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfgFn()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"portals": len(cfg.Portals),
	})
}

func (s *Server) handlePlaylistRedirect(portalIdx int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamID := r.URL.Query().Get("stream_id")
		target := fmt.Sprintf("/stream/%d/%s/index.m3u8", portalIdx, streamID)
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	portalIdx, err := strconv.Atoi(chi.URLParam(r, "portalIdx"))
	if err != nil {
		http.Error(w, "invalid portal index", http.StatusBadRequest)
		return
	}
	sid := chi.URLParam(r, "sid")

	result, err := s.sessions.OnPlaylistRequest(r.Context(), sid, portalIdx)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = fmt.Fprintf(w, "playlist error: %v", err)
		return
	}

	rewritten, err := playlist.Rewrite(string(result.Body), result.BaseURL)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = fmt.Fprintf(w, "playlist error: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rewritten))
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	proto := chi.URLParam(r, "proto")
	rest := chi.URLParam(r, "*")

	upstreamURL := fmt.Sprintf("%s://%s", proto, rest)
	cfg := s.cfgFn()
	body, status := s.fetcher.Fetch(r.Context(), upstreamURL, cfg.SegmentTTL)

	tickSessionFromPath(r.Context(), s.sessions, rest, status)

	metrics.SegmentFetchesTotal.WithLabelValues(metrics.StatusClass(status, cfg.BadCodes)).Inc()

	w.Header().Set("Content-Type", "video/MP2T")
	if status <= 0 {
		status = networkErrorStatus
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// tickSessionFromPath extracts a session-id hint from the segment path's
// last component, split at the first underscore, and reports the fetch
// outcome to that session if one exists. A hint that matches no live
// session is silently ignored: the spec treats this heuristic as
// best-effort, never as a hard requirement.
func tickSessionFromPath(ctx context.Context, mgr *session.Manager, path string, status int) {
	last := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		last = path[idx+1:]
	}
	hint := last
	if idx := strings.Index(last, "_"); idx >= 0 {
		hint = last[:idx]
	}
	if hint == "" {
		return
	}
	success := status >= 200 && status < 300
	mgr.OnSegmentFetch(ctx, hint, success)
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
