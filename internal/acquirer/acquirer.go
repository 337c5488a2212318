// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package acquirer implements the playlist acquirer (C4): a deterministic
// search over (portal, MAC) pairs that finds a portal willing to serve the
// requested stream, honoring credentialed portals and distinguishing
// network failure, bad status codes, and success.
package acquirer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/stalkerhls/portalproxy/internal/config"
	"github.com/stalkerhls/portalproxy/internal/fetcher"
	"github.com/stalkerhls/portalproxy/internal/identity"
	xglog "github.com/stalkerhls/portalproxy/internal/log"
	"github.com/stalkerhls/portalproxy/internal/metrics"
)

// ErrNoWorkingIdentity is returned when every (portal, MAC) pair in the
// rotated failover chain is exhausted without a usable response.
var ErrNoWorkingIdentity = errors.New("acquirer: no working identity found")

// Result is what a successful acquisition returns to the caller.
type Result struct {
	BaseURL     string
	Body        []byte
	SelectedIdx int
}

// Acquirer runs the portal/MAC failover search of spec.md §4.4. The portal
// chain and identity pool are fixed at construction time; the tunables
// (playlist TTL, bad-code set) are re-read from cfgFn on every call so a
// config hot-reload takes effect immediately.
type Acquirer struct {
	portals []config.Portal
	pool    *identity.Pool
	fetcher *fetcher.Fetcher
	cfgFn   func() config.AppConfig
}

// New builds an Acquirer over portals, using pool for MAC rotation and
// fetcher for upstream GETs. cfgFn supplies the current tunables on every
// call.
func New(portals []config.Portal, pool *identity.Pool, f *fetcher.Fetcher, cfgFn func() config.AppConfig) *Acquirer {
	return &Acquirer{portals: portals, pool: pool, fetcher: f, cfgFn: cfgFn}
}

// Obtain runs the rotated-chain search starting at startIdx for streamID.
func (a *Acquirer) Obtain(ctx context.Context, streamID string, startIdx int) (Result, error) {
	n := len(a.portals)
	if n == 0 {
		return Result{}, ErrNoWorkingIdentity
	}

	cfg := a.cfgFn()
	logger := xglog.WithComponent("acquirer")
	startIdx = ((startIdx % n) + n) % n

	for offset := 0; offset < n; offset++ {
		idx := (startIdx + offset) % n
		portal := a.portals[idx]

		poolSize := a.pool.PoolSize(portal.Host)
		if poolSize == 0 {
			continue
		}

		for attempt := 0; attempt < poolSize; attempt++ {
			mac, err := a.pool.NextMAC(portal.Host)
			if err != nil {
				continue
			}

			reqURL := buildRequestURL(portal, mac, streamID, cfg.AuthTokens)
			logger.Debug().Str("url", sanitizeForLog(reqURL)).Msg("requesting playlist")

			finalURL, body, status, err := a.fetcher.Do(ctx, reqURL)
			if err != nil {
				metrics.AcquirerAttemptsTotal.WithLabelValues("network_error").Inc()
				logger.Warn().Err(err).Str("host", portal.Host).Msg("network error acquiring playlist")
				continue
			}

			a.fetcher.Cache().Put(finalURL, body, cfg.PlaylistTTL, status)

			if status == 200 && len(body) > 0 {
				metrics.AcquirerAttemptsTotal.WithLabelValues("2xx").Inc()
				logger.Info().Str("host", portal.Host).Int("idx", idx).Msg("playlist acquired")
				return Result{
					BaseURL:     deriveBaseURL(finalURL),
					Body:        body,
					SelectedIdx: idx,
				}, nil
			}

			if _, bad := cfg.BadCodes[status]; bad {
				metrics.AcquirerAttemptsTotal.WithLabelValues("bad").Inc()
				logger.Warn().Int("status", status).Str("mac", mac).Str("host", portal.Host).Msg("mac rejected by portal")
				continue
			}

			metrics.AcquirerAttemptsTotal.WithLabelValues("other").Inc()
			logger.Warn().Int("status", status).Str("mac", mac).Str("host", portal.Host).Msg("unexpected status from portal")
		}
	}

	metrics.AcquirerFailuresTotal.Inc()
	return Result{}, ErrNoWorkingIdentity
}

func buildRequestURL(portal config.Portal, mac, streamID string, tokens map[string]string) string {
	q := url.Values{}
	q.Set("mac", mac)
	q.Set("stream", streamID)
	q.Set("extension", "m3u8")
	if portal.Credentialed {
		if tok, ok := tokens[mac]; ok && tok != "" {
			q.Set("AuthToken", tok)
		}
	}
	return fmt.Sprintf("http://%s/play/live.php?%s", portal.Host, q.Encode())
}

// deriveBaseURL implements spec.md §4.4's base-URL derivation: strip query
// and fragment, then ensure the result ends in "/".
func deriveBaseURL(finalURL string) string {
	u, err := url.Parse(finalURL)
	if err != nil {
		return finalURL
	}
	u.RawQuery = ""
	u.Fragment = ""

	if strings.HasSuffix(u.Path, "/") {
		return u.String()
	}

	if idx := strings.LastIndex(u.Path, "/"); idx >= 0 {
		u.Path = u.Path[:idx+1]
	} else {
		u.Path = "/"
	}
	return u.String()
}

// sanitizeForLog redacts AuthToken before a request URL is logged.
func sanitizeForLog(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url-redacted]"
	}
	q := u.Query()
	if q.Get("AuthToken") != "" {
		q.Set("AuthToken", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
