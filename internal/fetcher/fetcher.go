// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fetcher implements the single upstream HTTP client abstraction
// (C3): fixed timeout, automatic redirect following, a fixed STB-like
// User-Agent, and cache-backed GETs that map transport failures to the
// synthetic status 599.
package fetcher

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/stalkerhls/portalproxy/internal/lrucache"
	"github.com/stalkerhls/portalproxy/internal/metrics"
)

// UserAgent is the fixed Qt/STB-like identity every upstream request
// presents, matching the handsets these portals are built to serve.
const UserAgent = "Mozilla/5.0 (Qt; STB/1.0)"

// networkErrorStatus is the synthetic status returned when the transport
// itself fails (connect error, timeout, TLS failure).
const networkErrorStatus = 599

// Fetcher is the shared upstream HTTP client. It is safe for concurrent use.
type Fetcher struct {
	client *http.Client
	cache  *lrucache.Cache
}

// New builds a Fetcher bound to cache, with every request bounded by timeout.
func New(timeout time.Duration, cache *lrucache.Cache) *Fetcher {
	return &Fetcher{client: newClient(timeout), cache: cache}
}

// newClient builds a hardened *http.Client, following the teacher's
// platform/httpx.NewClient shape: explicit dial/handshake/response-header
// timeouts derived from the overall request timeout.
func newClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialTimeout := timeout
	if dialTimeout > 5*time.Second {
		dialTimeout = 5 * time.Second
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          64,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   dialTimeout,
			ResponseHeaderTimeout: timeout,
			ExpectContinueTimeout: time.Second,
		},
		// The zero-value CheckRedirect follows redirects (up to Go's
		// default cap of 10), satisfying the "follows redirects" contract.
	}
}

// Fetch satisfies the full C3 contract used by segment requests: consult
// the cache first, then perform a single GET on miss, caching the result
// under the original request URL.
func (f *Fetcher) Fetch(ctx context.Context, url string, ttl time.Duration) (body []byte, status int) {
	if b, s, ok := f.cache.Get(url); ok {
		metrics.CacheHitsTotal.Inc()
		return b, s
	}
	metrics.CacheMissesTotal.Inc()

	finalURL, b, s, err := f.do(ctx, url)
	_ = finalURL
	if err != nil {
		return nil, networkErrorStatus
	}
	f.cache.Put(url, b, ttl, s)
	return b, s
}

// Do issues a single GET, bypassing any cache read. It is used by the
// playlist acquirer, which caches the result itself under the final
// (post-redirect) URL. err is non-nil only for transport-layer failures;
// any received status code (including BAD_CODES) is returned with err nil.
func (f *Fetcher) Do(ctx context.Context, url string) (finalURL string, body []byte, status int, err error) {
	return f.do(ctx, url)
}

func (f *Fetcher) do(ctx context.Context, url string) (string, []byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, 0, err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, 0, err
	}

	final := url
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return final, body, resp.StatusCode, nil
}

// Cache exposes the underlying cache so collaborators (the acquirer) can
// populate it directly when bypassing Fetch's cache-read path.
func (f *Fetcher) Cache() *lrucache.Cache {
	return f.cache
}
