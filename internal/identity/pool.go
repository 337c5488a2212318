// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package identity implements the per-portal MAC identity pool (C1): a
// process-wide, round-robin cursor over each portal's effective MAC pool.
package identity

import (
	"errors"
	"sort"
	"sync"

	"github.com/stalkerhls/portalproxy/internal/config"
	xglog "github.com/stalkerhls/portalproxy/internal/log"
)

// ErrNoPoolConfigured is returned when a portal's effective MAC pool is
// empty (e.g. a credentialed portal with no usable tokens).
var ErrNoPoolConfigured = errors.New("identity: no pool configured for portal")

type portalEntry struct {
	pool   []string
	cursor int
}

// Pool holds the effective MAC pool and round-robin cursor for every
// configured portal. It is process-global by design (see spec.md §3) but
// constructed explicitly so tests can run isolated instances.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*portalEntry
}

// NewPool precomputes the effective pool for every portal in cfg.
func NewPool(cfg config.AppConfig) *Pool {
	p := &Pool{entries: make(map[string]*portalEntry, len(cfg.Portals))}
	for _, portal := range cfg.Portals {
		p.entries[portal.Host] = &portalEntry{
			pool:   effectivePool(portal, cfg.DefaultMacPool, cfg.AuthTokens),
			cursor: -1,
		}
	}
	return p
}

// effectivePool implements spec.md §4.1's credentialed-pool rule: for a
// credentialed portal, the effective pool is the intersection of its
// configured pool with the set of MACs that have a known token, or the
// token set itself when no pool is configured.
func effectivePool(portal config.Portal, defaultPool []string, tokens map[string]string) []string {
	pool := portal.MacPool
	if len(pool) == 0 {
		pool = defaultPool
	}

	if !portal.Credentialed {
		return pool
	}

	if len(portal.MacPool) == 0 {
		// No explicit pool: the effective pool is the token set itself.
		// Map iteration order is undefined, so we sort for deterministic
		// rotation (spec.md §8 testable property 4).
		macs := make([]string, 0, len(tokens))
		for mac := range tokens {
			macs = append(macs, mac)
		}
		sort.Strings(macs)
		return macs
	}

	filtered := make([]string, 0, len(pool))
	for _, mac := range pool {
		if _, ok := tokens[mac]; ok {
			filtered = append(filtered, mac)
		}
	}
	return filtered
}

// NextMAC advances host's cursor and returns the next MAC in its effective
// pool. The cursor wraps deterministically; the sequence is stable given
// the configured pool order (spec.md §4.1).
func (p *Pool) NextMAC(host string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[host]
	if !ok || len(entry.pool) == 0 {
		return "", ErrNoPoolConfigured
	}

	entry.cursor = (entry.cursor + 1) % len(entry.pool)
	mac := entry.pool[entry.cursor]
	xglog.WithComponent("identity").Debug().Str("host", host).Str("mac", mac).Msg("identity rotated")
	return mac, nil
}

// PoolSize returns the effective pool size for host.
func (p *Pool) PoolSize(host string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[host]; ok {
		return len(entry.pool)
	}
	return 0
}

// Token returns the auth token for mac, if any is configured.
func Token(cfg config.AppConfig, mac string) (string, bool) {
	tok, ok := cfg.AuthTokens[mac]
	return tok, ok
}

// Credentialed reports whether host requires a per-MAC auth token.
func Credentialed(cfg config.AppConfig, host string) bool {
	for _, portal := range cfg.Portals {
		if portal.Host == host {
			return portal.Credentialed
		}
	}
	return false
}
