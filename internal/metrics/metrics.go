// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHitsTotal counts LRU cache hits.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stalkerhls_cache_hits_total",
		Help: "Total number of LRU cache hits.",
	})

	// CacheMissesTotal counts LRU cache misses (including expired entries).
	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stalkerhls_cache_misses_total",
		Help: "Total number of LRU cache misses.",
	})

	// CacheEntries tracks the current number of live cache entries.
	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stalkerhls_cache_entries",
		Help: "Current number of entries in the LRU cache.",
	})

	// CacheBytes tracks the current total byte footprint of the cache.
	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stalkerhls_cache_bytes",
		Help: "Current total byte footprint of the LRU cache.",
	})

	// AcquirerAttemptsTotal counts (portal, MAC) attempts by outcome.
	AcquirerAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stalkerhls_acquirer_attempts_total",
		Help: "Total playlist acquisition attempts, by outcome.",
	}, []string{"outcome"})

	// AcquirerFailuresTotal counts full acquisition failures (all portals exhausted).
	AcquirerFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stalkerhls_acquirer_failures_total",
		Help: "Total number of playlist acquisitions that exhausted every portal/MAC pair.",
	})

	// SessionRotationsTotal counts session re-acquisition (rotation) events.
	SessionRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stalkerhls_session_rotations_total",
		Help: "Total number of session upstream rotations.",
	})

	// ActiveSessions tracks the current number of live sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stalkerhls_active_sessions",
		Help: "Current number of tracked stream sessions.",
	})

	// SegmentFetchesTotal counts segment fetches by status class.
	SegmentFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stalkerhls_segment_fetches_total",
		Help: "Total segment fetches, by status class (2xx, bad, other, transport_error).",
	}, []string{"class"})
)

// StatusClass buckets an HTTP status (or the synthetic 599) into a label
// value suitable for SegmentFetchesTotal / AcquirerAttemptsTotal.
func StatusClass(status int, badCodes map[int]struct{}) string {
	switch {
	case status == 599:
		return "transport_error"
	case status >= 200 && status < 300:
		return "2xx"
	default:
		if _, bad := badCodes[status]; bad {
			return "bad"
		}
		return "other"
	}
}
