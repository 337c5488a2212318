// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lrucache implements the bounded LRU response cache (C2): keyed by
// request URL, doubly bounded by entry count and total byte footprint, with
// per-entry TTL and lazy expiration.
package lrucache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stalkerhls/portalproxy/internal/metrics"
)

type record struct {
	body      []byte
	status    int
	expiresAt time.Time
}

// Cache is the shared, concurrency-safe response cache used by both the
// playlist acquirer and the segment fetcher.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, record]
	maxBytes int64
	curBytes int64
}

// New builds a Cache bounded to at most maxKeys entries and maxBytes total
// bytes. maxKeys must be positive.
func New(maxKeys int, maxBytes int64) *Cache {
	if maxKeys < 1 {
		maxKeys = 1
	}
	c := &Cache{maxBytes: maxBytes}
	// The eviction callback fires synchronously from within Add/Remove,
	// always on the goroutine already holding c.mu, so it is safe to touch
	// curBytes here without a second lock.
	l, _ := lru.NewWithEvict[string, record](maxKeys, func(_ string, r record) {
		c.curBytes -= int64(len(r.body))
	})
	c.lru = l
	return c
}

// Get returns the cached body and status for key if a live entry exists.
// A hit moves the entry to the most-recently-used position; an expired
// entry is removed and reported as a miss.
func (c *Cache) Get(key string) (body []byte, status int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, found := c.lru.Get(key)
	if !found {
		return nil, 0, false
	}
	if time.Now().After(r.expiresAt) {
		c.lru.Remove(key)
		metrics.CacheEntries.Set(float64(c.lru.Len()))
		metrics.CacheBytes.Set(float64(c.curBytes))
		return nil, 0, false
	}
	return r.body, r.status, true
}

// Put stores body/status under key with the given ttl. ttl <= 0 is a no-op.
// Eviction runs immediately afterward until both bound invariants hold.
func (c *Cache) Put(key string, body []byte, ttl time.Duration, status int) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, found := c.lru.Peek(key); found {
		c.curBytes -= int64(len(old.body))
	}
	c.lru.Add(key, record{body: body, status: status, expiresAt: time.Now().Add(ttl)})
	c.curBytes += int64(len(body))

	for c.curBytes > c.maxBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}

	metrics.CacheEntries.Set(float64(c.lru.Len()))
	metrics.CacheBytes.Set(float64(c.curBytes))
}

// Len returns the current number of live (not necessarily unexpired)
// entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes returns the current total byte footprint of all entries.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}
