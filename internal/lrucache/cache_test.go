// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lrucache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_BasicGetPut(t *testing.T) {
	c := New(10, 1<<20)
	c.Put("a", []byte("hello"), time.Minute, 200)

	body, status, ok := c.Get("a")
	require.True(t, ok, "expected hit")
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, 200, status)
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	c := New(10, 1<<20)
	_, _, ok := c.Get("missing")
	assert.False(t, ok, "expected miss")
}

func TestCache_NonPositiveTTLIsNoOp(t *testing.T) {
	c := New(10, 1<<20)
	c.Put("a", []byte("x"), 0, 200)
	_, _, ok := c.Get("a")
	assert.False(t, ok, "expected no-op put to not be cached")
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(10, 1<<20)
	c.Put("a", []byte("x"), 10*time.Millisecond, 200)

	_, _, ok := c.Get("a")
	require.True(t, ok, "expected immediate hit")

	time.Sleep(30 * time.Millisecond)

	_, _, ok = c.Get("a")
	assert.False(t, ok, "expected expired entry to miss")
	assert.Equal(t, int64(0), c.Bytes(), "expected bytes to be reclaimed on expiry")
}

func TestCache_RecencyOnGet(t *testing.T) {
	c := New(2, 1<<20)
	c.Put("a", []byte("a"), time.Minute, 200)
	c.Put("b", []byte("b"), time.Minute, 200)

	_, _, ok := c.Get("a")
	require.True(t, ok, "expected a to be present")

	// Cache is now full at 2 keys with 'a' most-recently-used. Inserting a
	// third key must evict 'b' (the least-recently-used), not 'a'.
	c.Put("c", []byte("c"), time.Minute, 200)

	_, _, ok = c.Get("a")
	assert.True(t, ok, "expected a to survive eviction")
	_, _, ok = c.Get("b")
	assert.False(t, ok, "expected b to have been evicted")
}

func TestCache_MaxKeysBound(t *testing.T) {
	c := New(3, 1<<20)
	for i := 0; i < 10; i++ {
		c.Put(string(rune('a'+i)), []byte("x"), time.Minute, 200)
	}
	assert.LessOrEqual(t, c.Len(), 3)
}

func TestCache_MaxBytesBound(t *testing.T) {
	c := New(1000, 30)
	for i := 0; i < 10; i++ {
		c.Put(string(rune('a'+i)), make([]byte, 10), time.Minute, 200)
	}
	assert.LessOrEqual(t, c.Bytes(), int64(30))
}

func TestCache_PutOverwriteAccountsBytesCorrectly(t *testing.T) {
	c := New(10, 1<<20)
	c.Put("a", make([]byte, 100), time.Minute, 200)
	c.Put("a", make([]byte, 10), time.Minute, 200)

	assert.Equal(t, int64(10), c.Bytes())
}
