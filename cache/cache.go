// Package cache provides a small TTL cache capability used for
// short-lived lookups such as the broadcaster's fee policy.
package cache

import (
	"sync"
	"time"
)

// Cache stores values under string keys with per-entry expiry.
type Cache[V any] interface {
	// Get returns the value for key if present and unexpired.
	Get(key string) (V, bool)

	// Set stores value under key for ttl. A non-positive ttl stores the
	// value without expiry.
	Set(key string, value V, ttl time.Duration)

	// Invalidate removes key.
	Invalidate(key string)
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Memory is an in-process Cache implementation, safe for concurrent use.
// Expired entries are dropped lazily on access.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	now     func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// Get implements Cache.
func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		m.Invalidate(key)
		return zero, false
	}
	return e.value, true
}

// Set implements Cache.
func (m *Memory[V]) Set(key string, value V, ttl time.Duration) {
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}

// Invalidate implements Cache.
func (m *Memory[V]) Invalidate(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}
