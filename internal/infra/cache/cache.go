// Package cache provides a simple in-memory TTL cache used to bound the
// staleness of credit-overview reads. In production this could be backed
// by Redis.
package cache

import (
	"strings"
	"sync"
	"time"
)

const sweepInterval = time.Minute

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Store is a thread-safe in-memory cache with a fixed TTL per entry.
type Store[T any] struct {
	mu    sync.RWMutex
	items map[string]entry[T]
	ttl   time.Duration
}

// New creates a cache with the given TTL and starts its sweeper.
func New[T any](ttl time.Duration) *Store[T] {
	c := &Store[T]{
		items: make(map[string]entry[T]),
		ttl:   ttl,
	}
	go c.sweep()
	return c
}

// Get retrieves a value. Returns false if absent or expired.
func (c *Store[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores a value with the configured TTL.
func (c *Store[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = entry[T]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Delete removes a single key.
func (c *Store[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// InvalidatePrefix drops every key with the given prefix. The write path
// uses this to evict all cached views of a client after a ledger write.
func (c *Store[T]) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
}

// sweep periodically removes expired entries so idle keys do not pin memory.
func (c *Store[T]) sweep() {
	interval := sweepInterval
	if c.ttl < interval {
		interval = c.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.mu.Lock()
		for k, e := range c.items {
			if now.After(e.expiresAt) {
				delete(c.items, k)
			}
		}
		c.mu.Unlock()
	}
}
