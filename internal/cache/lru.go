// Package cache provides the bounded, access-ordered session cache that
// sits in front of durable session storage.
package cache

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// EvictFunc is invoked synchronously whenever the cache evicts an entry,
// either because it exceeded MaxEntries or because of an explicit Remove.
// Implementations that need to persist the evicted value must dispatch
// that work asynchronously themselves: EvictFunc runs under the cache's
// lock and must never block on I/O.
type EvictFunc[K comparable, V any] func(key K, value V)

// LRU is a bounded, access-ordered cache: Get promotes an entry to
// most-recently-used, and once the entry count exceeds MaxEntries the
// least-recently-used entry is evicted to make room. It wraps
// groupcache's lru.Cache, which already implements the access-ordered
// list/map pair; this type adds generics and a typed eviction hook over
// that untyped base.
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	inner   *lru.Cache
	onEvict EvictFunc[K, V]
}

// New creates an LRU bounded to maxEntries. maxEntries <= 0 means
// unbounded (eviction never triggers from size alone). onEvict may be nil.
func New[K comparable, V any](maxEntries int, onEvict EvictFunc[K, V]) *LRU[K, V] {
	c := &LRU[K, V]{
		inner:   lru.New(maxEntries),
		onEvict: onEvict,
	}
	c.inner.OnEvicted = func(key lru.Key, value any) {
		if c.onEvict == nil {
			return
		}
		c.onEvict(key.(K), value.(V))
	}
	return c
}

// Get returns the value for key, promoting it to most-recently-used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	v, ok := c.inner.Get(key)
	if !ok {
		return zero, false
	}
	return v.(V), true
}

// Put inserts or updates key, promoting it to most-recently-used. If this
// causes the cache to exceed MaxEntries, the least-recently-used entry is
// evicted and onEvict is invoked for it before Put returns.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, value)
}

// Remove evicts key if present, invoking onEvict for it.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(key)
}

// Len returns the current number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}

// Clear evicts every entry, invoking onEvict for each.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Clear()
}
