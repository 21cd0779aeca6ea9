// Package cache provides the in-memory entity cache that sits in front of the
// primary store. Entries are only ever removed on write, never updated in
// place, so a reader that misses after a write always reloads from storage.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// LoadFunc fetches the value for a key from the backing store.
// found=false means the key does not exist; nothing is cached in that case.
// A shared load runs under a context that keeps the first caller's values but
// not its cancellation.
type LoadFunc[V any] func(ctx context.Context) (value V, found bool, err error)

type entry[V any] struct {
	value V
	seq   uint64
}

// Cache is a concurrent key -> value cache with invalidate-on-write semantics.
//
// Thread Safety: safe for concurrent use. Concurrent misses on the same key
// share one load. A load that started before an invalidation never stores
// its result, so an invalidation is never undone by a stale load.
type Cache[K comparable, V any] struct {
	mu         sync.RWMutex
	entries    map[K]*entry[V]
	maxEntries int
	enabled    bool
	seq        uint64
	epoch      atomic.Uint64
	flight     singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// New creates a cache holding at most maxEntries values (<= 0 means unbounded).
// A disabled cache passes every Get straight through to the loader.
func New[K comparable, V any](maxEntries int, enabled bool) *Cache[K, V] {
	return &Cache[K, V]{
		entries:    make(map[K]*entry[V]),
		maxEntries: maxEntries,
		enabled:    enabled,
	}
}

// Get returns the cached value for key, loading and caching it on a miss.
// Repeated hits return the identical value, so for pointer types callers
// observe the same instance until the key is invalidated.
//
// Concurrent misses share one load. Each caller waits on its own ctx: a caller
// whose ctx ends gets ctx.Err() while the load continues for the others.
func (c *Cache[K, V]) Get(ctx context.Context, key K, load LoadFunc[V]) (V, bool, error) {
	var zero V
	if !c.enabled {
		return load(ctx)
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return e.value, true, nil
	}
	c.misses.Add(1)

	epoch := c.epoch.Load()
	type result struct {
		value V
		found bool
	}
	loadCtx := context.WithoutCancel(ctx)

	// The epoch is part of the flight key so a Get issued after an
	// invalidation never joins a load that started before it.
	ch := c.flight.DoChan(fmt.Sprintf("%v#%d", key, epoch), func() (interface{}, error) {
		// A flight that finished between our miss and DoChan may have filled the entry.
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return result{value: e.value, found: true}, nil
		}

		v, found, err := load(loadCtx)
		if err != nil || !found {
			return result{value: v, found: found}, err
		}
		return result{value: c.store(key, v, epoch), found: true}, nil
	})

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		r := res.Val.(result)
		return r.value, r.found, nil
	}
}

// store caches value unless an invalidation happened since epoch, and returns
// the instance callers should see.
func (c *Cache[K, V]) store(key K, value V, epoch uint64) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch.Load() != epoch {
		return value
	}
	if e, ok := c.entries[key]; ok {
		return e.value
	}
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.seq++
	c.entries[key] = &entry[V]{value: value, seq: c.seq}
	return value
}

// Invalidate evicts keys. It returns only after the eviction is visible to
// every subsequent Get.
func (c *Cache[K, V]) Invalidate(keys ...K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch.Add(1)
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// InvalidateAll clears the cache.
func (c *Cache[K, V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch.Add(1)
	c.entries = make(map[K]*entry[V])
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit/miss counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.Len(),
	}
}

// evictOldest removes the entry inserted first.
// Must be called with c.mu held.
func (c *Cache[K, V]) evictOldest() {
	var oldestKey K
	var oldestSeq uint64
	first := true

	for k, e := range c.entries {
		if first || e.seq < oldestSeq {
			oldestKey = k
			oldestSeq = e.seq
			first = false
		}
	}

	if !first {
		delete(c.entries, oldestKey)
	}
}
