package query

import (
	"context"
	"sync"
	"time"
)

// CacheStats provides statistics about cached query execution.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	Capacity  int
	HitRatio  float64
}

// CachedExecutor wraps an executor with an LRU result cache with TTL.
// Results are keyed by the query fingerprint, so two builders producing
// the same facets share a cache slot. The cache holds result pointers;
// callers must treat cached results as read-only.
//
// Writes to the underlying storage do not invalidate entries; callers
// that mutate data should call Invalidate or rely on the TTL.
type CachedExecutor[T any] struct {
	inner    Executor[T]
	ttl      time.Duration
	capacity int

	mu    sync.Mutex
	items map[string]*cacheEntry[T]
	head  *cacheEntry[T]
	tail  *cacheEntry[T]

	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry[T any] struct {
	key       string
	result    *Result[T]
	expiresAt time.Time
	prev      *cacheEntry[T]
	next      *cacheEntry[T]
}

var _ Executor[any] = (*CachedExecutor[any])(nil)

// NewCachedExecutor wraps inner with a result cache of the given
// capacity. Entries older than ttl are treated as misses; ttl <= 0
// disables expiry.
func NewCachedExecutor[T any](inner Executor[T], capacity int, ttl time.Duration) *CachedExecutor[T] {
	if capacity <= 0 {
		capacity = 128
	}
	c := &CachedExecutor[T]{
		inner:    inner,
		ttl:      ttl,
		capacity: capacity,
		items:    make(map[string]*cacheEntry[T]),
	}
	// Doubly linked list with dummy head and tail, most recent at front.
	c.head = &cacheEntry[T]{}
	c.tail = &cacheEntry[T]{}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Execute serves the query from cache when a fresh entry exists,
// otherwise delegates to the wrapped executor and caches the result.
// Cache hits are marked in the result metadata.
func (c *CachedExecutor[T]) Execute(ctx context.Context, q Query) (*Result[T], error) {
	key := q.Fingerprint()

	if cached, ok := c.lookup(key); ok {
		hit := *cached
		hit.Meta.FromCache = true
		return &hit, nil
	}

	result, err := c.inner.Execute(ctx, q)
	if err != nil {
		return nil, err
	}
	c.store(key, result)
	return result, nil
}

// Invalidate drops every cached result. Statistics survive.
func (c *CachedExecutor[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*cacheEntry[T])
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Stats returns cache statistics.
func (c *CachedExecutor[T]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	ratio := 0.0
	if total > 0 {
		ratio = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.items),
		Capacity:  c.capacity,
		HitRatio:  ratio,
	}
}

func (c *CachedExecutor[T]) lookup(key string) (*Result[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.remove(entry)
		c.misses++
		return nil, false
	}
	c.moveToFront(entry)
	c.hits++
	return entry.result, true
}

func (c *CachedExecutor[T]) store(key string, result *Result[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[key]; ok {
		entry.result = result
		entry.expiresAt = time.Now().Add(c.ttl)
		c.moveToFront(entry)
		return
	}

	entry := &cacheEntry[T]{key: key, result: result, expiresAt: time.Now().Add(c.ttl)}
	c.addToFront(entry)
	c.items[key] = entry

	if len(c.items) > c.capacity {
		c.evictLRU()
	}
}

func (c *CachedExecutor[T]) moveToFront(entry *cacheEntry[T]) {
	c.unlink(entry)
	c.addToFront(entry)
}

func (c *CachedExecutor[T]) addToFront(entry *cacheEntry[T]) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *CachedExecutor[T]) unlink(entry *cacheEntry[T]) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (c *CachedExecutor[T]) remove(entry *cacheEntry[T]) {
	delete(c.items, entry.key)
	c.unlink(entry)
}

func (c *CachedExecutor[T]) evictLRU() {
	if c.tail.prev == c.head {
		return
	}
	c.remove(c.tail.prev)
	c.evictions++
}
