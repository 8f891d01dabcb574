// Package cache provides the bounded TTL caches sitting in front of the
// store: items by gid, items with history, and latest price by
// (gid, quantity). Entries expire after write and the oldest-used entry
// is evicted when a cache reaches its size bound.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// RemovalCause explains why an entry left the cache.
type RemovalCause string

const (
	CauseExpired     RemovalCause = "expired"
	CauseEvicted     RemovalCause = "evicted"
	CauseReplaced    RemovalCause = "replaced"
	CauseInvalidated RemovalCause = "invalidated"
)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Name      string  `json:"name"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

// Requests returns the total lookup count.
func (s Stats) Requests() int64 { return s.Hits + s.Misses }

type entry struct {
	key       string
	value     any
	expiresAt time.Time
	elem      *list.Element
}

// Cache is a thread-safe TTL cache with an LRU size bound.
type Cache struct {
	name    string
	ttl     time.Duration
	maxSize int

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently used

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	onRemoval func(key string, cause RemovalCause)
	group     singleflight.Group
}

// New creates a named cache. maxSize < 1 is clamped to 1.
func New(name string, ttl time.Duration, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		name:    name,
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*entry),
		lru:     list.New(),
	}
}

// OnRemoval installs a removal listener invoked outside the cache lock.
func (c *Cache) OnRemoval(fn func(key string, cause RemovalCause)) {
	c.onRemoval = fn
}

// Get returns the live value for key, counting a hit or miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		c.mu.Unlock()
		c.notify(key, CauseExpired)
		c.misses.Add(1)
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	v := e.value
	c.mu.Unlock()
	c.hits.Add(1)
	return v, true
}

// GetOrLoad returns the cached value or computes it with loader, caching
// the result. Concurrent loads for the same key are coalesced.
func (c *Cache) GetOrLoad(key string, loader func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under singleflight: a concurrent loader may have
		// populated the entry between Get and Do.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := loader()
		if err != nil {
			return nil, err
		}
		c.Put(key, v)
		return v, nil
	})
	return v, err
}

// Put stores value under key, replacing any existing entry.
func (c *Cache) Put(key string, value any) {
	now := time.Now()
	var removedKey string
	var removedCause RemovalCause

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = now.Add(c.ttl)
		c.lru.MoveToFront(e.elem)
		c.mu.Unlock()
		c.notify(key, CauseReplaced)
		return
	}
	if len(c.entries) >= c.maxSize {
		if back := c.lru.Back(); back != nil {
			victim := back.Value.(*entry)
			c.removeLocked(victim)
			c.evictions.Add(1)
			removedKey, removedCause = victim.key, CauseEvicted
		}
	}
	e := &entry{key: key, value: value, expiresAt: now.Add(c.ttl)}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	c.mu.Unlock()

	if removedCause != "" {
		c.notify(removedKey, removedCause)
	}
}

// Invalidate removes key if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.removeLocked(e)
	}
	c.mu.Unlock()
	if ok {
		c.notify(key, CauseInvalidated)
	}
}

// Len returns the current entry count, expired entries included until
// their next lookup.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{
		Name:      c.name,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.lru.Remove(e.elem)
}

func (c *Cache) notify(key string, cause RemovalCause) {
	if c.onRemoval != nil {
		c.onRemoval(key, cause)
	}
}
