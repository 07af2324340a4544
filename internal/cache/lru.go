// Package cache provides the analysis result and counter caches for Kestrel.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRUCache is a thread-safe LRU cache with per-entry TTL.
// It is the community tier cache and the L1 of the two-phase cache.
type LRUCache struct {
	mu       sync.Mutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*counterEntry

	hits   uint64
	misses uint64

	now func() time.Time
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates an LRU cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counterEntry),
		now:      time.Now,
	}
}

// Get returns the value for key, or nil when absent or expired.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[scopedKey(tenantID, key)]
	if !ok {
		c.misses++
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if c.now().After(entry.expiresAt) {
		c.remove(elem)
		c.misses++
		return nil, nil
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.value, nil
}

// Set stores value under key for ttl, evicting the least recently used
// entries when full.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	fullKey := scopedKey(tenantID, key)
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[fullKey] = c.order.PushFront(&lruEntry{
		key:       fullKey,
		value:     value,
		expiresAt: expiresAt,
	})

	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
	}
	return nil
}

// Delete removes key.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[scopedKey(tenantID, key)]; ok {
		c.remove(elem)
	}
	return nil
}

// IncrementCounter bumps a fixed-window counter and returns the new count.
// The window starts at the first increment.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, ErrTenantRequired
	}

	fullKey := scopedKey(tenantID, counterKey(key))
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.counters[fullKey]
	if !ok || now.After(entry.expiresAt) {
		c.counters[fullKey] = &counterEntry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry and counter.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.counters = make(map[string]*counterEntry)
	return nil
}

// Stats returns a snapshot of size and hit counters.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:     c.order.Len(),
		Capacity: c.maxSize,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

func (c *LRUCache) remove(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry).key)
}
