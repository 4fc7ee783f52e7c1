package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

type lruCacheItem[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time
}

// LRUConfig configures an InMemoryLRUCache.
type LRUConfig struct {
	// MaxSize is the maximum number of items held. Must be > 0.
	MaxSize int
	// TTL bounds how long an item is served before it is fetched again.
	// Zero keeps items until evicted.
	TTL time.Duration
}

// InMemoryLRUCache is a size-bounded read-through cache with least recently
// used eviction and an optional per-item TTL. Misses are filled from fallback.
type InMemoryLRUCache[K comparable, V any] struct {
	maxSize  int
	ttl      time.Duration
	fallback Fetcher[K, V]
	now      func() time.Time

	mu    sync.Mutex
	ll    *list.List
	items map[K]*list.Element
}

// NewInMemoryLRUCache creates a new LRU cache in front of fallback.
func NewInMemoryLRUCache[K comparable, V any](cfg LRUConfig, fallback Fetcher[K, V]) (*InMemoryLRUCache[K, V], error) {
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	return &InMemoryLRUCache[K, V]{
		maxSize:  cfg.MaxSize,
		ttl:      cfg.TTL,
		fallback: fallback,
		now:      time.Now,
		ll:       list.New(),
		items:    make(map[K]*list.Element),
	}, nil
}

// Fetch returns the cached value for key, or fetches it from the fallback,
// stores it and evicts the least recently used item if the cache is full.
// Fallback errors are returned and not cached.
func (c *InMemoryLRUCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	var zero V
	if c.fallback == nil {
		return zero, fmt.Errorf("key '%v' %w in LRU cache and no fallback is configured", key, ErrNotFound)
	}
	value, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}
	c.Put(key, value)
	return value, nil
}

// Put stores value under key as the most recently used item.
func (c *InMemoryLRUCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*lruCacheItem[K, V])
		item.value = value
		item.expires = expires
		c.ll.MoveToFront(elem)
		return
	}
	c.items[key] = c.ll.PushFront(&lruCacheItem[K, V]{key: key, value: value, expires: expires})
	if c.ll.Len() > c.maxSize {
		c.evict(c.ll.Back())
	}
}

// Invalidate drops key from the cache.
func (c *InMemoryLRUCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.evict(elem)
	}
}

// Len returns the number of cached items, expired ones included.
func (c *InMemoryLRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Close closes the fallback.
func (c *InMemoryLRUCache[K, V]) Close() error {
	if c.fallback != nil {
		return c.fallback.Close()
	}
	return nil
}

func (c *InMemoryLRUCache[K, V]) lookup(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	item := elem.Value.(*lruCacheItem[K, V])
	if !item.expires.IsZero() && !c.now().Before(item.expires) {
		c.evict(elem)
		var zero V
		return zero, false
	}
	c.ll.MoveToFront(elem)
	return item.value, true
}

// evict must be called with mu held.
func (c *InMemoryLRUCache[K, V]) evict(elem *list.Element) {
	item := c.ll.Remove(elem).(*lruCacheItem[K, V])
	delete(c.items, item.key)
}
