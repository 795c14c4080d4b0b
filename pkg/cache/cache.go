package cache

import (
	"sync"
	"time"
)

// Cache is a TTL key-value store.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Clear()
	Size() int
}

// InMemory is a map-backed Cache with lazy plus periodic expiry.
type InMemory[K comparable, V any] struct {
	items      map[K]*item[V]
	mu         sync.RWMutex
	defaultTTL time.Duration
}

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// NewInMemory builds a cache whose Set with ttl 0 falls back to defaultTTL.
// A cleanup goroutine sweeps expired entries once a minute.
func NewInMemory[K comparable, V any](defaultTTL time.Duration) *InMemory[K, V] {
	c := &InMemory[K, V]{
		items:      make(map[K]*item[V]),
		defaultTTL: defaultTTL,
	}
	go c.sweepLoop()
	return c
}

func (c *InMemory[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(it.expiresAt) {
		c.Delete(key)
		var zero V
		return zero, false
	}
	return it.value, true
}

func (c *InMemory[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = &item[V]{value: value, expiresAt: time.Now().Add(ttl)}
}

func (c *InMemory[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *InMemory[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*item[V])
}

func (c *InMemory[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *InMemory[K, V]) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		c.sweep()
	}
}

func (c *InMemory[K, V]) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, it := range c.items {
		if now.After(it.expiresAt) {
			delete(c.items, key)
		}
	}
}

// AddressCache caches resolved contract addresses. Pair and pool lookups hit
// an external indexer; their answers are stable enough to hold for an hour.
type AddressCache struct {
	cache *InMemory[string, string]
}

func NewAddressCache() *AddressCache {
	return &AddressCache{cache: NewInMemory[string, string](time.Hour)}
}

func (ac *AddressCache) Get(key string) (string, bool) {
	return ac.cache.Get(key)
}

func (ac *AddressCache) Set(key, addr string) {
	ac.cache.Set(key, addr, time.Hour)
}
