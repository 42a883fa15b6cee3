package httpx

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded LRU cache with per-entry TTL, used to avoid
// refetching recently seen items within a scan. Safe for concurrent use.
type Cache[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewCache creates a cache holding at most maxEntries values for at most ttl.
func NewCache[V any](maxEntries int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{lru: expirable.NewLRU[string, V](maxEntries, nil, ttl)}
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Put stores a value under key, evicting the least recently used entry
// if the cache is full.
func (c *Cache[V]) Put(key string, value V) {
	c.lru.Add(key, value)
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Purge drops all entries. Called at the end of every scan run to bound
// memory between runs.
func (c *Cache[V]) Purge() {
	c.lru.Purge()
}
