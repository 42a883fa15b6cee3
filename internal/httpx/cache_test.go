package httpx

import (
	"testing"
	"time"
)

func TestCache(t *testing.T) {
	c := NewCache[string](2, time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Error("empty cache returned a value")
	}

	c.Put("a", "1")
	c.Put("b", "2")
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Errorf("get a = %q, %v", v, ok)
	}

	// "a" was just used, so adding a third entry evicts "b".
	c.Put("c", "3")
	if _, ok := c.Get("b"); ok {
		t.Error("lru entry not evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry evicted")
	}
	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}
}

func TestCacheTTL(t *testing.T) {
	c := NewCache[int](10, 20*time.Millisecond)
	c.Put("k", 42)
	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry still served")
	}
}

func TestCachePurge(t *testing.T) {
	c := NewCache[int](10, time.Minute)
	c.Put("k", 1)
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("len after purge = %d", c.Len())
	}
}

func TestCacheNilValues(t *testing.T) {
	// Negative caching stores typed nils; presence must be distinguishable.
	c := NewCache[*int](10, time.Minute)
	c.Put("missing", nil)
	v, ok := c.Get("missing")
	if !ok || v != nil {
		t.Errorf("get = %v, %v; want nil, true", v, ok)
	}
}
