package cache

import (
	"testing"
	"time"
)

func TestCache_GetSet(t *testing.T) {
	c := New[string](Options{})
	if _, ok := c.Get("a"); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	if err := c.Set("a", "1"); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Get("a")
	if !ok || got != "1" {
		t.Fatalf("get: got %q %v", got, ok)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	// WHAT: a stale entry is a miss and is dropped on that Get.
	// WHY: expiry is lazy, there is no background sweeper.
	c := New[int](Options{TTL: time.Minute})
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", 42)
	now = now.Add(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired too early")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss after TTL")
	}
	if c.Len() != 0 {
		t.Fatalf("stale entry not evicted: len=%d", c.Len())
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c := New[int](Options{Capacity: 2})
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a is now most recent
	c.Set("c", 3)
	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("c should survive")
	}
}

func TestCache_Close(t *testing.T) {
	c := New[int](Options{})
	c.Set("a", 1)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("hit after close")
	}
	if err := c.Set("b", 2); err != ErrClosed {
		t.Fatalf("set after close: got %v, want ErrClosed", err)
	}
}

func TestCache_Replace(t *testing.T) {
	c := New[int](Options{Capacity: 2})
	c.Set("a", 1)
	c.Set("a", 2)
	if c.Len() != 1 {
		t.Fatalf("len: got %d, want 1", c.Len())
	}
	got, _ := c.Get("a")
	if got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
}
