// Package cache implements a bounded in-memory cache with per-entry TTL
// and LRU eviction.
//
// Entries expire lazily: a stale entry is dropped on the next Get that
// touches it, and the LRU bound keeps the cache from growing without
// limit in between. The cache is an explicitly constructed object with a
// Close lifecycle; callers own it and inject it where needed.
package cache

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Set after Close.
var ErrClosed = errors.New("cache: closed")

// Options configures a Cache.
type Options struct {
	// Capacity bounds the number of live entries. Default: 128.
	Capacity int
	// TTL is the default time-to-live for entries stored with Set.
	// Default: 30 minutes.
	TTL time.Duration
}

func (o *Options) defaults() {
	if o.Capacity <= 0 {
		o.Capacity = 128
	}
	if o.TTL <= 0 {
		o.TTL = 30 * time.Minute
	}
}

type entry[V any] struct {
	key      string
	val      V
	storedAt time.Time
	ttl      time.Duration
}

// Cache is a string-keyed LRU cache with per-entry TTL.
type Cache[V any] struct {
	opts Options

	mu     sync.Mutex
	ll     *list.List // front = most recently used
	items  map[string]*list.Element
	closed bool

	now func() time.Time // injectable clock for tests
}

// New creates a Cache.
func New[V any](opts Options) *Cache[V] {
	opts.defaults()
	return &Cache[V]{
		opts:  opts,
		ll:    list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
}

// Get returns the cached value for key. A stale entry is evicted and
// reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return zero, false
	}
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.now().Sub(e.storedAt) > e.ttl {
		c.removeLocked(el)
		return zero, false
	}
	c.ll.MoveToFront(el)
	return e.val, true
}

// Set stores val under key with the default TTL.
func (c *Cache[V]) Set(key string, val V) error {
	return c.SetTTL(key, val, c.opts.TTL)
}

// SetTTL stores val under key with an explicit TTL, replacing any
// previous entry and evicting the least recently used entry when the
// capacity bound is hit.
func (c *Cache[V]) SetTTL(key string, val V, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.opts.TTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.val = val
		e.storedAt = c.now()
		e.ttl = ttl
		c.ll.MoveToFront(el)
		return nil
	}
	el := c.ll.PushFront(&entry[V]{key: key, val: val, storedAt: c.now(), ttl: ttl})
	c.items[key] = el
	for c.ll.Len() > c.opts.Capacity {
		c.removeLocked(c.ll.Back())
	}
	return nil
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// Len returns the number of entries currently held, stale ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Close purges the cache and rejects further writes. Gets after Close
// report misses.
func (c *Cache[V]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	return nil
}

func (c *Cache[V]) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	e := el.Value.(*entry[V])
	delete(c.items, e.key)
	c.ll.Remove(el)
}
