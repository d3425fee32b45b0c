package cache

import (
	"sync"
	"time"
)

// TTLCache is a process-local map with per-entry expiry. Instances are
// constructor-built and injected so tests never share state. Entries are
// a performance optimization only; callers must stay correct when the
// cache is empty on every call.
type TTLCache[T any] struct {
	mu      sync.Mutex
	entries map[string]entry[T]
	ttl     time.Duration
	now     func() time.Time
}

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

func New[T any](ttl time.Duration) *TTLCache[T] {
	return &TTLCache[T]{
		entries: make(map[string]entry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// NewWithClock is for tests that need to control expiry.
func NewWithClock[T any](ttl time.Duration, now func() time.Time) *TTLCache[T] {
	c := New[T](ttl)
	c.now = now
	return c
}

func (c *TTLCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero T
		return zero, false
	}
	return e.value, true
}

func (c *TTLCache[T]) Set(key string, value T) {
	c.SetTTL(key, value, c.ttl)
}

func (c *TTLCache[T]) SetTTL(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[T]{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *TTLCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *TTLCache[T]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[T])
}

func (c *TTLCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RefreshTracker rate-limits background refresh triggers per key. Mark
// returns true at most once per window for a given key.
type RefreshTracker struct {
	mu     sync.Mutex
	last   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func NewRefreshTracker(window time.Duration) *RefreshTracker {
	return &RefreshTracker{
		last:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

func (t *RefreshTracker) Mark(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.last[key]; ok && t.now().Sub(last) < t.window {
		return false
	}
	t.last[key] = t.now()
	return true
}
