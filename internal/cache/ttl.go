package cache

import "time"

type ttlEntry[V any] struct {
	value     V
	updatedAt time.Time
}

// TTL is a bounded FIFO cache whose entries go stale after ttl.
// Stale entries stay readable through Stale until evicted.
type TTL[K comparable, V any] struct {
	ttl     time.Duration
	entries *FIFO[K, ttlEntry[V]]
	now     func() time.Time
}

func NewTTL[K comparable, V any](capacity int, ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		ttl:     ttl,
		entries: NewFIFO[K, ttlEntry[V]](capacity),
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (c *TTL[K, V]) WithClock(now func() time.Time) *TTL[K, V] {
	c.now = now
	return c
}

// Get returns the value only while it is fresh.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	e, ok := c.entries.Get(key)
	if !ok || c.now().Sub(e.updatedAt) > c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Stale returns the last stored value regardless of age.
func (c *TTL[K, V]) Stale(key K) (V, bool) {
	e, ok := c.entries.Get(key)
	return e.value, ok
}

func (c *TTL[K, V]) Put(key K, value V) {
	c.entries.Put(key, ttlEntry[V]{value: value, updatedAt: c.now()})
}

func (c *TTL[K, V]) Len() int {
	return c.entries.Len()
}
