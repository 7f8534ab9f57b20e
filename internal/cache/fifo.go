// Package cache provides small bounded caches owned by the components that use them.
package cache

import (
	"container/list"
	"sync"
)

type fifoEntry[K comparable, V any] struct {
	key   K
	value V
}

// FIFO is a bounded map that evicts the oldest inserted key when full.
// Updating an existing key keeps its original insertion position.
type FIFO[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[K]*list.Element
}

// NewFIFO creates a FIFO cache holding at most capacity entries.
func NewFIFO[K comparable, V any](capacity int) *FIFO[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &FIFO[K, V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[K]*list.Element, capacity),
	}
}

func (c *FIFO[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		return el.Value.(*fifoEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

func (c *FIFO[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*fifoEntry[K, V]).value = value
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*fifoEntry[K, V]).key)
		}
	}
	c.items[key] = c.order.PushBack(&fifoEntry[K, V]{key: key, value: value})
}

func (c *FIFO[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

func (c *FIFO[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Reset drops every entry.
func (c *FIFO[K, V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element, c.capacity)
}
