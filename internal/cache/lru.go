// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package cache provides the bounded, TTL-aware recency cache used to
// short-circuit webhook redeliveries before they reach the event store.
package cache

import (
	"sync"
	"time"
)

type lruEntry struct {
	key       string
	prev      *lruEntry
	next      *lruEntry
	expiresAt time.Time
}

// LRUCache is a thread-safe set of keys bounded by capacity and TTL.
// Get, Mark and eviction are O(1): a map indexes nodes of a doubly linked
// list ordered from most to least recently used. Expired entries are
// dropped lazily on access or by CleanupExpired.
//
// The cache is an optimisation only. A miss never implies the key is new;
// the unique idempotency key in the event store is authoritative.
type LRUCache struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration
	now      func() time.Time

	items map[string]*lruEntry

	// head.next is the most recently used entry, tail.prev the least.
	head *lruEntry
	tail *lruEntry

	hits   int64
	misses int64
}

// NewLRUCache creates a cache holding at most capacity keys for ttl each.
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	c := &LRUCache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[string]*lruEntry, capacity),
		head:     &lruEntry{},
		tail:     &lruEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Seen reports whether key was marked within the TTL. A hit refreshes the
// key's recency but not its expiry.
func (c *LRUCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		c.misses++
		return false
	}
	if c.now().After(entry.expiresAt) {
		c.unlink(entry)
		c.misses++
		return false
	}
	c.moveToFront(entry)
	c.hits++
	return true
}

// Mark records key for one TTL, evicting the least recently used key when
// the cache is full.
func (c *LRUCache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mark(key, c.now())
}

// IsDuplicate is Seen followed by Mark on a miss, under one lock.
func (c *LRUCache) IsDuplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.items[key]; ok {
		if !now.After(entry.expiresAt) {
			c.moveToFront(entry)
			c.hits++
			return true
		}
		c.unlink(entry)
	}
	c.mark(key, now)
	c.misses++
	return false
}

// Forget removes key. It reports whether the key was present.
func (c *LRUCache) Forget(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[key]; ok {
		c.unlink(entry)
		return true
	}
	return false
}

// Len returns the number of keys held, expired or not.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// CleanupExpired drops every expired key and returns how many were removed.
func (c *LRUCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for entry := c.tail.prev; entry != c.head; {
		prev := entry.prev
		if now.After(entry.expiresAt) {
			c.unlink(entry)
			removed++
		}
		entry = prev
	}
	return removed
}

// Stats returns hit and miss counters and the current size.
func (c *LRUCache) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.items)
}

// Callers of the helpers below hold c.mu.

func (c *LRUCache) mark(key string, now time.Time) {
	expiresAt := now.Add(c.ttl)
	if entry, ok := c.items[key]; ok {
		entry.expiresAt = expiresAt
		c.moveToFront(entry)
		return
	}

	entry := &lruEntry{key: key, expiresAt: expiresAt}
	c.pushFront(entry)
	c.items[key] = entry

	for len(c.items) > c.capacity {
		oldest := c.tail.prev
		if oldest == c.head {
			break
		}
		c.unlink(oldest)
	}
}

func (c *LRUCache) pushFront(entry *lruEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *LRUCache) moveToFront(entry *lruEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.pushFront(entry)
}

func (c *LRUCache) unlink(entry *lruEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}
