// Package rulecache implements the Rule Engine's Tier 1 (process-local LRU)
// and Tier 2 (DB cache table) lookup layers (§4.5), composed in front of the
// Tier 3 authoritative stores in internal/adapters/postgres.
package rulecache

import (
	"container/list"
	"sync"
	"time"
)

// LocalLRU is a small in-memory LRU cache with per-entry TTL, adapted from
// the teacher's rule-cache LRU: bounded capacity, byte-slice values, an
// injectable clock for tests. Safe for concurrent use.
type LocalLRU struct {
	mu     sync.Mutex
	cap    int
	ll     *list.List
	items  map[string]*list.Element
	now    func() time.Time
	hits   uint64
	misses uint64
	evicts uint64
}

type lruEntry struct {
	key    string
	value  []byte
	expiry time.Time
}

// LocalLRUConfig configures a LocalLRU.
type LocalLRUConfig struct {
	Capacity int
	Now      func() time.Time
}

// NewLocalLRU constructs a LocalLRU. Capacity <= 0 falls back to 1000, the
// default named in §4.5.
func NewLocalLRU(cfg LocalLRUConfig) *LocalLRU {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 1000
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &LocalLRU{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[string]*list.Element, capacity),
		now:   nowFn,
	}
}

// Get returns the value for key if present and unexpired.
func (c *LocalLRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.items[key]
	if !found {
		c.misses++
		return nil, false
	}
	ent := el.Value.(*lruEntry)
	if c.isExpired(ent) {
		c.removeElement(el)
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return ent.value, true
}

// Set inserts or updates a value with TTL; ttl <= 0 means no expiry.
func (c *LocalLRU) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}

	if el, found := c.items[key]; found {
		ent := el.Value.(*lruEntry)
		ent.value = value
		ent.expiry = exp
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&lruEntry{key: key, value: value, expiry: exp})
	c.items[key] = el
	c.evictIfNeeded()
}

// Len returns the current number of entries, including expired ones not yet
// evicted by Get or capacity pressure.
func (c *LocalLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// LocalLRUStats are simple counters for observability.
type LocalLRUStats struct {
	Hits, Misses, Evictions uint64
	Size, Capacity          int
}

// Stats returns a snapshot of counters and sizes.
func (c *LocalLRU) Stats() LocalLRUStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LocalLRUStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evicts,
		Size:      c.ll.Len(),
		Capacity:  c.cap,
	}
}

func (c *LocalLRU) isExpired(e *lruEntry) bool {
	if e.expiry.IsZero() {
		return false
	}
	return c.now().After(e.expiry)
}

func (c *LocalLRU) removeElement(el *list.Element) {
	c.ll.Remove(el)
	ent := el.Value.(*lruEntry)
	delete(c.items, ent.key)
}

func (c *LocalLRU) evictIfNeeded() {
	for c.ll.Len() > c.cap {
		el := c.ll.Back()
		if el == nil {
			return
		}
		c.removeElement(el)
		c.evicts++
	}
}
