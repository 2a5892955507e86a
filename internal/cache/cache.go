package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Entry is one cached response. It is fully built before insertion and never
// modified afterwards.
type Entry struct {
	Key      string
	Data     any
	StoredAt time.Time
	TTL      time.Duration
}

// Live reports whether the entry is still within its TTL at now.
func (e *Entry) Live(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// ResponseCache is a TTL-keyed in-memory store. Expiry is lazy: an expired
// entry is treated as absent and dropped when it is next read.
type ResponseCache struct {
	MaxEntries int

	now func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New builds an empty cache. maxEntries <= 0 disables the size cap.
func New(maxEntries int) *ResponseCache {
	return &ResponseCache{
		MaxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]*Entry),
	}
}

// WithClock swaps the time source, mainly for tests.
func (c *ResponseCache) WithClock(now func() time.Time) *ResponseCache {
	c.now = now
	return c
}

// Key derives a structural key: two params values with equal fields always
// produce the same key.
func Key(op string, params any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s_%#v", op, params)
	}
	return op + "_" + string(raw)
}

// Get returns the live data stored under key.
func (c *ResponseCache) Get(key string) (any, bool) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if entry.Live(now) {
		return entry.Data, true
	}

	c.mu.Lock()
	if cur, ok := c.entries[key]; ok && cur == entry {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return nil, false
}

// Set stores data under key for ttl. A non-positive ttl is a no-op.
func (c *ResponseCache) Set(key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	entry := &Entry{Key: key, Data: data, StoredAt: c.now(), TTL: ttl}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	c.evictLocked(entry.StoredAt)
}

// Clear drops every entry.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet read.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLocked enforces MaxEntries: expired entries go first, then the oldest.
func (c *ResponseCache) evictLocked(now time.Time) {
	if c.MaxEntries <= 0 || len(c.entries) <= c.MaxEntries {
		return
	}
	for k, e := range c.entries {
		if !e.Live(now) {
			delete(c.entries, k)
		}
	}
	for len(c.entries) > c.MaxEntries {
		var oldest *Entry
		for _, e := range c.entries {
			if oldest == nil || e.StoredAt.Before(oldest.StoredAt) {
				oldest = e
			}
		}
		delete(c.entries, oldest.Key)
	}
}
