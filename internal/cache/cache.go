// Package cache is a best-effort TTL cache in front of the authoritative
// store. Entries expire per key class (balances churn, settings barely
// move), and the engines invalidate affected keys after every successful
// commit. The cache is never the system of record: losing it only costs
// extra reads.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TTLTable maps a key class (the segment before the first '/') to its TTL.
type TTLTable map[string]time.Duration

// DefaultTTLs keeps balances and proposals fresh while letting settings
// ride longer.
func DefaultTTLs() TTLTable {
	return TTLTable{
		"actor":    5 * time.Second,
		"proposal": 5 * time.Second,
		"goal":     10 * time.Second,
		"settings": 5 * time.Minute,
	}
}

// ClassOf returns the key class used to pick a TTL.
func ClassOf(key string) string {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}

type entry struct {
	value     any
	fetchedAt time.Time
	ttl       time.Duration
}

type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	gens       map[string]uint64
	ttls       TTLTable
	defaultTTL time.Duration
	clock      func() time.Time
	group      singleflight.Group
}

func New(ttls TTLTable) *Cache {
	if ttls == nil {
		ttls = DefaultTTLs()
	}
	return &Cache{
		entries:    make(map[string]entry),
		gens:       make(map[string]uint64),
		ttls:       ttls,
		defaultTTL: 5 * time.Second,
		clock:      time.Now,
	}
}

// WithClock overrides the clock for testing.
func (c *Cache) WithClock(clock func() time.Time) *Cache {
	c.clock = clock
	return c
}

func (c *Cache) ttlFor(key string) time.Duration {
	if ttl, ok := c.ttls[ClassOf(key)]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Get returns the cached value if it is still within its TTL.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clock().Sub(e.fetchedAt) >= e.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores a value with the TTL configured for its key class.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, c.ttlFor(key))
}

// SetTTL stores a value with an explicit TTL.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, fetchedAt: c.clock(), ttl: ttl}
}

// Invalidate drops the entry for key, if any, and advances the key's
// generation so an in-flight load of the old value cannot re-pin it.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.gens[key]++
}

func (c *Cache) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key]
}

// setIfGeneration stores the value only if no Invalidate ran since the
// generation snapshot was taken.
func (c *Cache) setIfGeneration(key string, value any, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		return
	}
	c.entries[key] = entry{value: value, fetchedAt: c.clock(), ttl: c.ttlFor(key)}
}

// GetOrLoad returns the cached value or falls through to load. Concurrent
// misses on the same key share one load. A load that races an Invalidate
// still returns its value to the caller but does not cache it.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: another caller may have populated the entry while we
		// waited on the group.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		gen := c.generation(key)
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.setIfGeneration(key, v, gen)
		return v, nil
	})
	return v, err
}

// Len reports live (unexpired) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	n := 0
	for _, e := range c.entries {
		if now.Sub(e.fetchedAt) < e.ttl {
			n++
		}
	}
	return n
}
