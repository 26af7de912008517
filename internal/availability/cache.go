// Package availability keeps a short-lived, date-keyed copy of court availability and
// refreshes it from the club API.
package availability

import (
	"sync"
	"time"

	"github.com/codr1/courtside/internal/clubapi"
)

// DefaultTTL is how long a snapshot is considered fresh.
const DefaultTTL = 30 * time.Second

// Clock interface for testing time-dependent behavior.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Entry is a cached snapshot annotated with its freshness.
type Entry struct {
	Snapshot  clubapi.AvailabilitySnapshot
	FetchedAt time.Time
	Stale     bool
}

type cacheEntry struct {
	snapshot  clubapi.AvailabilitySnapshot
	fetchedAt time.Time
}

// Cache maps ISO dates to the last fetched snapshot. Entries are only ever replaced
// whole and are never evicted; the keyspace is bounded by how far a user navigates.
type Cache struct {
	ttl     time.Duration
	clock   Clock
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache creates a cache. A zero ttl uses DefaultTTL and a nil clock uses real time.
func NewCache(ttl time.Duration, clock Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = realClock{}
	}
	return &Cache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the entry for date. Stale is true once the entry is older than the TTL;
// an entry exactly TTL old is still fresh.
func (c *Cache) Get(date string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[date]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Snapshot:  e.snapshot,
		FetchedAt: e.fetchedAt,
		Stale:     c.clock.Now().Sub(e.fetchedAt) > c.ttl,
	}, true
}

// Set overwrites the entry for date, stamped with the current time.
func (c *Cache) Set(date string, snapshot clubapi.AvailabilitySnapshot) {
	now := c.clock.Now()
	c.mu.Lock()
	c.entries[date] = cacheEntry{snapshot: snapshot, fetchedAt: now}
	c.mu.Unlock()
}

// Has reports whether any entry, fresh or stale, exists for date.
func (c *Cache) Has(date string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[date]
	return ok
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len is the number of cached dates, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Dates returns the cached dates in no particular order.
func (c *Cache) Dates() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dates := make([]string, 0, len(c.entries))
	for date := range c.entries {
		dates = append(dates, date)
	}
	return dates
}
