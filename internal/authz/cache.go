// SPDX-License-Identifier: MIT

package authz

import (
	"sort"
	"sync"
	"time"

	"github.com/reelverse/edgeauth/internal/metrics"
)

// EntryMeta carries the identifiers a cached decision is indexed under,
// for scoped invalidation.
type EntryMeta struct {
	ContentID string
	UserID    string
}

// Cache stores decisions keyed by request fingerprint. Implementations are
// safe for concurrent use by many edge requests.
type Cache interface {
	// Get returns the cached decision for the fingerprint if present and
	// not expired, along with its accumulated hit count (including this
	// hit).
	Get(fp string, now time.Time) (Decision, int64, bool)
	// Set stores a decision under the fingerprint for its CacheTTL.
	Set(fp string, d Decision, meta EntryMeta, now time.Time)
	// InvalidateContent removes every entry indexed under the content ID
	// and returns the number removed.
	InvalidateContent(contentID string) int
	// InvalidateUser removes every entry indexed under the user ID and
	// returns the number removed.
	InvalidateUser(userID string) int
	// Clear removes all entries.
	Clear()
	// Sweep removes expired entries and returns the number removed.
	Sweep(now time.Time) int
	// Len returns the number of stored entries.
	Len() int
}

// entry wraps a cached decision with its expiry and hit counter.
type entry struct {
	decision  Decision
	meta      EntryMeta
	expiresAt time.Time
	hitCount  int64
}

// MemoryCache is the in-process Cache. It is bounded: when an insert would
// exceed maxSize, the tenth of the entries closest to expiry is evicted
// first.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	maxSize int
}

// NewMemoryCache creates a bounded in-memory decision cache.
func NewMemoryCache(maxSize int) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*entry),
		maxSize: maxSize,
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(fp string, now time.Time) (Decision, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok || !e.expiresAt.After(now) {
		return Decision{}, 0, false
	}
	e.hitCount++
	return e.decision, e.hitCount, true
}

// Set implements Cache.
func (c *MemoryCache) Set(fp string, d Decision, meta EntryMeta, now time.Time) {
	if d.CacheTTL <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[fp]; !exists && len(c.entries) >= c.maxSize {
		c.evictNearestExpiry()
	}
	c.entries[fp] = &entry{
		decision:  d,
		meta:      meta,
		expiresAt: now.Add(d.CacheTTL),
	}
}

// evictNearestExpiry removes the 10% of entries with the earliest expiry.
// Caller holds the write lock.
func (c *MemoryCache) evictNearestExpiry() {
	n := len(c.entries) / 10
	if n < 1 {
		n = 1
	}

	type victim struct {
		fp        string
		expiresAt time.Time
	}
	victims := make([]victim, 0, len(c.entries))
	for fp, e := range c.entries {
		victims = append(victims, victim{fp, e.expiresAt})
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].expiresAt.Before(victims[j].expiresAt)
	})
	evicted := 0
	for i := 0; i < n && i < len(victims); i++ {
		delete(c.entries, victims[i].fp)
		evicted++
	}
	metrics.AddCacheEvents("authorization", "eviction", evicted)
}

// InvalidateContent implements Cache.
func (c *MemoryCache) InvalidateContent(contentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for fp, e := range c.entries {
		if e.meta.ContentID == contentID {
			delete(c.entries, fp)
			removed++
		}
	}
	return removed
}

// InvalidateUser implements Cache.
func (c *MemoryCache) InvalidateUser(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for fp, e := range c.entries {
		if e.meta.UserID == userID {
			delete(c.entries, fp)
			removed++
		}
	}
	return removed
}

// Clear implements Cache.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Sweep implements Cache.
func (c *MemoryCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for fp, e := range c.entries {
		if !e.expiresAt.After(now) {
			delete(c.entries, fp)
			removed++
		}
	}
	return removed
}

// Len implements Cache.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
