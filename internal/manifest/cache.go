// SPDX-License-Identifier: MIT

package manifest

import (
	"sort"
	"sync"
	"time"

	"github.com/reelverse/edgeauth/internal/authz"
	"github.com/reelverse/edgeauth/internal/metrics"
)

// Response is a sanitized manifest ready for the edge gateway. CacheTTL is
// the remaining lifetime of the cached text at the time it was served.
type Response struct {
	ContentID     string             `json:"contentId"`
	Type          authz.ManifestType `json:"manifestType"`
	Content       string             `json:"content"`
	KeyURIs       []string           `json:"keyUris"`
	CacheTTL      time.Duration      `json:"cacheTTL"`
	CorrelationID string             `json:"correlationId"`
}

type cacheEntry struct {
	content   string
	expiresAt time.Time
}

// Cache stores upstream manifest text per (contentID, manifestType),
// bounded the same way as the decision cache: at capacity the tenth of the
// entries closest to expiry gives way. The raw text is cached rather than
// a sanitized copy so every serve can parameterize key URIs with the
// requesting ticket.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	maxSize int
}

// NewCache creates a bounded manifest cache.
func NewCache(maxSize int) *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
	}
}

func cacheKey(contentID string, mtype authz.ManifestType) string {
	return contentID + "\x00" + string(mtype)
}

// Get returns the cached manifest text and its remaining TTL.
func (c *Cache) Get(contentID string, mtype authz.ManifestType, now time.Time) (string, time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[cacheKey(contentID, mtype)]
	if !ok || !e.expiresAt.After(now) {
		return "", 0, false
	}
	return e.content, e.expiresAt.Sub(now), true
}

// Set stores a manifest under the given TTL.
func (c *Cache) Set(contentID string, mtype authz.ManifestType, content string, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(contentID, mtype)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictNearestExpiry()
	}
	c.entries[key] = &cacheEntry{
		content:   content,
		expiresAt: now.Add(ttl),
	}
}

// evictNearestExpiry removes the 10% of entries with the earliest expiry.
// Caller holds the write lock.
func (c *Cache) evictNearestExpiry() {
	n := len(c.entries) / 10
	if n < 1 {
		n = 1
	}

	type victim struct {
		key       string
		expiresAt time.Time
	}
	victims := make([]victim, 0, len(c.entries))
	for key, e := range c.entries {
		victims = append(victims, victim{key, e.expiresAt})
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].expiresAt.Before(victims[j].expiresAt)
	})
	evicted := 0
	for i := 0; i < n && i < len(victims); i++ {
		delete(c.entries, victims[i].key)
		evicted++
	}
	metrics.AddCacheEvents("manifest", "eviction", evicted)
}

// InvalidateContent removes the cached manifests of one content ID across
// all manifest types.
func (c *Cache) InvalidateContent(contentID string) int {
	prefix := contentID + "\x00"

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes all cached manifests.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Sweep removes expired entries and returns the number removed.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !e.expiresAt.After(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached manifests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
