// SPDX-License-Identifier: MIT

package authz

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint(KindSegment, "tk1", "c1", "d1", "1.2.3.4")
	b := Fingerprint(KindSegment, "tk1", "c1", "d1", "1.2.3.4")
	assert.Equal(t, a, b)
}

func TestFingerprint_Distinguishes(t *testing.T) {
	base := Fingerprint(KindSegment, "tk1", "c1", "d1", "1.2.3.4")

	assert.NotEqual(t, base, Fingerprint(KindManifest, "tk1", "c1", "d1", "1.2.3.4"))
	assert.NotEqual(t, base, Fingerprint(KindSegment, "tk2", "c1", "d1", "1.2.3.4"))
	assert.NotEqual(t, base, Fingerprint(KindSegment, "tk1", "c1", "d2", "1.2.3.4"))
	assert.NotEqual(t, base, Fingerprint(KindSegment, "tk1", "c1", "d1", "4.3.2.1"))
	// Field boundaries matter: "ab"+"c" must differ from "a"+"bc".
	assert.NotEqual(t,
		Fingerprint(KindSegment, "ab", "c", "d1", "ip"),
		Fingerprint(KindSegment, "a", "bc", "d1", "ip"))
}

func TestDeny_AlwaysHasReason(t *testing.T) {
	d := Deny(CodeTicketExpired, "", time.Minute)
	assert.False(t, d.Allowed)
	assert.NotEmpty(t, d.Reason)
	assert.Equal(t, CodeTicketExpired, d.Code)
}

func TestAllow_CarriesNoCode(t *testing.T) {
	d := Allow(5 * time.Minute)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Code)
	assert.Empty(t, d.Reason)
}

func TestMemoryCache_GetSetAndHitCount(t *testing.T) {
	now := time.Now()
	c := NewMemoryCache(10)

	c.Set("fp1", Allow(time.Minute), EntryMeta{ContentID: "c1"}, now)

	d, hits, ok := c.Get("fp1", now)
	require.True(t, ok)
	assert.True(t, d.Allowed)
	assert.EqualValues(t, 1, hits)

	_, hits, ok = c.Get("fp1", now)
	require.True(t, ok)
	assert.EqualValues(t, 2, hits)
}

func TestMemoryCache_ExpiredEntryMisses(t *testing.T) {
	now := time.Now()
	c := NewMemoryCache(10)

	c.Set("fp1", Allow(time.Minute), EntryMeta{}, now)

	_, _, ok := c.Get("fp1", now.Add(61*time.Second))
	assert.False(t, ok)
}

func TestMemoryCache_ZeroTTLNotStored(t *testing.T) {
	now := time.Now()
	c := NewMemoryCache(10)

	c.Set("fp1", Decision{Allowed: true}, EntryMeta{}, now)
	assert.Zero(t, c.Len())
}

func TestMemoryCache_BoundedWithNearestExpiryEviction(t *testing.T) {
	now := time.Now()
	const maxSize = 100
	c := NewMemoryCache(maxSize)

	// Entries expire progressively later, so fp-0..fp-9 are nearest expiry.
	for i := 0; i < maxSize; i++ {
		d := Allow(time.Duration(i+1) * time.Minute)
		c.Set(fmt.Sprintf("fp-%d", i), d, EntryMeta{}, now)
	}
	require.Equal(t, maxSize, c.Len())

	c.Set("fp-new", Allow(time.Hour), EntryMeta{}, now)

	assert.LessOrEqual(t, c.Len(), maxSize, "cache must never exceed its bound")

	// The 10% nearest-expiry entries were evicted before inserting.
	for i := 0; i < maxSize/10; i++ {
		_, _, ok := c.Get(fmt.Sprintf("fp-%d", i), now)
		assert.False(t, ok, "fp-%d should have been evicted", i)
	}
	_, _, ok := c.Get(fmt.Sprintf("fp-%d", maxSize/10), now)
	assert.True(t, ok, "entries past the eviction cut survive")
	_, _, ok = c.Get("fp-new", now)
	assert.True(t, ok)
}

// evictionEventCount reads the current eviction counter for the given cache
// from the default registry.
func evictionEventCount(t *testing.T, cache string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != "edgeauth_cache_events_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["cache"] == cache && labels["event"] == "eviction" {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMemoryCache_EvictionsAreCounted(t *testing.T) {
	now := time.Now()
	const maxSize = 100
	c := NewMemoryCache(maxSize)
	for i := 0; i < maxSize; i++ {
		c.Set(fmt.Sprintf("ev-%d", i), Allow(time.Duration(i+1)*time.Minute), EntryMeta{}, now)
	}

	before := evictionEventCount(t, "authorization")
	c.Set("ev-new", Allow(time.Hour), EntryMeta{}, now)
	assert.Equal(t, before+float64(maxSize/10), evictionEventCount(t, "authorization"))
}

func TestMemoryCache_InvalidateContentScope(t *testing.T) {
	now := time.Now()
	c := NewMemoryCache(10)

	c.Set("fp1", Allow(time.Minute), EntryMeta{ContentID: "content_123"}, now)
	c.Set("fp2", Allow(time.Minute), EntryMeta{ContentID: "content_123"}, now)
	c.Set("fp3", Allow(time.Minute), EntryMeta{ContentID: "content_456"}, now)

	removed := c.InvalidateContent("content_123")
	assert.Equal(t, 2, removed)

	_, _, ok := c.Get("fp3", now)
	assert.True(t, ok, "unrelated content must survive invalidation")
}

func TestMemoryCache_InvalidateUserScope(t *testing.T) {
	now := time.Now()
	c := NewMemoryCache(10)

	c.Set("fp1", Allow(time.Minute), EntryMeta{UserID: "u1"}, now)
	c.Set("fp2", Allow(time.Minute), EntryMeta{UserID: "u2"}, now)

	assert.Equal(t, 1, c.InvalidateUser("u1"))
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCache_Clear(t *testing.T) {
	now := time.Now()
	c := NewMemoryCache(10)

	c.Set("fp1", Allow(time.Minute), EntryMeta{}, now)
	c.Set("fp2", Allow(time.Minute), EntryMeta{}, now)
	c.Clear()

	assert.Zero(t, c.Len())
}

func TestMemoryCache_Sweep(t *testing.T) {
	now := time.Now()
	c := NewMemoryCache(10)

	c.Set("fp1", Allow(time.Minute), EntryMeta{}, now)
	c.Set("fp2", Allow(time.Hour), EntryMeta{}, now)

	removed := c.Sweep(now.Add(2 * time.Minute))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())
}
