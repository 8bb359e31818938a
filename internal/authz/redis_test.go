// SPDX-License-Identifier: MIT

package authz

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniRedis creates a test Redis server using miniredis.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, newRedisCacheFromClient(client, zerolog.Nop())
}

func TestRedisCache_SetGet(t *testing.T) {
	_, cache := setupMiniRedis(t)
	now := time.Now()

	cache.Set("fp1", Allow(time.Minute), EntryMeta{ContentID: "c1"}, now)

	d, hits, ok := cache.Get("fp1", now)
	require.True(t, ok)
	assert.True(t, d.Allowed)
	assert.EqualValues(t, 1, hits)

	_, hits, ok = cache.Get("fp1", now)
	require.True(t, ok)
	assert.EqualValues(t, 2, hits)
}

func TestRedisCache_Miss(t *testing.T) {
	_, cache := setupMiniRedis(t)

	_, _, ok := cache.Get("absent", time.Now())
	assert.False(t, ok)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	now := time.Now()

	cache.Set("fp1", Deny(CodeTicketExpired, "", time.Minute), EntryMeta{}, now)

	// miniredis expires keys only when the clock is advanced explicitly.
	mr.FastForward(2 * time.Minute)

	_, _, ok := cache.Get("fp1", now)
	assert.False(t, ok, "entry must expire with its Redis TTL")
}

func TestRedisCache_InvalidateContentScope(t *testing.T) {
	_, cache := setupMiniRedis(t)
	now := time.Now()

	cache.Set("fp1", Allow(time.Minute), EntryMeta{ContentID: "content_123"}, now)
	cache.Set("fp2", Allow(time.Minute), EntryMeta{ContentID: "content_123"}, now)
	cache.Set("fp3", Allow(time.Minute), EntryMeta{ContentID: "content_456"}, now)

	removed := cache.InvalidateContent("content_123")
	assert.Equal(t, 2, removed)

	_, _, ok := cache.Get("fp3", now)
	assert.True(t, ok, "unrelated content must survive invalidation")
}

func TestRedisCache_InvalidateUserScope(t *testing.T) {
	_, cache := setupMiniRedis(t)
	now := time.Now()

	cache.Set("fp1", Allow(time.Minute), EntryMeta{UserID: "u1"}, now)
	cache.Set("fp2", Allow(time.Minute), EntryMeta{UserID: "u2"}, now)

	assert.Equal(t, 1, cache.InvalidateUser("u1"))

	_, _, ok := cache.Get("fp2", now)
	assert.True(t, ok)
}

func TestRedisCache_Clear(t *testing.T) {
	_, cache := setupMiniRedis(t)
	now := time.Now()

	cache.Set("fp1", Allow(time.Minute), EntryMeta{ContentID: "c1"}, now)
	cache.Set("fp2", Allow(time.Minute), EntryMeta{}, now)

	cache.Clear()
	assert.Zero(t, cache.Len())
}

func TestRedisCache_CorruptEntryDropped(t *testing.T) {
	mr, cache := setupMiniRedis(t)

	require.NoError(t, mr.Set(redisDecisionPrefix+"fp1", "not-json"))

	_, _, ok := cache.Get("fp1", time.Now())
	assert.False(t, ok)
}
