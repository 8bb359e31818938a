// SPDX-License-Identifier: MIT

package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisDecisionPrefix = "edgeauth:dec:"
	redisHitsPrefix     = "edgeauth:hits:"
	redisContentPrefix  = "edgeauth:idx:content:"
	redisUserPrefix     = "edgeauth:idx:user:"

	redisOpTimeout = 2 * time.Second
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisCache is a Redis-backed decision cache, for deployments where
// multiple edge-auth instances should share decisions. Expiry is native
// Redis TTL; Sweep is therefore a no-op.
type RedisCache struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisCache connects to Redis and returns a decision cache backed by it.
func NewRedisCache(cfg RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  redisOpTimeout,
		WriteTimeout: redisOpTimeout,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to Redis decision cache")
	return &RedisCache{client: client, logger: logger}, nil
}

// newRedisCacheFromClient wires an existing client, for tests.
func newRedisCacheFromClient(client *redis.Client, logger zerolog.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

// Get implements Cache.
func (c *RedisCache) Get(fp string, _ time.Time) (Decision, int64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, redisDecisionPrefix+fp).Bytes()
	if err == redis.Nil {
		return Decision{}, 0, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("redis get failed")
		return Decision{}, 0, false
	}

	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		c.logger.Warn().Err(err).Msg("corrupt cached decision, dropping")
		c.client.Del(ctx, redisDecisionPrefix+fp)
		return Decision{}, 0, false
	}

	hits, err := c.client.Incr(ctx, redisHitsPrefix+fp).Result()
	if err != nil {
		hits = 1
	}
	return d, hits, true
}

// Set implements Cache.
func (c *RedisCache) Set(fp string, d Decision, meta EntryMeta, _ time.Time) {
	if d.CacheTTL <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	raw, err := json.Marshal(d)
	if err != nil {
		c.logger.Error().Err(err).Msg("marshal decision failed")
		return
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, redisDecisionPrefix+fp, raw, d.CacheTTL)
	pipe.Set(ctx, redisHitsPrefix+fp, 0, d.CacheTTL)
	if meta.ContentID != "" {
		key := redisContentPrefix + meta.ContentID
		pipe.SAdd(ctx, key, fp)
		pipe.Expire(ctx, key, d.CacheTTL)
	}
	if meta.UserID != "" {
		key := redisUserPrefix + meta.UserID
		pipe.SAdd(ctx, key, fp)
		pipe.Expire(ctx, key, d.CacheTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("redis set failed")
	}
}

// InvalidateContent implements Cache.
func (c *RedisCache) InvalidateContent(contentID string) int {
	return c.invalidateIndexed(redisContentPrefix + contentID)
}

// InvalidateUser implements Cache.
func (c *RedisCache) InvalidateUser(userID string) int {
	return c.invalidateIndexed(redisUserPrefix + userID)
}

func (c *RedisCache) invalidateIndexed(indexKey string) int {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	fps, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		c.logger.Warn().Err(err).Msg("redis index lookup failed")
		return 0
	}

	removed := 0
	for _, fp := range fps {
		n, err := c.client.Del(ctx, redisDecisionPrefix+fp, redisHitsPrefix+fp).Result()
		if err == nil && n > 0 {
			removed++
		}
	}
	c.client.Del(ctx, indexKey)
	return removed
}

// Clear implements Cache.
func (c *RedisCache) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	iter := c.client.Scan(ctx, 0, "edgeauth:*", 256).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis clear scan failed")
	}
}

// Sweep implements Cache. Redis expires entries natively.
func (c *RedisCache) Sweep(_ time.Time) int { return 0 }

// Len implements Cache.
func (c *RedisCache) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	count := 0
	iter := c.client.Scan(ctx, 0, redisDecisionPrefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

// Close releases the underlying Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
