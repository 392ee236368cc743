/**
 * @description
 * Read-through Redis cache for query/derivation results.
 * Keys embed a generation counter that the upsert writer bumps after every
 * committed batch, so results cached before an ingestion are never served
 * after it.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 */

package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/value-voyage/backend/internal/logger"
)

const (
	CacheKeyGeneration = "valuevoyage:cache:generation"
	CacheKeyPrefix     = "valuevoyage:query"
	CacheTTL           = 5 * time.Minute
)

// QueryCache is safe to use with a nil client; every operation is then a no-op.
type QueryCache struct {
	Redis *redis.Client
	TTL   time.Duration
}

func NewQueryCache(client *redis.Client) *QueryCache {
	return &QueryCache{Redis: client, TTL: CacheTTL}
}

func (c *QueryCache) enabled() bool {
	return c != nil && c.Redis != nil
}

// Invalidate moves every subsequent lookup onto a fresh key space.
func (c *QueryCache) Invalidate(ctx context.Context) {
	if !c.enabled() {
		return
	}
	if err := c.Redis.Incr(ctx, CacheKeyGeneration).Err(); err != nil {
		logger.Error("Failed to bump query cache generation: %v", err)
	}
}

func (c *QueryCache) key(ctx context.Context, op string, params any) (string, error) {
	gen, err := c.Redis.Get(ctx, CacheKeyGeneration).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%s:%s:%d:%s", CacheKeyPrefix, op, gen, hex.EncodeToString(sum[:12])), nil
}

// cached returns the value stored for (op, params) or computes it with load
// and stores it. Cache failures are logged and never fail the query.
func cached[T any](ctx context.Context, c *QueryCache, op string, params any, load func() (T, error)) (T, error) {
	if !c.enabled() {
		return load()
	}

	key, err := c.key(ctx, op, params)
	if err != nil {
		logger.Warn("Query cache key for %s unavailable: %v", op, err)
		return load()
	}

	if val, err := c.Redis.Get(ctx, key).Bytes(); err == nil {
		var out T
		if err := json.Unmarshal(val, &out); err == nil {
			return out, nil
		}
		// If unmarshal fails, fall through to the database
	}

	out, err := load()
	if err != nil {
		return out, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		logger.Warn("Failed to marshal %s result for cache: %v", op, err)
		return out, nil
	}
	if err := c.Redis.Set(ctx, key, data, c.TTL).Err(); err != nil {
		logger.Warn("Failed to set %s cache: %v", op, err)
	}
	return out, nil
}
