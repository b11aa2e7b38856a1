package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dovira/amlgraph-backend/internal/platform/envutil"
	"github.com/dovira/amlgraph-backend/internal/platform/logger"
)

// Cache is an optional Redis-backed byte cache. A nil *Cache is valid and
// behaves as a cache that never hits, so callers do not branch on presence.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log *logger.Logger
}

// NewFromEnv returns (nil, nil) when REDIS_ADDR is unset: caching is optional.
func NewFromEnv(log *logger.Logger) (*Cache, error) {
	if log == nil {
		return nil, fmt.Errorf("rediscache: logger required")
	}

	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: envutil.String("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}

	ttl := time.Duration(envutil.Int("REDIS_CACHE_TTL_SECONDS", 86400)) * time.Second

	return &Cache{
		rdb: rdb,
		ttl: ttl,
		log: log.With("client", "RedisCache"),
	}, nil
}

// Get returns (nil, false) on miss or any Redis error; reads are best-effort.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	return raw, true
}

func (c *Cache) Set(ctx context.Context, key string, value []byte) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", "key", key, "error", err)
	}
}

func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
