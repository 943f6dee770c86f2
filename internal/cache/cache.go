// Package cache stores requirement analyses keyed by request text. Redis is
// used when configured; an in-process LRU serves as the fallback tier.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"botforge/internal/logging"
	"botforge/internal/metrics"
)

const (
	tierRedis  = "redis"
	tierMemory = "memory"
)

// Config holds cache configuration
type Config struct {
	// Redis connection URL (redis://[:password@]host:port[/db]); empty disables redis
	RedisURL       string
	TTL            time.Duration
	MaxMemoryItems int
	KeyPrefix      string
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		TTL:            time.Hour,
		MaxMemoryItems: 256,
		KeyPrefix:      "botforge:",
	}
}

type entry struct {
	value     string
	expiresAt time.Time
}

// AnalysisCache is a two-tier string cache
type AnalysisCache struct {
	redis  *redis.Client
	mem    *lru.Cache[string, entry]
	ttl    time.Duration
	prefix string

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache. An unreachable redis is logged and skipped rather than
// treated as an error.
func New(cfg Config) (*AnalysisCache, error) {
	var client *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logging.L().Warn("redis unavailable, using in-memory analysis cache", zap.Error(err))
			client.Close()
			client = nil
		}
	}
	return NewWithClient(client, cfg)
}

// NewWithClient creates a cache around an existing redis client, which may be nil
func NewWithClient(client *redis.Client, cfg Config) (*AnalysisCache, error) {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxMemoryItems <= 0 {
		cfg.MaxMemoryItems = def.MaxMemoryItems
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	mem, err := lru.New[string, entry](cfg.MaxMemoryItems)
	if err != nil {
		return nil, err
	}
	return &AnalysisCache{redis: client, mem: mem, ttl: cfg.TTL, prefix: cfg.KeyPrefix}, nil
}

// RedisEnabled reports whether the redis tier is in use
func (c *AnalysisCache) RedisEnabled() bool { return c.redis != nil }

// Get looks in redis first, then memory
func (c *AnalysisCache) Get(ctx context.Context, key string) (string, bool) {
	key = c.prefix + key

	if c.redis != nil {
		val, err := c.redis.Get(ctx, key).Result()
		switch {
		case err == nil:
			c.hit(tierRedis)
			return val, true
		case errors.Is(err, redis.Nil):
			metrics.Get().RecordCacheOperation(tierRedis, false)
		default:
			logging.L().Warn("redis get failed", zap.String("key", key), zap.Error(err))
		}
	}

	if e, ok := c.mem.Get(key); ok {
		if time.Now().Before(e.expiresAt) {
			c.hit(tierMemory)
			return e.value, true
		}
		c.mem.Remove(key)
	}
	c.misses.Add(1)
	metrics.Get().RecordCacheOperation(tierMemory, false)
	return "", false
}

// Set writes both tiers
func (c *AnalysisCache) Set(ctx context.Context, key, value string) {
	key = c.prefix + key
	c.mem.Add(key, entry{value: value, expiresAt: time.Now().Add(c.ttl)})

	if c.redis != nil {
		if err := c.redis.Set(ctx, key, value, c.ttl).Err(); err != nil {
			logging.L().Warn("redis set failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (c *AnalysisCache) hit(tier string) {
	c.hits.Add(1)
	metrics.Get().RecordCacheOperation(tier, true)
}

// Stats returns hit and miss counts
func (c *AnalysisCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close releases the redis connection
func (c *AnalysisCache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}
