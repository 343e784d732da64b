// Package stats serves dashboard counters from the audit store, optionally
// cached in redis, and exposes them as Prometheus metrics.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/store"
)

const (
	KeyPrefix  = "assure:"
	statsKey   = KeyPrefix + "stats"
	DefaultTTL = 60 * time.Second
)

type Source interface {
	Stats(ctx context.Context) (store.Stats, error)
}

// OpenRedis connects to url (redis://...) and pings it.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Cache is a read-through cache in front of Source. A nil Redis disables
// caching; redis errors fall back to the source.
type Cache struct {
	Source Source
	Redis  *redis.Client
	TTL    time.Duration
	Logger *slog.Logger
}

func NewCache(src Source, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{Source: src, Redis: rdb, TTL: ttl, Logger: logger}
}

func (c *Cache) Enabled() bool { return c.Redis != nil }

func (c *Cache) Get(ctx context.Context) (store.Stats, error) {
	if c.Redis != nil {
		raw, err := c.Redis.Get(ctx, statsKey).Bytes()
		switch {
		case err == nil:
			var st store.Stats
			if jerr := json.Unmarshal(raw, &st); jerr == nil {
				return st, nil
			}
		case !errors.Is(err, redis.Nil):
			c.Logger.Warn("stats cache read failed", "error", err)
		}
	}
	st, err := c.Source.Stats(ctx)
	if err != nil {
		return store.Stats{}, err
	}
	if c.Redis != nil {
		if b, err := json.Marshal(st); err == nil {
			if err := c.Redis.Set(ctx, statsKey, b, c.TTL).Err(); err != nil {
				c.Logger.Warn("stats cache write failed", "error", err)
			}
		}
	}
	return st, nil
}

// Invalidate drops the cached value after the trail changes.
func (c *Cache) Invalidate(ctx context.Context) {
	if c.Redis == nil {
		return
	}
	if err := c.Redis.Del(ctx, statsKey).Err(); err != nil {
		c.Logger.Warn("stats cache invalidate failed", "error", err)
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.Ping(ctx).Err()
}
