package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
)

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisCache stores entries in Redis and falls back to an in-memory copy when
// Redis is unavailable.
type RedisCache struct {
	rdb *redis.Client
	mem *MemoryCache
	ttl time.Duration
}

// NewRedisCache connects to Redis and pings it.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisCache(rdb, cfg.TTL), nil
}

func newRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, mem: NewMemoryCache(ttl), ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if err := decode(data, dst); err != nil {
			return false, err
		}
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		logger.Debug("redis get %s failed, using memory cache: %v", key, err)
		return r.mem.Get(ctx, key, dst)
	}
}

func (r *RedisCache) Set(ctx context.Context, key string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, key, data, r.ttl).Err(); err != nil {
		_ = r.mem.Set(ctx, key, v)
		return fmt.Errorf("redis set %s failed, using memory cache: %w", key, err)
	}
	return nil
}

// InvalidateWindow deletes the window's keys in Redis and in the fallback.
func (r *RedisCache) InvalidateWindow(ctx context.Context, window models.Window) error {
	_ = r.mem.InvalidateWindow(ctx, window)

	iter := r.rdb.Scan(ctx, 0, windowPrefix(window)+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Health checks the Redis connection.
func (r *RedisCache) Health(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	_ = r.mem.Close()
	return r.rdb.Close()
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache value: %w", err)
	}
	return data, nil
}

func decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode cache value: %w", err)
	}
	return nil
}
