package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
)

type CacheConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
}

// Cache is a prefixed Redis cache. A Cache without a client is valid and
// misses on every lookup; cache errors are logged and never returned.
type Cache struct {
	client *redis.Client
	prefix string
}

func NewCache(ctx context.Context, cfg CacheConfig, prefix string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.ErrRedis, "failed to connect to Redis")
	}

	logger.WithField("prefix", prefix).Info("Redis cache initialized")
	return &Cache{client: client, prefix: prefix}, nil
}

// NoopCache returns a Cache that stores nothing.
func NoopCache() *Cache {
	return &Cache{}
}

func (c *Cache) Enabled() bool { return c != nil && c.client != nil }

func (c *Cache) key(k string) string {
	if c.prefix != "" {
		return fmt.Sprintf("%s:%s", c.prefix, k)
	}
	return k
}

// Get decodes the cached value into dest and reports whether it was found.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	if !c.Enabled() {
		return false
	}

	val, err := c.client.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		logger.WithContext(ctx).WithField("key", key).WithError(err).Warn("Cache get failed")
		return false
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		logger.WithContext(ctx).WithField("key", key).WithError(err).Warn("Cache unmarshal failed")
		return false
	}
	return true
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) {
	if !c.Enabled() {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(key), data, expiration).Err(); err != nil {
		logger.WithContext(ctx).WithField("key", key).WithError(err).Warn("Cache set failed")
	}
}

func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("Cache delete failed")
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
