package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"marketpulse/internal/metrics"
	"marketpulse/pkg/errors"
)

const defaultOpTimeout = 2 * time.Second

// RedisCache implements Cache on go-redis with a per-operation timeout
type RedisCache struct {
	client    redis.UniversalClient
	name      string
	opTimeout time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a cache labelled name in metrics
func NewRedisCache(client redis.UniversalClient, name string) *RedisCache {
	return &RedisCache{
		client:    client,
		name:      name,
		opTimeout: defaultOpTimeout,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheLookup(c.name, false)
		return nil, false, nil
	}
	if err != nil {
		metrics.RecordCacheLookup(c.name, false)
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}

	metrics.RecordCacheLookup(c.name, true)
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		metrics.RecordCacheLookup(c.name, false)
		return false, errors.Wrapf(err, "redis exists %s", key)
	}

	metrics.RecordCacheLookup(c.name, n > 0)
	return n > 0, nil
}
