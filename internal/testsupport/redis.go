package testsupport

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// NewTestRedis connects to the REDIS_* instance and removes every key under
// the given prefixes before and after the test
func NewTestRedis(t *testing.T, prefixes ...string) *redis.Client {
	t.Helper()

	cfg := RedisFromEnv(t)
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	require.NoError(t, client.Ping(context.Background()).Err(), "redis unreachable")

	purge := func() {
		ctx := context.Background()
		for _, prefix := range prefixes {
			iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
			for iter.Next(ctx) {
				_ = client.Del(ctx, iter.Val()).Err()
			}
		}
	}
	purge()
	t.Cleanup(func() {
		purge()
		_ = client.Close()
	})

	return client
}
