package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores values in Redis under "<prefix>:<key>", which lets
// processes on different hosts share one login.
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisBackend wraps rdb. An empty prefix defaults to "essence".
func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "essence"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (b *RedisBackend) key(k string) string {
	return b.prefix + ":" + k
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	val, err := b.rdb.Get(ctx, b.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return val, nil
}

func (b *RedisBackend) Set(ctx context.Context, key, value string) error {
	if err := b.rdb.Set(ctx, b.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	if err := b.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
