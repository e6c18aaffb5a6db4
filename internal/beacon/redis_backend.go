package beacon

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisBackend implements Backend on Redis strings.
// Batches are sent as one MULTI/EXEC transaction.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend creates a backend. Every key is stored as prefix+key.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, true, nil
}

// Apply implements Backend.
func (b *RedisBackend) Apply(ctx context.Context, batch Batch) error {
	if len(batch.Puts) == 0 && len(batch.Deletes) == 0 {
		return nil
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(batch.Deletes) > 0 {
			keys := make([]string, len(batch.Deletes))
			for i, k := range batch.Deletes {
				keys[i] = b.prefix + k
			}
			pipe.Del(ctx, keys...)
		}
		for k, v := range batch.Puts {
			pipe.Set(ctx, b.prefix+k, v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis transaction: %w", err)
	}
	return nil
}

// Ping verifies the server is reachable.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
