package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/zatekoja/dermascan/internal/domain/providers"
	redisclient "github.com/zatekoja/dermascan/internal/infrastructure/clients/redis"
)

// RedisAdapter implements the CacheProvider interface using Redis SET NX
type RedisAdapter struct {
	client *redisclient.Client
}

// NewRedisAdapter creates a new Redis cache adapter
func NewRedisAdapter(client *redisclient.Client) providers.CacheProvider {
	return &RedisAdapter{
		client: client,
	}
}

// Claim sets key to owner unless it already exists
func (a *RedisAdapter) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := a.client.Client().SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim cache key: %w", err)
	}
	return ok, nil
}

// Release removes the claim
func (a *RedisAdapter) Release(ctx context.Context, key string) error {
	if err := a.client.Client().Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release cache key: %w", err)
	}
	return nil
}
