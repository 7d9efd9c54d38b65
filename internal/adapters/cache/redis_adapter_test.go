package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/dermascan/internal/domain/providers"
	redisclient "github.com/zatekoja/dermascan/internal/infrastructure/clients/redis"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, providers.CacheProvider) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisAdapter(redisclient.Wrap(client))
}

func TestRedisAdapter_ClaimOnce(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()
	key := "notify:s-1|scan.escalated|p-1|in_app|3"

	ok, err := c.Claim(ctx, key, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", got)

	ok, err = c.Claim(ctx, key, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(61 * time.Second)
	ok, err = c.Claim(ctx, key, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "claim expires with its ttl")
}

func TestRedisAdapter_Release(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()

	_, err := c.Claim(ctx, "k", "owner", 0)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, "k"))
	assert.False(t, mr.Exists("k"))

	ok, err := c.Claim(ctx, "k", "owner", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisAdapter_Unavailable(t *testing.T) {
	mr, c := setupTestRedis(t)
	mr.Close()

	_, err := c.Claim(context.Background(), "k", "owner", time.Minute)
	assert.ErrorContains(t, err, "failed to claim cache key")
}
