package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/dermascan/internal/domain/entities"
	redisclient "github.com/zatekoja/dermascan/internal/infrastructure/clients/redis"
)

func setupRedis(t *testing.T) *redisclient.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisclient.Wrap(rdb)
}

func TestRedisLiveBus_PublishSubscribe(t *testing.T) {
	client := setupRedis(t)
	bus := NewRedisLiveBus(client, "scan-events", 8)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	want := testEvent("e-1", "s-1", 3)
	require.NoError(t, bus.Publish(context.Background(), want))

	select {
	case got := <-ch:
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.RecordID, got.RecordID)
		assert.Equal(t, int64(3), got.Revision)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

func TestRedisLiveBus_CloseClosesSubscribers(t *testing.T) {
	client := setupRedis(t)
	bus := NewRedisLiveBus(client, "scan-events", 8)

	ch, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, ok := <-ch
	assert.False(t, ok)
	_, err = bus.Subscribe(context.Background())
	assert.Error(t, err)
}

func TestRedisStreamLog_AckOnlyAfterSuccess(t *testing.T) {
	client := setupRedis(t)
	log := NewRedisStreamLog(client, RedisStreamConfig{
		Stream:   "scan-transitions",
		Group:    "dispatcher",
		Consumer: "worker-1",
		Block:    50 * time.Millisecond,
	})

	require.NoError(t, log.Append(context.Background(), testEvent("e-1", "s-1", 2)))
	require.NoError(t, log.Append(context.Background(), testEvent("e-2", "s-2", 2)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	handled := map[string]int{}
	failOnce := true
	go func() {
		_ = log.Consume(ctx, func(_ context.Context, e *entities.ScanEvent) error {
			mu.Lock()
			defer mu.Unlock()
			handled[e.ID]++
			if e.ID == "e-1" && failOnce {
				failOnce = false
				return errors.New("temporary failure")
			}
			return nil
		})
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled["e-1"] >= 2 && handled["e-2"] >= 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		pending, err := client.Client().XPending(context.Background(), "scan-transitions", "dispatcher").Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRedisStreamLog_GroupCreateIsIdempotent(t *testing.T) {
	client := setupRedis(t)
	log := &RedisStreamLog{client: client, cfg: RedisStreamConfig{Stream: "s", Group: "g", Consumer: "c"}}

	require.NoError(t, log.ensureGroup(context.Background()))
	require.NoError(t, log.ensureGroup(context.Background()))
}
