package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
	redisclient "github.com/zatekoja/dermascan/internal/infrastructure/clients/redis"
)

// RedisStreamConfig configures a consumer group on a Redis stream
type RedisStreamConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Count    int64
	// MaxLen caps the stream length; zero keeps everything
	MaxLen int64
}

// RedisStreamLog implements TransitionLog on Redis Streams. Entries stay in
// the consumer's pending list until the handler succeeds and they are acked.
type RedisStreamLog struct {
	client *redisclient.Client
	cfg    RedisStreamConfig
}

// NewRedisStreamLog creates a stream-backed transition log
func NewRedisStreamLog(client *redisclient.Client, cfg RedisStreamConfig) providers.TransitionLog {
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	return &RedisStreamLog{client: client, cfg: cfg}
}

// Append adds the event to the stream with XADD
func (l *RedisStreamLog) Append(ctx context.Context, event *entities.ScanEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: l.cfg.Stream,
		Values: map[string]interface{}{
			"event_id":  event.ID,
			"record_id": event.RecordID,
			"data":      string(data),
		},
	}
	if l.cfg.MaxLen > 0 {
		args.MaxLen = l.cfg.MaxLen
		args.Approx = true
	}

	if err := l.client.Client().XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

// Consume reads the group with XREADGROUP. On start, and after any handler
// failure, the consumer's own pending entries are replayed before new ones.
func (l *RedisStreamLog) Consume(ctx context.Context, handler providers.TransitionHandler) error {
	if err := l.ensureGroup(ctx); err != nil {
		return err
	}

	replay := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := ">"
		if replay {
			start = "0"
		}
		streams, err := l.client.Client().XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    l.cfg.Group,
			Consumer: l.cfg.Consumer,
			Streams:  []string{l.cfg.Stream, start},
			Count:    l.cfg.Count,
			Block:    l.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("stream", l.cfg.Stream).Msg("Failed to read transition stream")
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}

		delivered := 0
		failed := false
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				delivered++
				if err := l.handle(ctx, msg, handler); err != nil {
					failed = true
					log.Warn().Err(err).Str("stream_id", msg.ID).Msg("Transition handler failed, entry left pending")
				}
			}
		}

		switch {
		case failed:
			replay = true
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
		case replay && delivered == 0:
			replay = false
		}
	}
}

func (l *RedisStreamLog) handle(ctx context.Context, msg redis.XMessage, handler providers.TransitionHandler) error {
	raw, _ := msg.Values["data"].(string)
	var event entities.ScanEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		// A malformed entry can never succeed; ack it so it does not block the group
		log.Error().Err(err).Str("stream_id", msg.ID).Msg("Dropping malformed transition entry")
		return l.ack(ctx, msg.ID)
	}
	if err := handler(ctx, &event); err != nil {
		return err
	}
	return l.ack(ctx, msg.ID)
}

func (l *RedisStreamLog) ack(ctx context.Context, id string) error {
	if err := l.client.Client().XAck(ctx, l.cfg.Stream, l.cfg.Group, id).Err(); err != nil {
		return fmt.Errorf("failed to ack %s: %w", id, err)
	}
	return nil
}

func (l *RedisStreamLog) ensureGroup(ctx context.Context) error {
	err := l.client.Client().XGroupCreateMkStream(ctx, l.cfg.Stream, l.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", l.cfg.Group, err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller
func (l *RedisStreamLog) Close() error {
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
