package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
	redisclient "github.com/zatekoja/dermascan/internal/infrastructure/clients/redis"
)

// RedisLiveBus implements the LiveBus interface using Redis Pub/Sub so every
// API instance sees every committed mutation
type RedisLiveBus struct {
	client      *redisclient.Client
	channel     string
	pubsub      *redis.PubSub
	subscribers map[chan *entities.ScanEvent]struct{}
	bufferSize  int
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewRedisLiveBus creates a new Redis-based live bus on channel
func NewRedisLiveBus(client *redisclient.Client, channel string, bufferSize int) providers.LiveBus {
	ctx, cancel := context.WithCancel(context.Background())
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &RedisLiveBus{
		client:      client,
		channel:     channel,
		subscribers: make(map[chan *entities.ScanEvent]struct{}),
		bufferSize:  bufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Publish publishes an event to all subscribers
func (b *RedisLiveBus) Publish(ctx context.Context, event *entities.ScanEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Client().Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().Str("channel", b.channel).Str("event_id", event.ID).Str("record_id", event.RecordID).Msg("Published live event")
	return nil
}

// Subscribe subscribes to events until ctx is done
func (b *RedisLiveBus) Subscribe(ctx context.Context) (<-chan *entities.ScanEvent, error) {
	b.mu.Lock()
	if b.ctx.Err() != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("live bus closed")
	}

	if b.pubsub == nil {
		pubsub := b.client.Client().Subscribe(b.ctx, b.channel)
		// Wait for the subscription confirmation so no publish is missed
		if _, err := pubsub.Receive(ctx); err != nil {
			b.mu.Unlock()
			_ = pubsub.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
		}
		b.pubsub = pubsub
		go b.receiveMessages(pubsub)
	}

	eventChan := make(chan *entities.ScanEvent, b.bufferSize)
	b.subscribers[eventChan] = struct{}{}
	subscriberCount := len(b.subscribers)
	b.mu.Unlock()

	log.Debug().Str("channel", b.channel).Int("subscribers", subscriberCount).Msg("Subscribed to live bus")

	go func() {
		select {
		case <-ctx.Done():
		case <-b.ctx.Done():
		}
		b.removeSubscriber(eventChan)
	}()

	return eventChan, nil
}

// receiveMessages receives messages from Redis and broadcasts them to subscribers
func (b *RedisLiveBus) receiveMessages(pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event entities.ScanEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn().Err(err).Str("channel", b.channel).Msg("Failed to unmarshal live event")
				continue
			}

			b.mu.RLock()
			for subscriber := range b.subscribers {
				select {
				case subscriber <- &event:
				default:
					// Subscriber channel full; the hub resyncs the affected subscriptions
					log.Warn().Str("channel", b.channel).Str("event_id", event.ID).Msg("Live subscriber full, skipping event")
				}
			}
			b.mu.RUnlock()
		}
	}
}

func (b *RedisLiveBus) removeSubscriber(eventChan chan *entities.ScanEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[eventChan]; !ok {
		return
	}
	delete(b.subscribers, eventChan)
	close(eventChan)

	if len(b.subscribers) == 0 && b.pubsub != nil {
		_ = b.pubsub.Close()
		b.pubsub = nil
		log.Debug().Str("channel", b.channel).Msg("Closed live bus subscription")
	}
}

// Close closes the live bus and all subscriptions
func (b *RedisLiveBus) Close() error {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for subscriber := range b.subscribers {
		close(subscriber)
		delete(b.subscribers, subscriber)
	}
	if b.pubsub != nil {
		if err := b.pubsub.Close(); err != nil {
			return fmt.Errorf("failed to close subscription %s: %w", b.channel, err)
		}
		b.pubsub = nil
	}

	log.Info().Str("channel", b.channel).Msg("Live bus closed")
	return nil
}
