package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
)

// MemoryLiveBus fans events out to in-process subscribers
type MemoryLiveBus struct {
	mu          sync.RWMutex
	subscribers map[chan *entities.ScanEvent]struct{}
	bufferSize  int
	closed      bool
}

// NewMemoryLiveBus creates an in-process live bus
func NewMemoryLiveBus(bufferSize int) *MemoryLiveBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &MemoryLiveBus{
		subscribers: make(map[chan *entities.ScanEvent]struct{}),
		bufferSize:  bufferSize,
	}
}

// Publish delivers event to every subscriber without blocking
func (b *MemoryLiveBus) Publish(_ context.Context, event *entities.ScanEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("live bus closed")
	}
	for subscriber := range b.subscribers {
		select {
		case subscriber <- event:
		default:
			log.Warn().Str("event_id", event.ID).Msg("Live subscriber full, skipping event")
		}
	}
	return nil
}

// Subscribe returns a channel that closes when ctx is done
func (b *MemoryLiveBus) Subscribe(ctx context.Context) (<-chan *entities.ScanEvent, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("live bus closed")
	}
	ch := make(chan *entities.ScanEvent, b.bufferSize)
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Close closes all subscriptions
func (b *MemoryLiveBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
	return nil
}

// MemoryTransitionLog is an in-process at-least-once queue. An event whose
// handler fails is retried before later events are delivered.
type MemoryTransitionLog struct {
	mu         sync.Mutex
	queue      []*entities.ScanEvent
	notify     chan struct{}
	retryDelay time.Duration
	closed     bool
}

// NewMemoryTransitionLog creates an empty log
func NewMemoryTransitionLog(retryDelay time.Duration) *MemoryTransitionLog {
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	return &MemoryTransitionLog{
		notify:     make(chan struct{}, 1),
		retryDelay: retryDelay,
	}
}

// Append enqueues an event
func (l *MemoryTransitionLog) Append(_ context.Context, event *entities.ScanEvent) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("transition log closed")
	}
	l.queue = append(l.queue, event)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return nil
}

// Len reports the number of unacknowledged events
func (l *MemoryTransitionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Consume delivers events in append order until ctx is cancelled
func (l *MemoryTransitionLog) Consume(ctx context.Context, handler providers.TransitionHandler) error {
	for {
		event := l.peek()
		if event == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.notify:
				continue
			}
		}

		if err := handler(ctx, event); err != nil {
			log.Warn().Err(err).Str("event_id", event.ID).Msg("Transition handler failed, redelivering")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.retryDelay):
			}
			continue
		}
		l.ack(event)
	}
}

// Close stops accepting events
func (l *MemoryTransitionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *MemoryTransitionLog) peek() *entities.ScanEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	return l.queue[0]
}

func (l *MemoryTransitionLog) ack(event *entities.ScanEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) > 0 && l.queue[0] == event {
		l.queue = l.queue[1:]
	}
}
