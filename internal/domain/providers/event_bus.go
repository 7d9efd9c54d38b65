package providers

import (
	"context"

	"github.com/zatekoja/dermascan/internal/domain/entities"
)

// TransitionHandler processes one event from the transition log. Returning an
// error leaves the event unacknowledged so it is delivered again.
type TransitionHandler func(ctx context.Context, event *entities.ScanEvent) error

// TransitionLog is the durable, at-least-once stream of review transitions
// consumed by the notification dispatcher.
type TransitionLog interface {
	// Append durably records a committed transition
	Append(ctx context.Context, event *entities.ScanEvent) error

	// Consume blocks, passing events to handler until ctx is cancelled
	Consume(ctx context.Context, handler TransitionHandler) error

	// Close releases the log's connections
	Close() error
}

// LiveBus carries every committed scan mutation to live fan-out hubs,
// including across API instances.
type LiveBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, event *entities.ScanEvent) error

	// Subscribe returns a channel of events that closes when ctx is done
	Subscribe(ctx context.Context) (<-chan *entities.ScanEvent, error)

	// Close closes the bus and all subscriptions
	Close() error
}
