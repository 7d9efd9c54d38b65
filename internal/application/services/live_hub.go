package services

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
	"github.com/zatekoja/dermascan/internal/domain/visibility"
	"github.com/zatekoja/dermascan/internal/infrastructure/observability"
)

// LiveMessageKind tells a subscriber how to apply a message to its view
type LiveMessageKind string

const (
	LiveUpsert       LiveMessageKind = "upsert"
	LiveRemove       LiveMessageKind = "remove"
	LiveNotification LiveMessageKind = "notification"
)

// LiveMessage is one incremental update for a subscriber
type LiveMessage struct {
	Kind         LiveMessageKind              `json:"kind"`
	Record       *entities.ScanView           `json:"record,omitempty"`
	RecordID     string                       `json:"recordId,omitempty"`
	Notification *entities.NotificationRecord `json:"notification,omitempty"`
}

// Subscription is one open live view
type Subscription struct {
	hub         *LiveHub
	viewer      visibility.Viewer
	key         string
	sessionID   string
	recipientID string
	updates     chan LiveMessage

	// guarded by hub.mu; lastVersion covers shown records and those removed
	// from the view
	lastVersion map[string]int64
	shown       map[string]bool
	closed      bool
}

// Updates delivers messages until the subscription ends. A subscriber that
// falls too far behind is closed and must resubscribe.
func (s *Subscription) Updates() <-chan LiveMessage {
	return s.updates
}

// Viewer returns the visibility the subscription was opened with
func (s *Subscription) Viewer() visibility.Viewer {
	return s.viewer
}

// Close ends the subscription
func (s *Subscription) Close() {
	s.hub.remove(s)
}

type viewerGroup struct {
	predicate visibility.Predicate
	subs      map[*Subscription]struct{}
}

// LiveHub fans committed scan events out to open live views. Viewers with
// the same visibility share one group so the predicate runs once per event
// per group.
type LiveHub struct {
	mu          sync.Mutex
	groups      map[string]*viewerGroup
	byRecipient map[string]map[*Subscription]struct{}
	bySession   map[string]map[*Subscription]struct{}
	count       int

	bus     providers.LiveBus
	buffer  int
	metrics *observability.Metrics
}

// NewLiveHub creates a hub fed by bus
func NewLiveHub(bus providers.LiveBus, buffer int, metrics *observability.Metrics) *LiveHub {
	if buffer < 1 {
		buffer = 64
	}
	return &LiveHub{
		groups:      make(map[string]*viewerGroup),
		byRecipient: make(map[string]map[*Subscription]struct{}),
		bySession:   make(map[string]map[*Subscription]struct{}),
		bus:         bus,
		buffer:      buffer,
		metrics:     metrics,
	}
}

// Run dispatches bus events until ctx is cancelled or the bus closes
func (h *LiveHub) Run(ctx context.Context) error {
	ch, err := h.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	log.Info().Msg("Live hub started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			h.Dispatch(event)
		}
	}
}

// Subscribe opens a live view for viewer on behalf of sessionID. load
// produces the initial snapshot; it runs while dispatch is held so no event
// committed after the snapshot is missed and none committed before it is
// replayed. An empty sessionID opens a view CloseSession never reaches.
func (h *LiveHub) Subscribe(ctx context.Context, sessionID string, viewer visibility.Viewer, load func(context.Context) ([]*entities.ScanRecord, error)) (*Subscription, []*entities.ScanRecord, error) {
	h.mu.Lock()
	snapshot, err := load(ctx)
	if err != nil {
		h.mu.Unlock()
		return nil, nil, err
	}

	sub := &Subscription{
		hub:         h,
		viewer:      viewer,
		key:         viewer.Key(),
		sessionID:   sessionID,
		recipientID: viewer.Principal.Profile().ID,
		updates:     make(chan LiveMessage, h.buffer),
		lastVersion: make(map[string]int64, len(snapshot)),
		shown:       make(map[string]bool, len(snapshot)),
	}
	for _, r := range snapshot {
		sub.lastVersion[r.ID] = r.Version
		sub.shown[r.ID] = true
	}

	group, ok := h.groups[sub.key]
	if !ok {
		group = &viewerGroup{predicate: viewer.Predicate(), subs: make(map[*Subscription]struct{})}
		h.groups[sub.key] = group
	}
	group.subs[sub] = struct{}{}

	recipients, ok := h.byRecipient[sub.recipientID]
	if !ok {
		recipients = make(map[*Subscription]struct{})
		h.byRecipient[sub.recipientID] = recipients
	}
	recipients[sub] = struct{}{}

	if sessionID != "" {
		sessions, ok := h.bySession[sessionID]
		if !ok {
			sessions = make(map[*Subscription]struct{})
			h.bySession[sessionID] = sessions
		}
		sessions[sub] = struct{}{}
	}
	h.count++
	h.mu.Unlock()

	observability.RecordSubscription(ctx, h.metrics, 1)
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, snapshot, nil
}

// Dispatch applies one event to every open view. Events at or below the
// revision a view already holds for the record are dropped.
func (h *LiveHub) Dispatch(event *entities.ScanEvent) {
	if event == nil || event.Record == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var lagged []*Subscription
	for _, group := range h.groups {
		visible := group.predicate(event.Record)
		for sub := range group.subs {
			last, tracked := sub.lastVersion[event.RecordID]
			if tracked && event.Revision <= last {
				continue
			}

			var msg LiveMessage
			switch {
			case visible:
				view := event.Record.View()
				msg = LiveMessage{Kind: LiveUpsert, Record: &view, RecordID: event.RecordID}
				sub.shown[event.RecordID] = true
			case sub.shown[event.RecordID]:
				msg = LiveMessage{Kind: LiveRemove, RecordID: event.RecordID}
				delete(sub.shown, event.RecordID)
			default:
				if tracked {
					sub.lastVersion[event.RecordID] = event.Revision
				}
				continue
			}
			sub.lastVersion[event.RecordID] = event.Revision
			if !trySend(sub, msg) {
				lagged = append(lagged, sub)
			}
		}
	}
	for _, sub := range lagged {
		log.Warn().Str("viewer", sub.key).Msg("Live subscriber lagged, closing")
		if h.removeLocked(sub) {
			observability.RecordSubscription(context.Background(), h.metrics, -1)
		}
	}
}

// PushNotification delivers record to recipientID's open views and reports
// whether at least one received it
func (h *LiveHub) PushNotification(recipientID string, record *entities.NotificationRecord) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := false
	var lagged []*Subscription
	for sub := range h.byRecipient[recipientID] {
		if trySend(sub, LiveMessage{Kind: LiveNotification, Notification: record}) {
			delivered = true
		} else {
			lagged = append(lagged, sub)
		}
	}
	for _, sub := range lagged {
		if h.removeLocked(sub) {
			observability.RecordSubscription(context.Background(), h.metrics, -1)
		}
	}
	return delivered
}

// CloseSession ends every view opened by sessionID. Their readers see a
// closed channel and reload under the session's current visibility.
func (h *LiveHub) CloseSession(sessionID string) {
	h.mu.Lock()
	closed := 0
	for sub := range h.bySession[sessionID] {
		if h.removeLocked(sub) {
			closed++
		}
	}
	h.mu.Unlock()
	if closed > 0 {
		log.Debug().Str("session_id", sessionID).Int("views", closed).Msg("Closed live views for session change")
		observability.RecordSubscription(context.Background(), h.metrics, int64(-closed))
	}
}

// Count returns the number of open subscriptions
func (h *LiveHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func trySend(sub *Subscription, msg LiveMessage) bool {
	select {
	case sub.updates <- msg:
		return true
	default:
		return false
	}
}

func (h *LiveHub) remove(sub *Subscription) {
	h.mu.Lock()
	removed := h.removeLocked(sub)
	h.mu.Unlock()
	if removed {
		observability.RecordSubscription(context.Background(), h.metrics, -1)
	}
}

func (h *LiveHub) removeLocked(sub *Subscription) bool {
	if sub.closed {
		return false
	}
	sub.closed = true
	close(sub.updates)

	if group, ok := h.groups[sub.key]; ok {
		delete(group.subs, sub)
		if len(group.subs) == 0 {
			delete(h.groups, sub.key)
		}
	}
	if recipients, ok := h.byRecipient[sub.recipientID]; ok {
		delete(recipients, sub)
		if len(recipients) == 0 {
			delete(h.byRecipient, sub.recipientID)
		}
	}
	if sessions, ok := h.bySession[sub.sessionID]; ok {
		delete(sessions, sub)
		if len(sessions) == 0 {
			delete(h.bySession, sub.sessionID)
		}
	}
	h.count--
	return true
}
