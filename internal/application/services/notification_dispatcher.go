package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
	"github.com/zatekoja/dermascan/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
	"github.com/zatekoja/dermascan/pkg/retry"
)

// DispatcherConfig bounds delivery attempts
type DispatcherConfig struct {
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
	DedupTTL       time.Duration
}

type messageTemplate struct {
	title      string
	ownerBody  func(*entities.ScanEvent) string
	onCallBody func(*entities.ScanEvent) string
	priority   entities.NotificationPriority
	onCall     bool
}

func effectiveLabel(e *entities.ScanEvent) string {
	if e.Record != nil {
		if eff := e.Record.EffectiveResult(); eff != nil {
			return eff.Label
		}
	}
	return "your scan"
}

// Created and Annotated have no template and notify nobody.
var templates = map[entities.ScanEventType]messageTemplate{
	entities.ScanEventAnalysisAttached: {
		title: "Your scan result is ready",
		ownerBody: func(e *entities.ScanEvent) string {
			return fmt.Sprintf("Preliminary result: %s. A clinician may review it further.", effectiveLabel(e))
		},
		priority: entities.PriorityNormal,
	},
	entities.ScanEventCorrected: {
		title: "A clinician reviewed your scan",
		ownerBody: func(e *entities.ScanEvent) string {
			return fmt.Sprintf("Updated result: %s.", effectiveLabel(e))
		},
		priority: entities.PriorityNormal,
	},
	entities.ScanEventEscalated: {
		title: "Urgent follow-up requested",
		ownerBody: func(*entities.ScanEvent) string {
			return "A clinician flagged your scan for urgent follow-up. Please book an appointment as soon as possible."
		},
		onCallBody: func(e *entities.ScanEvent) string {
			return fmt.Sprintf("Scan %s for patient %s was flagged urgent.", e.RecordID, e.OwnerID)
		},
		priority: entities.PriorityHigh,
		onCall:   true,
	},
}

// StaticRoster is an on-call pool fixed at configuration time
type StaticRoster []string

// OnCall returns the configured clinician ids
func (r StaticRoster) OnCall(context.Context) ([]string, error) {
	return append([]string(nil), r...), nil
}

// NotificationDispatcher turns review transitions into stored and delivered
// notifications. Each (record, event, recipient, channel, revision) is
// stored once; delivery failures are retried once and then recorded.
type NotificationDispatcher struct {
	notifications repositories.NotificationRepository
	devices       repositories.DeviceTokenRepository
	push          providers.PushSender
	inApp         providers.InAppPublisher
	roster        providers.OnCallRoster
	cache         providers.CacheProvider
	metrics       *observability.Metrics
	cfg           DispatcherConfig
	now           func() time.Time
}

// NewNotificationDispatcher creates a dispatcher. cache may be nil.
func NewNotificationDispatcher(
	notifications repositories.NotificationRepository,
	devices repositories.DeviceTokenRepository,
	push providers.PushSender,
	inApp providers.InAppPublisher,
	roster providers.OnCallRoster,
	cache providers.CacheProvider,
	metrics *observability.Metrics,
	cfg DispatcherConfig,
) *NotificationDispatcher {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 72 * time.Hour
	}
	return &NotificationDispatcher{
		notifications: notifications,
		devices:       devices,
		push:          push,
		inApp:         inApp,
		roster:        roster,
		cache:         cache,
		metrics:       metrics,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes the transition log until ctx is cancelled
func (d *NotificationDispatcher) Run(ctx context.Context, log providers.TransitionLog) error {
	err := log.Consume(ctx, d.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle processes one transition. It returns an error only when the event
// should be redelivered: recipients could not be resolved or the audit
// record could not be stored.
func (d *NotificationDispatcher) Handle(ctx context.Context, event *entities.ScanEvent) error {
	tmpl, ok := templates[event.Type]
	if !ok {
		return nil
	}
	ctx, span := observability.StartSpan(ctx, "NotificationDispatcher.Handle")
	defer span.End()
	logger := observability.EventLogger(ctx, event)

	type target struct {
		id   string
		body string
	}
	targets := []target{{id: event.OwnerID, body: tmpl.ownerBody(event)}}
	if tmpl.onCall && d.roster != nil {
		onCall, err := d.roster.OnCall(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve on-call clinicians: %w", err)
		}
		seen := map[string]bool{event.OwnerID: true}
		for _, id := range onCall {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			targets = append(targets, target{id: id, body: tmpl.onCallBody(event)})
		}
	}

	for _, t := range targets {
		tokens, err := d.devices.ListByIdentity(ctx, t.id)
		if err != nil {
			return fmt.Errorf("failed to list devices for %s: %w", t.id, err)
		}
		var mobile []string
		for _, tok := range tokens {
			if entities.ChannelForToken(tok.Token) == entities.ChannelMobilePush {
				mobile = append(mobile, tok.Token)
			}
		}

		msg := entities.PushMessage{
			Title:    tmpl.title,
			Body:     t.body,
			Priority: tmpl.priority,
			Data: map[string]string{
				"recordId":  event.RecordID,
				"eventType": string(event.Type),
				"status":    string(event.To),
				"revision":  strconv.FormatInt(event.Revision, 10),
			},
		}

		if err := d.deliver(ctx, logger, event, t.id, entities.ChannelInApp, msg, nil); err != nil {
			return err
		}
		if len(mobile) > 0 {
			if err := d.deliver(ctx, logger, event, t.id, entities.ChannelMobilePush, msg, mobile); err != nil {
				return err
			}
		}
	}
	return nil
}

// deliver stores the audit record first, then attempts delivery. Only a
// storage failure is returned.
func (d *NotificationDispatcher) deliver(ctx context.Context, logger *zerolog.Logger, event *entities.ScanEvent, recipientID string, channel entities.NotificationChannel, msg entities.PushMessage, tokens []string) error {
	key := entities.NotificationDedupKey(event.RecordID, event.Type, recipientID, channel, event.Revision)
	l := logger.With().Str("recipient_id", recipientID).Str("channel", string(channel)).Logger()

	cacheKey := "notify:" + key
	if d.cache != nil {
		fresh, err := d.cache.Claim(ctx, cacheKey, event.ID, d.cfg.DedupTTL)
		if err != nil {
			l.Warn().Err(err).Msg("Dedup cache unavailable, relying on audit log")
		} else if !fresh {
			l.Debug().Msg("Duplicate notification suppressed")
			return nil
		}
	}

	record := &entities.NotificationRecord{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Title:       msg.Title,
		Body:        msg.Body,
		Payload:     msg.Data,
		Channel:     channel,
		EventType:   event.Type,
		RecordID:    event.RecordID,
		Priority:    msg.Priority,
		DedupKey:    key,
		CreatedAt:   d.now(),
	}
	if err := d.notifications.Create(ctx, record); err != nil {
		if apperrors.IsConflict(err) {
			l.Debug().Msg("Duplicate notification suppressed")
			return nil
		}
		if d.cache != nil {
			_ = d.cache.Release(ctx, cacheKey)
		}
		return fmt.Errorf("failed to store notification: %w", err)
	}

	var (
		attempts int
		sendErr  error
	)
	switch channel {
	case entities.ChannelInApp:
		attempts = 1
		if d.inApp == nil || !d.inApp.PushNotification(recipientID, record) {
			sendErr = errors.New("recipient has no open session")
		}
	case entities.ChannelMobilePush:
		var res retry.Result
		res, sendErr = retry.DoWithLog(ctx, retry.Once(d.cfg.AttemptTimeout, d.cfg.RetryDelay), "push", func(ctx context.Context) error {
			return d.sendAll(ctx, tokens, msg)
		}, func(attempt int, err error, next time.Duration) {
			l.Warn().Err(err).Int("attempt", attempt).Dur("next_delay", next).Msg("Push attempt failed, retrying")
		})
		attempts = res.Attempts
	}

	delivered := sendErr == nil
	var lastError *string
	if sendErr != nil {
		text := sendErr.Error()
		lastError = &text
	}
	record.Delivered = delivered
	record.Attempts = attempts
	record.LastError = lastError
	if err := d.notifications.UpdateDelivery(ctx, record.ID, delivered, attempts, lastError); err != nil {
		l.Error().Err(err).Str("notification_id", record.ID).Msg("Failed to record delivery outcome")
	}
	observability.RecordDelivery(ctx, d.metrics, string(channel), delivered)

	if delivered {
		l.Info().Str("notification_id", record.ID).Int("attempts", attempts).Msg("Notification delivered")
	} else {
		l.Warn().Err(sendErr).Str("notification_id", record.ID).Int("attempts", attempts).Msg("Notification not delivered")
	}
	return nil
}

// sendAll succeeds when any device accepts the message
func (d *NotificationDispatcher) sendAll(ctx context.Context, tokens []string, msg entities.PushMessage) error {
	if d.push == nil {
		return retry.Permanent(errors.New("no push sender configured"))
	}
	var errs []error
	permanent := 0
	for _, tok := range tokens {
		err := d.push.Send(ctx, tok, msg)
		if err == nil {
			return nil
		}
		if retry.IsPermanent(err) {
			permanent++
		}
		errs = append(errs, err)
	}
	joined := errors.Join(errs...)
	if permanent == len(tokens) {
		return retry.Permanent(joined)
	}
	return joined
}
