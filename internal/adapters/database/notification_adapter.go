package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
	"github.com/zatekoja/dermascan/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// NotificationAdapter stores the notification audit log
type NotificationAdapter struct {
	client *postgres.Client
}

// NewNotificationAdapter creates a new notification adapter
func NewNotificationAdapter(client *postgres.Client) repositories.NotificationRepository {
	return &NotificationAdapter{client: client}
}

type notificationRow struct {
	ID          string     `db:"id"`
	RecipientID string     `db:"recipient_id"`
	Title       string     `db:"title"`
	Body        string     `db:"body"`
	Payload     []byte     `db:"payload"`
	Channel     string     `db:"channel"`
	EventType   string     `db:"event_type"`
	RecordID    string     `db:"record_id"`
	Priority    string     `db:"priority"`
	DedupKey    string     `db:"dedup_key"`
	Delivered   bool       `db:"delivered"`
	Attempts    int        `db:"attempts"`
	LastError   *string    `db:"last_error"`
	Read        bool       `db:"read"`
	CreatedAt   time.Time  `db:"created_at"`
	DeliveredAt *time.Time `db:"delivered_at"`
}

func (r notificationRow) toEntity() (*entities.NotificationRecord, error) {
	payload := map[string]string{}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return &entities.NotificationRecord{
		ID:          r.ID,
		RecipientID: r.RecipientID,
		Title:       r.Title,
		Body:        r.Body,
		Payload:     payload,
		Channel:     entities.NotificationChannel(r.Channel),
		EventType:   entities.ScanEventType(r.EventType),
		RecordID:    r.RecordID,
		Priority:    entities.NotificationPriority(r.Priority),
		DedupKey:    r.DedupKey,
		Delivered:   r.Delivered,
		Attempts:    r.Attempts,
		LastError:   r.LastError,
		Read:        r.Read,
		CreatedAt:   r.CreatedAt,
		DeliveredAt: r.DeliveredAt,
	}, nil
}

// Create inserts the audit record; an existing dedup key yields a conflict
func (a *NotificationAdapter) Create(ctx context.Context, n *entities.NotificationRecord) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return apperrors.NewInternalError("failed to encode payload", err)
	}
	query := `
		INSERT INTO notification_records
		(id, recipient_id, title, body, payload, channel, event_type, record_id, priority,
		 dedup_key, delivered, attempts, last_error, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (dedup_key) DO NOTHING
	`
	result, err := a.client.DBX().ExecContext(ctx, query,
		n.ID, n.RecipientID, n.Title, n.Body, payload, n.Channel, n.EventType, n.RecordID, n.Priority,
		n.DedupKey, n.Delivered, n.Attempts, n.LastError, n.Read, n.CreatedAt,
	)
	if err != nil {
		return apperrors.NewInternalError("failed to create notification record", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rows == 0 {
		return apperrors.NewConflictError("notification already recorded for " + n.DedupKey)
	}
	return nil
}

// UpdateDelivery records the outcome of the delivery attempts
func (a *NotificationAdapter) UpdateDelivery(ctx context.Context, id string, delivered bool, attempts int, lastError *string) error {
	var deliveredAt *time.Time
	if delivered {
		now := time.Now().UTC()
		deliveredAt = &now
	}
	query := `
		UPDATE notification_records
		SET delivered = $1, attempts = $2, last_error = $3, delivered_at = COALESCE($4, delivered_at)
		WHERE id = $5
	`
	result, err := a.client.DBX().ExecContext(ctx, query, delivered, attempts, lastError, deliveredAt, id)
	if err != nil {
		return apperrors.NewInternalError("failed to update notification record", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rows == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("notification with id %s not found", id))
	}
	return nil
}

// ListByRecipient retrieves the recipient's inbox, newest first
func (a *NotificationAdapter) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*entities.NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, recipient_id, title, body, payload, channel, event_type, record_id, priority,
		       dedup_key, delivered, attempts, last_error, read, created_at, delivered_at
		FROM notification_records
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var rows []notificationRow
	if err := a.client.DBX().SelectContext(ctx, &rows, query, recipientID, limit); err != nil {
		return nil, apperrors.NewInternalError("failed to list notifications", err)
	}

	out := make([]*entities.NotificationRecord, 0, len(rows))
	for _, row := range rows {
		n, err := row.toEntity()
		if err != nil {
			return nil, apperrors.NewInternalError("failed to decode notification", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// MarkRead flags one of the recipient's records as read
func (a *NotificationAdapter) MarkRead(ctx context.Context, recipientID, id string) error {
	query := `UPDATE notification_records SET read = true WHERE id = $1 AND recipient_id = $2`
	result, err := a.client.DBX().ExecContext(ctx, query, id, recipientID)
	if err != nil {
		return apperrors.NewInternalError("failed to mark notification read", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rows == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("notification with id %s not found", id))
	}
	return nil
}
