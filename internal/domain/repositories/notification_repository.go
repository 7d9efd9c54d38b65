package repositories

import (
	"context"

	"github.com/zatekoja/dermascan/internal/domain/entities"
)

// NotificationRepository persists the notification audit log
type NotificationRepository interface {
	// Create stores a new record. A record with an existing dedup key is
	// rejected with a conflict error.
	Create(ctx context.Context, record *entities.NotificationRecord) error

	// UpdateDelivery records the delivery outcome of a stored record
	UpdateDelivery(ctx context.Context, id string, delivered bool, attempts int, lastError *string) error

	// ListByRecipient retrieves records for a recipient, newest first
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*entities.NotificationRecord, error)

	// MarkRead flags a recipient's record as read
	MarkRead(ctx context.Context, recipientID, id string) error
}
