package providers

import (
	"context"

	"github.com/zatekoja/dermascan/internal/domain/entities"
)

// PushSender delivers a message to one device token
type PushSender interface {
	Send(ctx context.Context, token string, msg entities.PushMessage) error
}

// InAppPublisher delivers a stored notification to a recipient's open sessions
type InAppPublisher interface {
	PushNotification(recipientID string, record *entities.NotificationRecord) bool
}

// OnCallRoster lists clinicians that receive escalations
type OnCallRoster interface {
	OnCall(ctx context.Context) ([]string, error)
}
