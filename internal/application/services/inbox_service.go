package services

import (
	"context"
	"time"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// InboxService serves a recipient's notification history and device tokens
type InboxService struct {
	notifications repositories.NotificationRepository
	devices       repositories.DeviceTokenRepository
	now           func() time.Time
}

// NewInboxService creates a new inbox service
func NewInboxService(notifications repositories.NotificationRepository, devices repositories.DeviceTokenRepository) *InboxService {
	return &InboxService{
		notifications: notifications,
		devices:       devices,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// RegisterDevice stores a push token for principal, routed by its prefix
func (s *InboxService) RegisterDevice(ctx context.Context, principal entities.Principal, token string) (*entities.DeviceToken, error) {
	if token == "" {
		return nil, apperrors.NewValidationError("token is required")
	}
	device := &entities.DeviceToken{
		IdentityID: principal.Profile().ID,
		Token:      token,
		Channel:    entities.ChannelForToken(token),
		CreatedAt:  s.now(),
	}
	if err := s.devices.Register(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// List returns principal's notifications, newest first
func (s *InboxService) List(ctx context.Context, principal entities.Principal, limit int) ([]*entities.NotificationRecord, error) {
	return s.notifications.ListByRecipient(ctx, principal.Profile().ID, limit)
}

// MarkRead marks one of principal's notifications as read
func (s *InboxService) MarkRead(ctx context.Context, principal entities.Principal, id string) error {
	return s.notifications.MarkRead(ctx, principal.Profile().ID, id)
}
