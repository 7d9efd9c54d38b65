package repositories

import (
	"context"

	"github.com/zatekoja/dermascan/internal/domain/entities"
)

// IdentityRepository defines the interface for identity data operations
type IdentityRepository interface {
	// Create registers a new identity
	Create(ctx context.Context, identity *entities.Identity) error

	// GetByID retrieves an identity by ID
	GetByID(ctx context.Context, id string) (*entities.Identity, error)

	// ListByRole retrieves identities with role ordered by display name
	ListByRole(ctx context.Context, role entities.Role) ([]*entities.Identity, error)
}

// DeviceTokenRepository stores push tokens per identity
type DeviceTokenRepository interface {
	// Register stores token for an identity; re-registering is a no-op
	Register(ctx context.Context, token *entities.DeviceToken) error

	// ListByIdentity retrieves all tokens for an identity
	ListByIdentity(ctx context.Context, identityID string) ([]*entities.DeviceToken, error)
}
