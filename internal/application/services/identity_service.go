package services

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// RegisterRequest is the account registration payload
type RegisterRequest struct {
	DisplayName string        `json:"displayName"`
	Email       string        `json:"email"`
	Role        entities.Role `json:"role"`
}

// IdentityService registers identities and resolves session tokens to principals
type IdentityService struct {
	repo      repositories.IdentityRepository
	provider  providers.IdentityProvider
	directory *PatientDirectory
	now       func() time.Time
}

// NewIdentityService creates a new identity service
func NewIdentityService(repo repositories.IdentityRepository, provider providers.IdentityProvider, directory *PatientDirectory) *IdentityService {
	return &IdentityService{
		repo:      repo,
		provider:  provider,
		directory: directory,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an identity and issues a session token for it
func (s *IdentityService) Register(ctx context.Context, req RegisterRequest) (*entities.Identity, string, error) {
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.Email = strings.TrimSpace(req.Email)
	if req.DisplayName == "" {
		return nil, "", apperrors.NewValidationError("displayName is required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, "", apperrors.NewValidationError("a valid email is required")
	}
	if !req.Role.Valid() {
		return nil, "", apperrors.NewValidationError("role must be patient or clinician")
	}

	identity := &entities.Identity{
		ID:          uuid.New().String(),
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Role:        req.Role,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, identity); err != nil {
		return nil, "", err
	}
	if s.directory != nil {
		s.directory.Apply(identity)
	}

	token, err := s.provider.Issue(ctx, providers.Claims{IdentityID: identity.ID, Role: identity.Role})
	if err != nil {
		return nil, "", err
	}

	log.Info().Str("identity_id", identity.ID).Str("role", string(identity.Role)).Msg("Identity registered")
	return identity, token, nil
}

// Resolve maps a session token to a principal. The token's role claim must
// match the registered role since roles never change.
func (s *IdentityService) Resolve(ctx context.Context, token string) (entities.Principal, error) {
	if token == "" {
		return nil, apperrors.NewUnauthorizedError("missing session token")
	}
	claims, err := s.provider.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	identity, err := s.repo.GetByID(ctx, claims.IdentityID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewUnauthorizedError("session refers to an unknown identity")
		}
		return nil, err
	}
	if identity.Role != claims.Role {
		return nil, apperrors.NewUnauthorizedError("session role does not match identity")
	}

	principal, err := entities.AsPrincipal(identity)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to resolve principal", err)
	}
	return principal, nil
}

// Get retrieves an identity by id
func (s *IdentityService) Get(ctx context.Context, id string) (*entities.Identity, error) {
	return s.repo.GetByID(ctx, id)
}

// Revoke invalidates a session token
func (s *IdentityService) Revoke(ctx context.Context, token string) error {
	return s.provider.Revoke(ctx, token)
}
