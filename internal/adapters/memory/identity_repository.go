package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// IdentityRepository stores identities in memory
type IdentityRepository struct {
	mu         sync.RWMutex
	identities map[string]entities.Identity
}

// NewIdentityRepository creates an empty repository
func NewIdentityRepository() *IdentityRepository {
	return &IdentityRepository{identities: map[string]entities.Identity{}}
}

func (r *IdentityRepository) Create(_ context.Context, identity *entities.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.identities[identity.ID]; ok {
		return apperrors.NewConflictError(fmt.Sprintf("identity %s already exists", identity.ID))
	}
	if identity.Email != "" {
		for _, existing := range r.identities {
			if strings.EqualFold(existing.Email, identity.Email) {
				return apperrors.NewConflictError(fmt.Sprintf("email %s already registered", identity.Email))
			}
		}
	}
	r.identities[identity.ID] = *identity
	return nil
}

func (r *IdentityRepository) GetByID(_ context.Context, id string) (*entities.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.identities[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("identity %s not found", id))
	}
	return &identity, nil
}

func (r *IdentityRepository) ListByRole(_ context.Context, role entities.Role) ([]*entities.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entities.Identity, 0)
	for _, identity := range r.identities {
		if identity.Role == role {
			identity := identity
			out = append(out, &identity)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName == out[j].DisplayName {
			return out[i].ID < out[j].ID
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out, nil
}

// DeviceTokenRepository stores device tokens in memory
type DeviceTokenRepository struct {
	mu     sync.RWMutex
	tokens map[string][]*entities.DeviceToken
}

// NewDeviceTokenRepository creates an empty repository
func NewDeviceTokenRepository() *DeviceTokenRepository {
	return &DeviceTokenRepository{tokens: map[string][]*entities.DeviceToken{}}
}

func (r *DeviceTokenRepository) Register(_ context.Context, token *entities.DeviceToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.tokens[token.IdentityID] {
		if existing.Token == token.Token {
			return nil
		}
	}
	cp := *token
	r.tokens[token.IdentityID] = append(r.tokens[token.IdentityID], &cp)
	return nil
}

func (r *DeviceTokenRepository) ListByIdentity(_ context.Context, identityID string) ([]*entities.DeviceToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entities.DeviceToken, 0, len(r.tokens[identityID]))
	for _, t := range r.tokens[identityID] {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}
