package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
	"github.com/zatekoja/dermascan/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// IdentityAdapter implements the IdentityRepository interface
type IdentityAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewIdentityAdapter creates a new identity adapter
func NewIdentityAdapter(client *postgres.Client) repositories.IdentityRepository {
	return &IdentityAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create registers an identity
func (a *IdentityAdapter) Create(ctx context.Context, identity *entities.Identity) error {
	record := goqu.Record{
		"id":           identity.ID,
		"display_name": identity.DisplayName,
		"email":        sql.NullString{String: identity.Email, Valid: identity.Email != ""},
		"role":         identity.Role,
		"created_at":   identity.CreatedAt,
	}

	query, args, err := a.db.Insert("identities").Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError(fmt.Sprintf("identity %s already registered", identity.ID))
		}
		return apperrors.NewInternalError("failed to create identity", err)
	}
	return nil
}

// GetByID retrieves an identity by ID
func (a *IdentityAdapter) GetByID(ctx context.Context, id string) (*entities.Identity, error) {
	query, args, err := a.db.From("identities").
		Select("id", "display_name", "email", "role", "created_at").
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	identity, err := scanIdentity(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("identity with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get identity", err)
	}
	return identity, nil
}

// ListByRole retrieves identities with role ordered by display name
func (a *IdentityAdapter) ListByRole(ctx context.Context, role entities.Role) ([]*entities.Identity, error) {
	query, args, err := a.db.From("identities").
		Select("id", "display_name", "email", "role", "created_at").
		Where(goqu.Ex{"role": string(role)}).
		Order(goqu.C("display_name").Asc(), goqu.C("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list identities", err)
	}
	defer rows.Close()

	identities := make([]*entities.Identity, 0)
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan identity", err)
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

func scanIdentity(row rowScanner) (*entities.Identity, error) {
	identity := &entities.Identity{}
	var email sql.NullString
	if err := row.Scan(&identity.ID, &identity.DisplayName, &email, &identity.Role, &identity.CreatedAt); err != nil {
		return nil, err
	}
	identity.Email = email.String
	return identity, nil
}

// DeviceTokenAdapter implements the DeviceTokenRepository interface
type DeviceTokenAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewDeviceTokenAdapter creates a new device token adapter
func NewDeviceTokenAdapter(client *postgres.Client) repositories.DeviceTokenRepository {
	return &DeviceTokenAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Register stores a token, ignoring duplicates
func (a *DeviceTokenAdapter) Register(ctx context.Context, token *entities.DeviceToken) error {
	query, args, err := a.db.Insert("device_tokens").
		Rows(goqu.Record{
			"identity_id": token.IdentityID,
			"token":       token.Token,
			"channel":     token.Channel,
			"created_at":  token.CreatedAt,
		}).
		OnConflict(goqu.DoNothing()).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to register device token", err)
	}
	return nil
}

// ListByIdentity retrieves tokens for an identity
func (a *DeviceTokenAdapter) ListByIdentity(ctx context.Context, identityID string) ([]*entities.DeviceToken, error) {
	query, args, err := a.db.From("device_tokens").
		Select("identity_id", "token", "channel", "created_at").
		Where(goqu.Ex{"identity_id": identityID}).
		Order(goqu.C("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	var tokens []*entities.DeviceToken
	if err := a.client.DBX().SelectContext(ctx, &tokens, query, args...); err != nil {
		return nil, apperrors.NewInternalError("failed to list device tokens", err)
	}
	return tokens, nil
}
