package repositories

import (
	"context"
	"errors"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// ErrUnchanged is returned by an Update mutator to abandon the write without error
var ErrUnchanged = errors.New("record unchanged")

// ScanMutator edits a private copy of a record inside Update. Returning an
// error discards the copy.
type ScanMutator func(record *entities.ScanRecord) error

// ScanFilter scopes a record listing. Listings must be scoped by owner or by
// status; there is no unscoped list.
type ScanFilter struct {
	OwnerID  string
	Statuses []entities.ScanStatus
	// Unanalyzed keeps only records without an automated result
	Unanalyzed bool
	Limit      int
	Offset     int
}

// Validate rejects unscoped filters
func (f ScanFilter) Validate() error {
	if f.OwnerID == "" && len(f.Statuses) == 0 && !f.Unanalyzed {
		return apperrors.NewValidationError("scan listing must be scoped by owner, status or analysis state")
	}
	if f.Limit < 0 || f.Offset < 0 {
		return apperrors.NewValidationError("limit and offset must not be negative")
	}
	return nil
}

// Matches applies the filter to a single record
func (f ScanFilter) Matches(r *entities.ScanRecord) bool {
	if f.OwnerID != "" && r.OwnerID != f.OwnerID {
		return false
	}
	if f.Unanalyzed && r.AutomatedResult != nil {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// ScanRepository defines the interface for scan record persistence
type ScanRepository interface {
	// Create stores a new record at version 1
	Create(ctx context.Context, record *entities.ScanRecord) error

	// GetByID retrieves a record by ID
	GetByID(ctx context.Context, id string) (*entities.ScanRecord, error)

	// Update applies mutate atomically to the committed record, bumps the
	// version and returns the new committed state. Concurrent updates of the
	// same record are serialized.
	Update(ctx context.Context, id string, mutate ScanMutator) (*entities.ScanRecord, error)

	// List retrieves records matching filter ordered by creation time
	List(ctx context.Context, filter ScanFilter) ([]*entities.ScanRecord, error)
}
