// Package memory provides in-process repositories for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

type scanEntry struct {
	mu     sync.Mutex
	record *entities.ScanRecord
}

// ScanRepository keeps records in a map with one lock per record
type ScanRepository struct {
	mu      sync.RWMutex
	entries map[string]*scanEntry
	now     func() time.Time
}

// NewScanRepository creates an empty repository
func NewScanRepository() *ScanRepository {
	return &ScanRepository{
		entries: map[string]*scanEntry{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new record at version 1
func (r *ScanRepository) Create(_ context.Context, record *entities.ScanRecord) error {
	if record.ID == "" {
		return apperrors.NewValidationError("scan id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[record.ID]; ok {
		return apperrors.NewConflictError(fmt.Sprintf("scan %s already exists", record.ID))
	}
	record.Version = 1
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	r.entries[record.ID] = &scanEntry{record: record.Clone()}
	return nil
}

// GetByID retrieves a record by ID
func (r *ScanRepository) GetByID(_ context.Context, id string) (*entities.ScanRecord, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record.Clone(), nil
}

// Update applies mutate to a copy under the record's lock and commits it wholesale
func (r *ScanRepository) Update(_ context.Context, id string, mutate repositories.ScanMutator) (*entities.ScanRecord, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.record.Clone()
	if err := mutate(next); err != nil {
		if errors.Is(err, repositories.ErrUnchanged) {
			return e.record.Clone(), err
		}
		return nil, err
	}
	next.ID = e.record.ID
	next.OwnerID = e.record.OwnerID
	next.ImageRef = e.record.ImageRef
	next.CreatedAt = e.record.CreatedAt
	next.Version = e.record.Version + 1
	next.UpdatedAt = r.now()
	e.record = next
	return next.Clone(), nil
}

// List retrieves matching records ordered by creation time
func (r *ScanRepository) List(_ context.Context, filter repositories.ScanFilter) ([]*entities.ScanRecord, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	entries := make([]*scanEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]*entities.ScanRecord, 0)
	for _, e := range entries {
		e.mu.Lock()
		if filter.Matches(e.record) {
			out = append(out, e.record.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func (r *ScanRepository) entry(id string) (*scanEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("scan %s not found", id))
	}
	return e, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
