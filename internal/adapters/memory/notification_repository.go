package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// NotificationRepository keeps the notification audit log in memory
type NotificationRepository struct {
	mu      sync.RWMutex
	records map[string]*entities.NotificationRecord
	byDedup map[string]string
}

// NewNotificationRepository creates an empty repository
func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{
		records: map[string]*entities.NotificationRecord{},
		byDedup: map[string]string{},
	}
}

func (r *NotificationRepository) Create(_ context.Context, record *entities.NotificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.DedupKey != "" {
		if _, ok := r.byDedup[record.DedupKey]; ok {
			return apperrors.NewConflictError("notification already recorded for " + record.DedupKey)
		}
		r.byDedup[record.DedupKey] = record.ID
	}
	cp := *record
	r.records[record.ID] = &cp
	return nil
}

func (r *NotificationRepository) UpdateDelivery(_ context.Context, id string, delivered bool, attempts int, lastError *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("notification %s not found", id))
	}
	rec.Delivered = delivered
	rec.Attempts = attempts
	rec.LastError = lastError
	if delivered {
		now := time.Now().UTC()
		rec.DeliveredAt = &now
	}
	return nil
}

func (r *NotificationRepository) ListByRecipient(_ context.Context, recipientID string, limit int) ([]*entities.NotificationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entities.NotificationRecord, 0)
	for _, rec := range r.records {
		if rec.RecipientID == recipientID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, 0, limit), nil
}

func (r *NotificationRepository) MarkRead(_ context.Context, recipientID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.RecipientID != recipientID {
		return apperrors.NewNotFoundError(fmt.Sprintf("notification %s not found", id))
	}
	rec.Read = true
	return nil
}

// All returns every stored record; used by tests and diagnostics
func (r *NotificationRepository) All() []*entities.NotificationRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entities.NotificationRecord, 0, len(r.records))
	for _, rec := range r.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
