package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

func newRecord(id, owner string, status entities.ScanStatus, created time.Time) *entities.ScanRecord {
	return &entities.ScanRecord{ID: id, OwnerID: owner, ImageRef: "mem://" + id, Status: status, CreatedAt: created}
}

func TestScanRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewScanRepository()
	require.NoError(t, repo.Create(ctx, newRecord("s-1", "p-1", entities.StatusAwaitingAnalysis, time.Now())))

	got, err := repo.GetByID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	err = repo.Create(ctx, newRecord("s-1", "p-1", entities.StatusAwaitingAnalysis, time.Now()))
	assert.True(t, apperrors.IsConflict(err))

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestScanRepository_UpdateKeepsImmutableFields(t *testing.T) {
	ctx := context.Background()
	repo := NewScanRepository()
	require.NoError(t, repo.Create(ctx, newRecord("s-1", "p-1", entities.StatusAwaitingAnalysis, time.Now())))

	updated, err := repo.Update(ctx, "s-1", func(r *entities.ScanRecord) error {
		r.OwnerID = "intruder"
		r.ImageRef = "other"
		r.Status = entities.StatusReviewed
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "p-1", updated.OwnerID)
	assert.Equal(t, "mem://s-1", updated.ImageRef)
	assert.Equal(t, entities.StatusReviewed, updated.Status)
	assert.Equal(t, int64(2), updated.Version)
}

func TestScanRepository_UpdateErrorDiscardsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewScanRepository()
	require.NoError(t, repo.Create(ctx, newRecord("s-1", "p-1", entities.StatusAwaitingAnalysis, time.Now())))

	_, err := repo.Update(ctx, "s-1", func(r *entities.ScanRecord) error {
		r.Notes = "half written"
		return apperrors.NewValidationError("nope")
	})
	require.Error(t, err)

	current, _, _ := repoGet(repo, "s-1")
	assert.Empty(t, current.Notes)
	assert.Equal(t, int64(1), current.Version)

	unchanged, err := repo.Update(ctx, "s-1", func(r *entities.ScanRecord) error {
		return repositories.ErrUnchanged
	})
	assert.ErrorIs(t, err, repositories.ErrUnchanged)
	assert.Equal(t, int64(1), unchanged.Version)
}

func repoGet(repo *ScanRepository, id string) (*entities.ScanRecord, bool, error) {
	r, err := repo.GetByID(context.Background(), id)
	return r, err == nil, err
}

func TestScanRepository_ConcurrentCorrectionsDoNotInterleave(t *testing.T) {
	ctx := context.Background()
	repo := NewScanRepository()
	require.NoError(t, repo.Create(ctx, newRecord("s-1", "p-1", entities.StatusReviewed, time.Now())))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		label := "X"
		if i%2 == 1 {
			label = "Y"
		}
		wg.Add(1)
		go func(label string) {
			defer wg.Done()
			_, err := repo.Update(ctx, "s-1", func(r *entities.ScanRecord) error {
				r.Correction = &entities.Correction{Label: label, Severity: entities.SeverityLow, Narrative: label + "-narrative", CorrectedBy: label}
				return nil
			})
			assert.NoError(t, err)
		}(label)
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(51), got.Version)
	assert.Equal(t, got.Correction.Label+"-narrative", got.Correction.Narrative)
	assert.Equal(t, got.Correction.Label, got.Correction.CorrectedBy)
}

func TestScanRepository_ListScopedAndOrdered(t *testing.T) {
	ctx := context.Background()
	repo := NewScanRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, newRecord("b", "p-1", entities.StatusReviewed, base.Add(2*time.Minute))))
	require.NoError(t, repo.Create(ctx, newRecord("a", "p-1", entities.StatusPending, base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, newRecord("c", "p-2", entities.StatusAwaitingAnalysis, base)))

	own, err := repo.List(ctx, repositories.ScanFilter{OwnerID: "p-1"})
	require.NoError(t, err)
	require.Len(t, own, 2)
	assert.Equal(t, "a", own[0].ID)
	assert.Equal(t, "b", own[1].ID)

	queue, err := repo.List(ctx, repositories.ScanFilter{Statuses: []entities.ScanStatus{entities.StatusPending, entities.StatusAwaitingAnalysis}})
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "c", queue[0].ID)

	limited, err := repo.List(ctx, repositories.ScanFilter{OwnerID: "p-1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "b", limited[0].ID)

	_, err = repo.List(ctx, repositories.ScanFilter{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestScanRepository_ListUnanalyzed(t *testing.T) {
	ctx := context.Background()
	repo := NewScanRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	analyzed := newRecord("a", "p-1", entities.StatusReviewed, base)
	analyzed.AutomatedResult = &entities.AutomatedResult{Label: "mole"}
	require.NoError(t, repo.Create(ctx, analyzed))
	require.NoError(t, repo.Create(ctx, newRecord("b", "p-1", entities.StatusReviewed, base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, newRecord("c", "p-2", entities.StatusAwaitingAnalysis, base.Add(2*time.Minute))))

	got, err := repo.List(ctx, repositories.ScanFilter{Unanalyzed: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}
