package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/dermascan/internal/adapters/providers/labeling"
	"github.com/zatekoja/dermascan/internal/domain/entities"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

func newPipeline(f *fixture, classifier *labeling.StaticClassifier) *AnalysisPipeline {
	return NewAnalysisPipeline(AnalysisConfig{Workers: 2, Queue: 8, Timeout: time.Second},
		f.svc, f.scans, f.blobs, classifier, labeling.Interpret, nil)
}

func TestAnalysisPipeline_ProcessAttachesResult(t *testing.T) {
	f := newFixture(t, false)
	classifier := labeling.NewStaticClassifier()
	p := newPipeline(f, classifier)
	rec := f.upload(t, f.patient)
	classifier.Set(rec.ImageRef,
		entities.LabelScore{Label: "Skin", Confidence: 0.95},
		entities.LabelScore{Label: "Melanoma", Confidence: 0.8},
	)

	require.NoError(t, p.Process(context.Background(), rec.ID))

	stored, err := f.scans.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AutomatedResult)
	assert.Equal(t, labeling.LabelSuspiciousLesion, stored.AutomatedResult.Label)
	assert.True(t, stored.AutomatedResult.Malignant)
	assert.Equal(t, entities.StatusReviewed, stored.Status)

	err = p.Process(context.Background(), rec.ID)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeAlreadyAnalyzed))
}

func TestAnalysisPipeline_FailureLeavesRecordAwaiting(t *testing.T) {
	f := newFixture(t, false)
	classifier := labeling.NewStaticClassifier()
	p := newPipeline(f, classifier)
	rec := f.upload(t, f.patient)
	classifier.Fail(rec.ImageRef, errors.New("quota exceeded"))

	err := p.Process(context.Background(), rec.ID)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUpstream))

	stored, err := f.scans.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusAwaitingAnalysis, stored.Status)
	assert.Nil(t, stored.AutomatedResult)
}

func TestAnalysisPipeline_WorkersDrainQueue(t *testing.T) {
	f := newFixture(t, false)
	p := newPipeline(f, labeling.NewStaticClassifier())

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, f.upload(t, f.patient).ID)
	}

	assert.Eventually(t, func() bool {
		for _, id := range ids {
			rec, err := f.scans.GetByID(context.Background(), id)
			if err != nil || rec.Status != entities.StatusReviewed {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	p.Wait()
}

func TestAnalysisPipeline_RecoverRequeuesStuckRecords(t *testing.T) {
	f := newFixture(t, false)
	p := newPipeline(f, labeling.NewStaticClassifier())
	// Drop the automatic enqueue so the records look stuck.
	f.svc.SetAnalysisQueue(nil)

	stuck := f.upload(t, f.patient)
	done := f.analyzed(t, f.patient, "A")

	p.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	queued, err := p.Recover(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	select {
	case id := <-p.queue:
		assert.Equal(t, stuck.ID, id)
		assert.NotEqual(t, done.ID, id)
	default:
		t.Fatal("nothing queued")
	}

	queued, err = p.Recover(context.Background(), 2*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestAnalysisPipeline_RecoverIncludesCorrectedUnanalyzedRecords(t *testing.T) {
	f := newFixture(t, false)
	classifier := labeling.NewStaticClassifier()
	p := newPipeline(f, classifier)
	f.svc.SetAnalysisQueue(nil)

	rec := f.upload(t, f.patient)
	corrected, err := f.svc.Correct(context.Background(), f.focused(f.patient.ID), rec.ID, CorrectionInput{
		Label: "Seborrheic Keratosis", Severity: entities.SeverityLow, Narrative: "seen in clinic",
	})
	require.NoError(t, err)
	require.Equal(t, entities.StatusReviewed, corrected.Status)
	require.Nil(t, corrected.AutomatedResult)

	p.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	queued, err := p.Recover(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, queued)
	assert.Equal(t, rec.ID, <-p.queue)

	classifier.Set(rec.ImageRef, entities.LabelScore{Label: "mole", Confidence: 0.9})
	require.NoError(t, p.Process(context.Background(), rec.ID))
	got, err := f.scans.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.AutomatedResult)
	assert.Equal(t, entities.StatusReviewed, got.Status)
	assert.Equal(t, "Seborrheic Keratosis", got.EffectiveResult().Label)
}
