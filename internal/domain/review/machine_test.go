package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

func TestMachine_Next(t *testing.T) {
	analyzed := &entities.AutomatedResult{Label: "A", Confidence: 0.8, Severity: entities.SeverityLow}

	tests := []struct {
		name     string
		signoff  bool
		action   Action
		record   *entities.ScanRecord
		wantTo   entities.ScanStatus
		wantNoop bool
		wantErr  apperrors.ErrorType
	}{
		{
			name:   "analysis auto accepts",
			action: ActionAttachAnalysis,
			record: &entities.ScanRecord{Status: entities.StatusAwaitingAnalysis},
			wantTo: entities.StatusReviewed,
		},
		{
			name:    "analysis waits for sign-off",
			signoff: true,
			action:  ActionAttachAnalysis,
			record:  &entities.ScanRecord{Status: entities.StatusAwaitingAnalysis},
			wantTo:  entities.StatusPending,
		},
		{
			name:   "analysis after early correction keeps status",
			action: ActionAttachAnalysis,
			record: &entities.ScanRecord{Status: entities.StatusFlaggedUrgent, Correction: &entities.Correction{Label: "B"}},
			wantTo: entities.StatusFlaggedUrgent,
		},
		{
			name:    "second analysis rejected",
			action:  ActionAttachAnalysis,
			record:  &entities.ScanRecord{ID: "s-1", Status: entities.StatusReviewed, AutomatedResult: analyzed},
			wantErr: apperrors.ErrorTypeAlreadyAnalyzed,
		},
		{
			name:   "correct from flagged returns to reviewed",
			action: ActionCorrect,
			record: &entities.ScanRecord{Status: entities.StatusFlaggedUrgent, AutomatedResult: analyzed},
			wantTo: entities.StatusReviewed,
		},
		{
			name:   "correct before analysis",
			action: ActionCorrect,
			record: &entities.ScanRecord{Status: entities.StatusAwaitingAnalysis},
			wantTo: entities.StatusReviewed,
		},
		{
			name:   "escalate pending",
			action: ActionEscalate,
			record: &entities.ScanRecord{Status: entities.StatusPending, AutomatedResult: analyzed},
			wantTo: entities.StatusFlaggedUrgent,
		},
		{
			name:     "escalate flagged is a no-op",
			action:   ActionEscalate,
			record:   &entities.ScanRecord{Status: entities.StatusFlaggedUrgent, AutomatedResult: analyzed},
			wantTo:   entities.StatusFlaggedUrgent,
			wantNoop: true,
		},
		{
			name:    "escalate before analysis rejected",
			action:  ActionEscalate,
			record:  &entities.ScanRecord{Status: entities.StatusAwaitingAnalysis},
			wantErr: apperrors.ErrorTypeValidation,
		},
		{
			name:   "annotate keeps status",
			action: ActionAnnotate,
			record: &entities.ScanRecord{Status: entities.StatusPending},
			wantTo: entities.StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(tt.signoff)
			out, err := m.Next(tt.action, tt.record)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, apperrors.TypeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.record.Status, out.From)
			assert.Equal(t, tt.wantTo, out.To)
			assert.Equal(t, tt.wantNoop, out.Noop)
			assert.Equal(t, actionEvents[tt.action], out.Event)
		})
	}
}

func TestAuthorize(t *testing.T) {
	patient := &entities.Patient{Identity: entities.Identity{ID: "p-1", Role: entities.RolePatient}}
	clinician := &entities.Clinician{Identity: entities.Identity{ID: "c-1", Role: entities.RoleClinician}}

	assert.NoError(t, Authorize(clinician, ActionCorrect))
	assert.NoError(t, Authorize(clinician, ActionEscalate))
	assert.NoError(t, Authorize(nil, ActionAttachAnalysis))

	assert.True(t, apperrors.IsType(Authorize(patient, ActionCorrect), apperrors.ErrorTypeForbidden))
	assert.True(t, apperrors.IsType(Authorize(patient, ActionAnnotate), apperrors.ErrorTypeForbidden))
	assert.True(t, apperrors.IsType(Authorize(nil, ActionEscalate), apperrors.ErrorTypeForbidden))
	assert.True(t, apperrors.IsType(Authorize(clinician, ActionAttachAnalysis), apperrors.ErrorTypeForbidden))
}
