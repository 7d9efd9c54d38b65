package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

func TestScanRecord_EffectiveResult(t *testing.T) {
	rec := &ScanRecord{ID: "s-1", OwnerID: "p-1", Status: StatusAwaitingAnalysis}
	assert.Nil(t, rec.EffectiveResult())

	rec.AutomatedResult = &AutomatedResult{Label: "A", Confidence: 0.8, Severity: SeverityLow}
	eff := rec.EffectiveResult()
	require.NotNil(t, eff)
	assert.Equal(t, SourceAutomated, eff.Source)
	assert.Equal(t, "A", eff.Label)
	require.NotNil(t, eff.Confidence)
	assert.InDelta(t, 0.8, *eff.Confidence, 1e-9)

	rec.Correction = &Correction{Label: "B", Severity: SeverityHigh, CorrectedBy: "c-1"}
	eff = rec.EffectiveResult()
	assert.Equal(t, SourceCorrection, eff.Source)
	assert.Equal(t, "B", eff.Label)
	assert.Nil(t, eff.Confidence)
	assert.Equal(t, "A", rec.AutomatedResult.Label)
}

func TestScanRecord_CloneIsDeep(t *testing.T) {
	rec := &ScanRecord{
		ID:              "s-1",
		AutomatedResult: &AutomatedResult{Label: "A", Labels: []LabelScore{{Label: "mole", Confidence: 0.9}}},
		Correction:      &Correction{Label: "B"},
	}
	cp := rec.Clone()
	cp.AutomatedResult.Labels[0].Label = "changed"
	cp.Correction.Label = "changed"

	assert.Equal(t, "mole", rec.AutomatedResult.Labels[0].Label)
	assert.Equal(t, "B", rec.Correction.Label)
	assert.Nil(t, (*ScanRecord)(nil).Clone())
}

func TestAutomatedResult_Validate(t *testing.T) {
	tests := []struct {
		name    string
		result  *AutomatedResult
		wantErr bool
	}{
		{name: "valid", result: &AutomatedResult{Label: "A", Confidence: 0.5, Severity: SeverityLow}},
		{name: "nil", result: nil, wantErr: true},
		{name: "empty label", result: &AutomatedResult{Confidence: 0.5, Severity: SeverityLow}, wantErr: true},
		{name: "confidence above one", result: &AutomatedResult{Label: "A", Confidence: 1.2, Severity: SeverityLow}, wantErr: true},
		{name: "unknown severity", result: &AutomatedResult{Label: "A", Confidence: 0.2, Severity: "severe"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate()
			if tt.wantErr {
				assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAsPrincipal(t *testing.T) {
	p, err := AsPrincipal(&Identity{ID: "p-1", Role: RolePatient})
	require.NoError(t, err)
	assert.IsType(t, &Patient{}, p)
	assert.False(t, IsClinician(p))

	c, err := AsPrincipal(&Identity{ID: "c-1", Role: RoleClinician})
	require.NoError(t, err)
	assert.True(t, IsClinician(c))
	assert.Equal(t, "c-1", c.Profile().ID)

	_, err = AsPrincipal(&Identity{ID: "x", Role: "admin"})
	assert.Error(t, err)
}

func TestChannelForToken(t *testing.T) {
	assert.Equal(t, ChannelMobilePush, ChannelForToken("ExponentPushToken[abc]"))
	assert.Equal(t, ChannelMobilePush, ChannelForToken("ExpoPushToken[abc]"))
	assert.Equal(t, ChannelInApp, ChannelForToken("web-session-123"))
}

func TestNewScanEvent(t *testing.T) {
	now := time.Now()
	rec := &ScanRecord{ID: "s-1", OwnerID: "p-1", Status: StatusReviewed, UpdatedAt: now, Version: 3}
	ev := NewScanEvent(ScanEventCorrected, StatusPending, rec, "")

	assert.Equal(t, SystemActor, ev.ActorID)
	assert.Equal(t, StatusPending, ev.From)
	assert.Equal(t, StatusReviewed, ev.To)
	assert.Equal(t, int64(3), ev.Revision)
	assert.True(t, ev.IsTransition())
	assert.NotSame(t, rec, ev.Record)

	ann := NewScanEvent(ScanEventAnnotated, StatusReviewed, rec, "c-1")
	assert.False(t, ann.IsTransition())
}
