package entities

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// ScanStatus represents the review state of a scan record
type ScanStatus string

const (
	StatusAwaitingAnalysis ScanStatus = "awaiting_analysis"
	StatusPending          ScanStatus = "pending"
	StatusReviewed         ScanStatus = "reviewed"
	StatusFlaggedUrgent    ScanStatus = "flagged_urgent"
)

// Valid reports whether s is a known status
func (s ScanStatus) Valid() bool {
	switch s {
	case StatusAwaitingAnalysis, StatusPending, StatusReviewed, StatusFlaggedUrgent:
		return true
	}
	return false
}

// Unresolved reports whether the status belongs on the triage queue
func (s ScanStatus) Unresolved() bool {
	return s == StatusAwaitingAnalysis || s == StatusPending
}

// Severity grades a classification
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
)

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityModerate || s == SeverityHigh
}

// LabelScore is a single label returned by the labeling collaborator
type LabelScore struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// AutomatedResult is the classification produced by the analysis pipeline.
// It is written once and never mutated.
type AutomatedResult struct {
	Label      string       `json:"label"`
	Confidence float64      `json:"confidence"`
	Severity   Severity     `json:"severity"`
	Narrative  string       `json:"narrative"`
	Malignant  bool         `json:"malignant"`
	Labels     []LabelScore `json:"labels,omitempty"`
	AnalyzedAt time.Time    `json:"analyzedAt"`
}

// Validate checks the result before it is attached
func (r *AutomatedResult) Validate() error {
	if r == nil {
		return apperrors.NewValidationError("automated result is required")
	}
	if strings.TrimSpace(r.Label) == "" {
		return apperrors.NewValidationError("automated result label is required")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return apperrors.NewValidationError(fmt.Sprintf("confidence %.3f outside [0,1]", r.Confidence))
	}
	if !r.Severity.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown severity %q", r.Severity))
	}
	return nil
}

// Correction is a clinician override of the automated result
type Correction struct {
	Label       string    `json:"label"`
	Severity    Severity  `json:"severity"`
	Narrative   string    `json:"narrative"`
	CorrectedAt time.Time `json:"correctedAt"`
	CorrectedBy string    `json:"correctedBy"`
}

// Validate checks the clinician supplied fields
func (c *Correction) Validate() error {
	if c == nil {
		return apperrors.NewValidationError("correction is required")
	}
	if strings.TrimSpace(c.Label) == "" {
		return apperrors.NewValidationError("correction label is required")
	}
	if !c.Severity.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown severity %q", c.Severity))
	}
	return nil
}

// ResultSource tells a viewer where the effective result came from
type ResultSource string

const (
	SourceAutomated  ResultSource = "automated"
	SourceCorrection ResultSource = "correction"
)

// EffectiveResult is what a viewer sees for a record
type EffectiveResult struct {
	Source     ResultSource `json:"source"`
	Label      string       `json:"label"`
	Severity   Severity     `json:"severity"`
	Narrative  string       `json:"narrative"`
	Confidence *float64     `json:"confidence,omitempty"`
}

// ScanRecord is the authoritative, versioned record of one scan
type ScanRecord struct {
	ID              string           `json:"id" db:"id"`
	OwnerID         string           `json:"ownerId" db:"owner_id"`
	ImageRef        string           `json:"imageRef" db:"image_ref"`
	CreatedAt       time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time        `json:"updatedAt" db:"updated_at"`
	AutomatedResult *AutomatedResult `json:"automatedResult,omitempty" db:"automated_result"`
	Correction      *Correction      `json:"correction,omitempty" db:"correction"`
	Status          ScanStatus       `json:"status" db:"status"`
	Notes           string           `json:"notes" db:"notes"`
	Version         int64            `json:"version" db:"version"`
}

// IsCorrected reports whether a clinician has overridden the automated result
func (r *ScanRecord) IsCorrected() bool {
	return r.Correction != nil
}

// EffectiveResult returns the correction if present, else the automated result.
// It returns nil while the record awaits analysis and is uncorrected.
func (r *ScanRecord) EffectiveResult() *EffectiveResult {
	if c := r.Correction; c != nil {
		return &EffectiveResult{
			Source:    SourceCorrection,
			Label:     c.Label,
			Severity:  c.Severity,
			Narrative: c.Narrative,
		}
	}
	if a := r.AutomatedResult; a != nil {
		conf := a.Confidence
		return &EffectiveResult{
			Source:     SourceAutomated,
			Label:      a.Label,
			Severity:   a.Severity,
			Narrative:  a.Narrative,
			Confidence: &conf,
		}
	}
	return nil
}

// Clone returns a deep copy so callers never share sub-objects with the store
func (r *ScanRecord) Clone() *ScanRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.AutomatedResult != nil {
		a := *r.AutomatedResult
		a.Labels = append([]LabelScore(nil), r.AutomatedResult.Labels...)
		out.AutomatedResult = &a
	}
	if r.Correction != nil {
		c := *r.Correction
		out.Correction = &c
	}
	return &out
}

// ScanView is the wire shape served to viewers: the record plus its effective result
type ScanView struct {
	*ScanRecord
	Effective   *EffectiveResult `json:"effectiveResult,omitempty"`
	IsCorrected bool             `json:"isCorrected"`
}

// View builds the viewer-facing projection of r
func (r *ScanRecord) View() ScanView {
	return ScanView{ScanRecord: r, Effective: r.EffectiveResult(), IsCorrected: r.IsCorrected()}
}

// ScanStats summarizes a viewer's visible records for the clinician dashboard
type ScanStats struct {
	Total            int `json:"total"`
	AwaitingAnalysis int `json:"awaitingAnalysis"`
	Pending          int `json:"pending"`
	Reviewed         int `json:"reviewed"`
	FlaggedUrgent    int `json:"flaggedUrgent"`
	Patients         int `json:"patients"`
}

// Add counts one record
func (s *ScanStats) Add(r *ScanRecord) {
	s.Total++
	switch r.Status {
	case StatusAwaitingAnalysis:
		s.AwaitingAnalysis++
	case StatusPending:
		s.Pending++
	case StatusReviewed:
		s.Reviewed++
	case StatusFlaggedUrgent:
		s.FlaggedUrgent++
	}
}
