package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
	"github.com/zatekoja/dermascan/internal/domain/review"
	"github.com/zatekoja/dermascan/internal/domain/visibility"
	"github.com/zatekoja/dermascan/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// AnalysisQueue accepts records for asynchronous classification
type AnalysisQueue interface {
	Enqueue(recordID string) bool
}

// ScanConfig holds scan service settings
type ScanConfig struct {
	RequireSignoff bool
	StoragePrefix  string
	MaxUploadBytes int64
}

// CorrectionInput is the clinician supplied part of a correction
type CorrectionInput struct {
	Label     string            `json:"label"`
	Severity  entities.Severity `json:"severity"`
	Narrative string            `json:"narrative"`
}

// TimelineEntry is one point in a patient's chronological history
type TimelineEntry struct {
	RecordID    string                    `json:"recordId"`
	CreatedAt   time.Time                 `json:"createdAt"`
	Status      entities.ScanStatus       `json:"status"`
	Effective   *entities.EffectiveResult `json:"effectiveResult,omitempty"`
	IsCorrected bool                      `json:"isCorrected"`
}

// ScanService owns the scan record lifecycle. Every mutation is applied
// through the review state machine, committed by the store and then emitted
// on the live bus and, for transitions, the durable transition log.
type ScanService struct {
	scans       repositories.ScanRepository
	identities  repositories.IdentityRepository
	blobs       providers.BlobStore
	machine     *review.Machine
	live        providers.LiveBus
	transitions providers.TransitionLog
	metrics     *observability.Metrics
	cfg         ScanConfig
	locks       *keyedMutex
	now         func() time.Time

	mu          sync.Mutex
	lastCreated time.Time
	analysis    AnalysisQueue
}

// NewScanService creates a new scan service
func NewScanService(
	scans repositories.ScanRepository,
	identities repositories.IdentityRepository,
	blobs providers.BlobStore,
	live providers.LiveBus,
	transitions providers.TransitionLog,
	metrics *observability.Metrics,
	cfg ScanConfig,
) *ScanService {
	if cfg.StoragePrefix == "" {
		cfg.StoragePrefix = "scans"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &ScanService{
		scans:       scans,
		identities:  identities,
		blobs:       blobs,
		machine:     review.NewMachine(cfg.RequireSignoff),
		live:        live,
		transitions: transitions,
		metrics:     metrics,
		cfg:         cfg,
		locks:       newKeyedMutex(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetAnalysisQueue wires the pipeline that classifies new records
func (s *ScanService) SetAnalysisQueue(q AnalysisQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysis = q
}

// ScanImageKey builds the object key for a scan image
func ScanImageKey(prefix, ownerID, scanID string, at time.Time) string {
	return path.Join(prefix, ownerID, fmt.Sprintf("%d_%s", at.UnixNano(), scanID))
}

// Upload stores the image and creates a record for ownerID. An empty ownerID
// means the patient themself or the clinician's active selection.
func (s *ScanService) Upload(ctx context.Context, viewer visibility.Viewer, ownerID string, data []byte, contentType string) (*entities.ScanRecord, error) {
	ctx, span := observability.StartSpan(ctx, "ScanService.Upload")
	defer span.End()

	if ownerID == "" {
		switch p := viewer.Principal.(type) {
		case *entities.Patient:
			ownerID = p.ID
		case *entities.Clinician:
			if viewer.Selection != nil {
				ownerID = viewer.Selection.PatientID
			}
		}
	}
	if ownerID == "" {
		return nil, apperrors.NewValidationError("ownerId is required without an active patient selection")
	}
	if !viewer.CanActFor(ownerID) {
		return nil, apperrors.NewForbiddenError("cannot upload scans for another patient")
	}
	if len(data) == 0 {
		return nil, apperrors.NewValidationError("image is empty")
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, apperrors.NewValidationError(fmt.Sprintf("image exceeds %d bytes", s.cfg.MaxUploadBytes))
	}
	contentType = imageContentType(contentType, data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported content type %q", contentType))
	}
	if err := s.requirePatient(ctx, ownerID); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	imageRef, err := s.blobs.Put(ctx, ScanImageKey(s.cfg.StoragePrefix, ownerID, id, s.now()), data, contentType)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return s.create(ctx, id, ownerID, imageRef)
}

// Create registers a record for an image that is already stored
func (s *ScanService) Create(ctx context.Context, ownerID, imageRef string) (*entities.ScanRecord, error) {
	ctx, span := observability.StartSpan(ctx, "ScanService.Create")
	defer span.End()

	if err := s.requirePatient(ctx, ownerID); err != nil {
		return nil, err
	}
	exists, err := s.blobs.Exists(ctx, imageRef)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.NewValidationError("imageRef does not refer to a stored image")
	}
	return s.create(ctx, uuid.New().String(), ownerID, imageRef)
}

func (s *ScanService) create(ctx context.Context, id, ownerID, imageRef string) (*entities.ScanRecord, error) {
	createdAt := s.nextCreatedAt()
	record := &entities.ScanRecord{
		ID:        id,
		OwnerID:   ownerID,
		ImageRef:  imageRef,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		Status:    entities.StatusAwaitingAnalysis,
	}

	unlock := s.locks.Lock(id)
	if err := s.scans.Create(ctx, record); err != nil {
		unlock()
		return nil, err
	}
	s.emit(ctx, entities.NewScanEvent(entities.ScanEventCreated, "", record, ""))
	unlock()

	s.mu.Lock()
	q := s.analysis
	s.mu.Unlock()
	if q != nil && !q.Enqueue(record.ID) {
		observability.LoggerFromContext(ctx).Warn().Str("record_id", record.ID).Msg("Analysis queue full, record left awaiting analysis")
	}
	return record.Clone(), nil
}

// AttachAutomatedResult stores the pipeline's classification. A second
// result for the same record fails with AlreadyAnalyzed.
func (s *ScanService) AttachAutomatedResult(ctx context.Context, recordID string, result *entities.AutomatedResult) (*entities.ScanRecord, error) {
	if err := result.Validate(); err != nil {
		return nil, err
	}
	attached := *result
	attached.Labels = append([]entities.LabelScore(nil), result.Labels...)
	if attached.AnalyzedAt.IsZero() {
		attached.AnalyzedAt = s.now()
	}
	return s.apply(ctx, review.ActionAttachAnalysis, nil, recordID, func(r *entities.ScanRecord) {
		r.AutomatedResult = &attached
	})
}

// Correct replaces the record's correction wholesale and marks it reviewed
func (s *ScanService) Correct(ctx context.Context, viewer visibility.Viewer, recordID string, input CorrectionInput) (*entities.ScanRecord, error) {
	if err := review.Authorize(viewer.Principal, review.ActionCorrect); err != nil {
		return nil, err
	}
	correction := &entities.Correction{
		Label:       strings.TrimSpace(input.Label),
		Severity:    input.Severity,
		Narrative:   input.Narrative,
		CorrectedAt: s.now(),
		CorrectedBy: viewer.Principal.Profile().ID,
	}
	if err := correction.Validate(); err != nil {
		return nil, err
	}
	return s.apply(ctx, review.ActionCorrect, &viewer, recordID, func(r *entities.ScanRecord) {
		r.Correction = correction
	})
}

// Escalate flags the record for urgent follow-up
func (s *ScanService) Escalate(ctx context.Context, viewer visibility.Viewer, recordID string) (*entities.ScanRecord, error) {
	return s.apply(ctx, review.ActionEscalate, &viewer, recordID, nil)
}

// Annotate replaces the clinician notes. Notes never change status.
func (s *ScanService) Annotate(ctx context.Context, viewer visibility.Viewer, recordID, notes string) (*entities.ScanRecord, error) {
	if len(notes) > 10000 {
		return nil, apperrors.NewValidationError("notes exceed 10000 characters")
	}
	return s.apply(ctx, review.ActionAnnotate, &viewer, recordID, func(r *entities.ScanRecord) {
		r.Notes = notes
	})
}

// apply runs one state machine action under the record's lock so events
// leave this process in commit order. A nil viewer is the system actor; any
// other viewer must see the committed record, or it is reported not found.
func (s *ScanService) apply(ctx context.Context, action review.Action, viewer *visibility.Viewer, recordID string, mutate func(*entities.ScanRecord)) (*entities.ScanRecord, error) {
	ctx, span := observability.StartSpan(ctx, "ScanService."+string(action))
	defer span.End()
	observability.SetSpanAttributes(span, attribute.String("scan.id", recordID))

	var actor entities.Principal
	if viewer != nil {
		actor = viewer.Principal
	}
	if err := review.Authorize(actor, action); err != nil {
		return nil, err
	}
	actorID := entities.SystemActor
	if actor != nil {
		actorID = actor.Profile().ID
	}

	unlock := s.locks.Lock(recordID)
	defer unlock()

	var outcome review.Outcome
	record, err := s.scans.Update(ctx, recordID, func(r *entities.ScanRecord) error {
		if viewer != nil && !viewer.Sees(r) {
			return apperrors.NewNotFoundError("scan not found")
		}
		out, err := s.machine.Next(action, r)
		if err != nil {
			return err
		}
		outcome = out
		if out.Noop {
			return repositories.ErrUnchanged
		}
		if mutate != nil {
			mutate(r)
		}
		r.Status = out.To
		return nil
	})
	if errors.Is(err, repositories.ErrUnchanged) {
		return record, nil
	}
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	s.emit(ctx, entities.NewScanEvent(outcome.Event, outcome.From, record, actorID))
	return record, nil
}

// emit publishes a committed mutation. Failures are logged and never undo
// the commit.
func (s *ScanService) emit(ctx context.Context, event *entities.ScanEvent) {
	logger := observability.EventLogger(ctx, event)
	observability.RecordTransition(ctx, s.metrics, string(event.Type))

	if s.live != nil {
		if err := s.live.Publish(ctx, event); err != nil {
			logger.Error().Err(err).Msg("Failed to publish live update")
		}
	}
	if event.IsTransition() && s.transitions != nil {
		if err := s.transitions.Append(ctx, event); err != nil {
			logger.Error().Err(err).Msg("Failed to append transition")
		}
	}

	logger.Info().
		Str("from", string(event.From)).
		Str("to", string(event.To)).
		Str("actor_id", event.ActorID).
		Msg("Scan record committed")
}

// RequestReanalysis re-enqueues a record that has no automated result yet
func (s *ScanService) RequestReanalysis(ctx context.Context, viewer visibility.Viewer, recordID string) (*entities.ScanRecord, error) {
	record, err := s.scans.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !viewer.Sees(record) {
		return nil, apperrors.NewNotFoundError("scan not found")
	}
	if record.AutomatedResult != nil {
		return nil, apperrors.NewAlreadyAnalyzedError(record.ID)
	}

	s.mu.Lock()
	q := s.analysis
	s.mu.Unlock()
	if q == nil || !q.Enqueue(record.ID) {
		return nil, apperrors.NewUpstreamError("analysis queue unavailable", nil)
	}
	observability.LoggerFromContext(ctx).Info().Str("record_id", record.ID).Msg("Re-analysis requested")
	return record, nil
}

// Get returns a record the viewer may see. Invisible records are reported
// as not found.
func (s *ScanService) Get(ctx context.Context, viewer visibility.Viewer, recordID string) (*entities.ScanRecord, error) {
	record, err := s.scans.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !viewer.Sees(record) {
		return nil, apperrors.NewNotFoundError("scan not found")
	}
	return record, nil
}

// List returns the viewer's records in creation order
func (s *ScanService) List(ctx context.Context, viewer visibility.Viewer, limit, offset int) ([]*entities.ScanRecord, error) {
	filter, ok := viewer.Scope()
	if !ok {
		return nil, apperrors.NewForbiddenError("no visible records")
	}
	filter.Limit = limit
	filter.Offset = offset

	records, err := s.scans.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	visible := records[:0]
	for _, r := range records {
		if viewer.Sees(r) {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

// Timeline returns a patient's history oldest first. Clinicians need an
// active selection of that patient.
func (s *ScanService) Timeline(ctx context.Context, viewer visibility.Viewer, ownerID string) ([]TimelineEntry, error) {
	switch p := viewer.Principal.(type) {
	case *entities.Patient:
		if ownerID != "" && ownerID != p.ID {
			return nil, apperrors.NewForbiddenError("cannot view another patient's timeline")
		}
		ownerID = p.ID
	case *entities.Clinician:
		if viewer.Selection == nil || (ownerID != "" && viewer.Selection.PatientID != ownerID) {
			return nil, apperrors.NewForbiddenError("select the patient before viewing their timeline")
		}
		ownerID = viewer.Selection.PatientID
	default:
		return nil, apperrors.NewForbiddenError("no visible records")
	}

	records, err := s.scans.List(ctx, repositories.ScanFilter{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })

	entries := make([]TimelineEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, TimelineEntry{
			RecordID:    r.ID,
			CreatedAt:   r.CreatedAt,
			Status:      r.Status,
			Effective:   r.EffectiveResult(),
			IsCorrected: r.IsCorrected(),
		})
	}
	return entries, nil
}

// Stats counts the viewer's visible records
func (s *ScanService) Stats(ctx context.Context, viewer visibility.Viewer) (*entities.ScanStats, error) {
	records, err := s.List(ctx, viewer, 0, 0)
	if err != nil {
		return nil, err
	}
	stats := &entities.ScanStats{}
	owners := make(map[string]struct{})
	for _, r := range records {
		stats.Add(r)
		owners[r.OwnerID] = struct{}{}
	}
	stats.Patients = len(owners)
	return stats, nil
}

// ImageURL returns a retrievable URL for a visible record's image
func (s *ScanService) ImageURL(ctx context.Context, viewer visibility.Viewer, recordID string) (string, error) {
	record, err := s.Get(ctx, viewer, recordID)
	if err != nil {
		return "", err
	}
	return s.blobs.URL(ctx, record.ImageRef)
}

// Image returns the stored bytes of a visible record's image
func (s *ScanService) Image(ctx context.Context, viewer visibility.Viewer, recordID string) ([]byte, string, error) {
	record, err := s.Get(ctx, viewer, recordID)
	if err != nil {
		return nil, "", err
	}
	return s.blobs.Get(ctx, record.ImageRef)
}

func (s *ScanService) requirePatient(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return apperrors.NewValidationError("ownerId is required")
	}
	owner, err := s.identities.GetByID(ctx, ownerID)
	if err != nil {
		return err
	}
	if owner.Role != entities.RolePatient {
		return apperrors.NewValidationError("scans must belong to a patient")
	}
	return nil
}

// imageContentType sniffs the bytes when the client declared no type or the
// generic octet-stream that multipart form files default to.
func imageContentType(declared string, data []byte) string {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || mediaType == "application/octet-stream" {
		return http.DetectContentType(data)
	}
	return mediaType
}

// nextCreatedAt keeps creation times strictly increasing across the process,
// which orders every owner's records without remembering each owner.
func (s *ScanService) nextCreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().Truncate(time.Microsecond)
	if !t.After(s.lastCreated) {
		t = s.lastCreated.Add(time.Microsecond)
	}
	s.lastCreated = t
	return t
}
