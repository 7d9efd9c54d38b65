package services

import (
	"context"
	"sync"
	"time"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
	"github.com/zatekoja/dermascan/internal/domain/visibility"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// SessionStore holds active patient selections per clinician session.
// Selections are never persisted and are dropped on logout.
type SessionStore struct {
	identities repositories.IdentityRepository
	mu         sync.RWMutex
	selections map[string]*entities.ActivePatientSelection
	observers  []func(sessionID string)
	now        func() time.Time
}

// OnChange registers fn to run after a session's selection changes or the
// session ends. Views opened under the old selection are stale by then.
func (s *SessionStore) OnChange(fn func(sessionID string)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *SessionStore) changed(sessionID string) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(sessionID)
	}
}

// NewSessionStore creates an empty session store
func NewSessionStore(identities repositories.IdentityRepository) *SessionStore {
	return &SessionStore{
		identities: identities,
		selections: make(map[string]*entities.ActivePatientSelection),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Select focuses a clinician session on one patient
func (s *SessionStore) Select(ctx context.Context, sessionID string, principal entities.Principal, patientID string) (*entities.ActivePatientSelection, error) {
	clinician, ok := principal.(*entities.Clinician)
	if !ok {
		return nil, apperrors.NewForbiddenError("only clinicians select an active patient")
	}
	if sessionID == "" {
		return nil, apperrors.NewValidationError("session is required")
	}
	if patientID == "" {
		return nil, apperrors.NewValidationError("patientId is required")
	}

	patient, err := s.identities.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if patient.Role != entities.RolePatient {
		return nil, apperrors.NewNotFoundError("patient not found")
	}

	sel := &entities.ActivePatientSelection{
		SessionID:   sessionID,
		ClinicianID: clinician.ID,
		PatientID:   patient.ID,
		SelectedAt:  s.now(),
	}
	s.mu.Lock()
	prev := s.selections[sessionID]
	s.selections[sessionID] = sel
	s.mu.Unlock()
	if prev == nil || prev.PatientID != sel.PatientID || prev.ClinicianID != sel.ClinicianID {
		s.changed(sessionID)
	}

	cp := *sel
	return &cp, nil
}

// Clear returns the session to the worklist view
func (s *SessionStore) Clear(sessionID string) {
	s.mu.Lock()
	_, had := s.selections[sessionID]
	delete(s.selections, sessionID)
	s.mu.Unlock()
	if had {
		s.changed(sessionID)
	}
}

// Get returns the session's selection if it belongs to clinicianID
func (s *SessionStore) Get(sessionID, clinicianID string) *entities.ActivePatientSelection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.selections[sessionID]
	if !ok || sel.ClinicianID != clinicianID {
		return nil
	}
	cp := *sel
	return &cp
}

// Logout drops all session-scoped state, including views on a worklist
func (s *SessionStore) Logout(sessionID string) {
	s.mu.Lock()
	delete(s.selections, sessionID)
	s.mu.Unlock()
	s.changed(sessionID)
}

// Viewer builds the visibility context for a request
func (s *SessionStore) Viewer(sessionID string, principal entities.Principal) visibility.Viewer {
	var sel *entities.ActivePatientSelection
	if principal != nil {
		sel = s.Get(sessionID, principal.Profile().ID)
	}
	return visibility.NewViewer(principal, sel)
}
