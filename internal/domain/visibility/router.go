// Package visibility decides which scan records a viewer may observe.
//
// A patient sees only their own records. A clinician with an active patient
// selection sees that patient's records; without one they see the triage
// queue of unresolved records across all owners.
package visibility

import (
	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
)

// Predicate reports whether a record is visible
type Predicate func(record *entities.ScanRecord) bool

// Mode names the kind of view a viewer has
type Mode string

const (
	ModeOwn      Mode = "own"
	ModeFocused  Mode = "focused"
	ModeWorklist Mode = "worklist"
	ModeNone     Mode = "none"
)

// TriageStatuses are the statuses on the clinician worklist
var TriageStatuses = []entities.ScanStatus{entities.StatusPending, entities.StatusAwaitingAnalysis}

// Viewer is a principal plus its session-scoped selection
type Viewer struct {
	Principal entities.Principal
	Selection *entities.ActivePatientSelection
}

// NewViewer builds a viewer. A selection made by another clinician is ignored.
func NewViewer(p entities.Principal, sel *entities.ActivePatientSelection) Viewer {
	if c, ok := p.(*entities.Clinician); ok && sel != nil && sel.ClinicianID == c.ID && sel.PatientID != "" {
		return Viewer{Principal: p, Selection: sel}
	}
	return Viewer{Principal: p}
}

// ForPatient returns the predicate for a patient's own history
func ForPatient(p *entities.Patient) Predicate {
	id := p.ID
	return func(r *entities.ScanRecord) bool {
		return r.OwnerID == id
	}
}

// ForClinician returns the focused predicate when sel is set, else the worklist
func ForClinician(_ *entities.Clinician, sel *entities.ActivePatientSelection) Predicate {
	if sel != nil && sel.PatientID != "" {
		owner := sel.PatientID
		return func(r *entities.ScanRecord) bool {
			return r.OwnerID == owner
		}
	}
	return func(r *entities.ScanRecord) bool {
		return r.Status.Unresolved()
	}
}

func deny(*entities.ScanRecord) bool { return false }

// Mode reports how the viewer sees records
func (v Viewer) Mode() Mode {
	switch v.Principal.(type) {
	case *entities.Patient:
		return ModeOwn
	case *entities.Clinician:
		if v.Selection != nil {
			return ModeFocused
		}
		return ModeWorklist
	}
	return ModeNone
}

// Predicate dispatches on the principal variant
func (v Viewer) Predicate() Predicate {
	switch p := v.Principal.(type) {
	case *entities.Patient:
		return ForPatient(p)
	case *entities.Clinician:
		return ForClinician(p, v.Selection)
	}
	return deny
}

// Sees reports whether record is visible to v
func (v Viewer) Sees(record *entities.ScanRecord) bool {
	return record != nil && v.Predicate()(record)
}

// Key groups viewers with identical predicates. A patient and a clinician
// focused on that patient share a key.
func (v Viewer) Key() string {
	switch p := v.Principal.(type) {
	case *entities.Patient:
		return "owner:" + p.ID
	case *entities.Clinician:
		if v.Selection != nil {
			return "owner:" + v.Selection.PatientID
		}
		return "worklist"
	}
	return "none"
}

// Scope translates the predicate into a store filter
func (v Viewer) Scope() (repositories.ScanFilter, bool) {
	switch p := v.Principal.(type) {
	case *entities.Patient:
		return repositories.ScanFilter{OwnerID: p.ID}, true
	case *entities.Clinician:
		if v.Selection != nil {
			return repositories.ScanFilter{OwnerID: v.Selection.PatientID}, true
		}
		return repositories.ScanFilter{Statuses: TriageStatuses}, true
	}
	return repositories.ScanFilter{}, false
}

// CanActFor reports whether v may upload or browse the timeline of ownerID
func (v Viewer) CanActFor(ownerID string) bool {
	switch p := v.Principal.(type) {
	case *entities.Patient:
		return p.ID == ownerID
	case *entities.Clinician:
		return ownerID != ""
	}
	return false
}

// CanBrowsePatients reports whether v may read the patient directory
func (v Viewer) CanBrowsePatients() bool {
	return entities.IsClinician(v.Principal)
}
