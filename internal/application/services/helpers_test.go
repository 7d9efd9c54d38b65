package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zatekoja/dermascan/internal/adapters/events"
	"github.com/zatekoja/dermascan/internal/adapters/memory"
	"github.com/zatekoja/dermascan/internal/adapters/storage"
	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/visibility"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fixture struct {
	scans       *memory.ScanRepository
	identities  *memory.IdentityRepository
	blobs       *storage.MemoryBlobStore
	live        *events.MemoryLiveBus
	transitions *events.MemoryTransitionLog
	svc         *ScanService

	patient   *entities.Patient
	other     *entities.Patient
	clinician *entities.Clinician
}

func newFixture(t *testing.T, requireSignoff bool) *fixture {
	t.Helper()
	f := &fixture{
		scans:       memory.NewScanRepository(),
		identities:  memory.NewIdentityRepository(),
		blobs:       storage.NewMemoryBlobStore(),
		live:        events.NewMemoryLiveBus(256),
		transitions: events.NewMemoryTransitionLog(time.Millisecond),
	}
	f.svc = NewScanService(f.scans, f.identities, f.blobs, f.live, f.transitions, nil, ScanConfig{RequireSignoff: requireSignoff})

	f.patient = &entities.Patient{Identity: f.addIdentity(t, "p-1", "Ada Obi", entities.RolePatient)}
	f.other = &entities.Patient{Identity: f.addIdentity(t, "p-2", "Bola Ade", entities.RolePatient)}
	f.clinician = &entities.Clinician{Identity: f.addIdentity(t, "c-1", "Dr. Eze", entities.RoleClinician)}
	return f
}

func (f *fixture) addIdentity(t *testing.T, id, name string, role entities.Role) entities.Identity {
	t.Helper()
	identity := entities.Identity{
		ID:          id,
		DisplayName: name,
		Email:       id + "@example.com",
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, f.identities.Create(context.Background(), &identity))
	return identity
}

func (f *fixture) upload(t *testing.T, owner *entities.Patient) *entities.ScanRecord {
	t.Helper()
	rec, err := f.svc.Upload(context.Background(), visibility.NewViewer(owner, nil), "", pngBytes, "image/png")
	require.NoError(t, err)
	return rec
}

func (f *fixture) analyzed(t *testing.T, owner *entities.Patient, label string) *entities.ScanRecord {
	t.Helper()
	rec := f.upload(t, owner)
	rec, err := f.svc.AttachAutomatedResult(context.Background(), rec.ID, automatedResult(label))
	require.NoError(t, err)
	return rec
}

func (f *fixture) focused(patientID string) visibility.Viewer {
	return visibility.NewViewer(f.clinician, &entities.ActivePatientSelection{
		SessionID:   "sess-1",
		ClinicianID: f.clinician.ID,
		PatientID:   patientID,
		SelectedAt:  time.Now().UTC(),
	})
}

func (f *fixture) worklist() visibility.Viewer {
	return visibility.NewViewer(f.clinician, nil)
}

func automatedResult(label string) *entities.AutomatedResult {
	return &entities.AutomatedResult{
		Label:      label,
		Confidence: 0.9,
		Severity:   entities.SeverityLow,
		Narrative:  "Looks benign.",
	}
}

// drain collects whatever the bus subscription has buffered
func drain(ch <-chan *entities.ScanEvent) []*entities.ScanEvent {
	var out []*entities.ScanEvent
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

type stubQueue struct {
	ids  []string
	full bool
}

func (q *stubQueue) Enqueue(id string) bool {
	if q.full {
		return false
	}
	q.ids = append(q.ids, id)
	return true
}
