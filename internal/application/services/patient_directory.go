package services

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
)

// PatientDirectory is a live index of patient identities for clinician
// pickers. It is a read model only; authorization always goes to the stores.
type PatientDirectory struct {
	repo        repositories.IdentityRepository
	mu          sync.RWMutex
	entries     map[string]entities.PatientDirectoryEntry
	subscribers map[chan []entities.PatientDirectoryEntry]struct{}
}

// NewPatientDirectory creates an empty directory over repo
func NewPatientDirectory(repo repositories.IdentityRepository) *PatientDirectory {
	return &PatientDirectory{
		repo:        repo,
		entries:     make(map[string]entities.PatientDirectoryEntry),
		subscribers: make(map[chan []entities.PatientDirectoryEntry]struct{}),
	}
}

// Load rebuilds the index from the identity repository
func (d *PatientDirectory) Load(ctx context.Context) error {
	patients, err := d.repo.ListByRole(ctx, entities.RolePatient)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.entries = make(map[string]entities.PatientDirectoryEntry, len(patients))
	for _, p := range patients {
		d.entries[p.ID] = p.DirectoryEntry()
	}
	d.broadcastLocked()
	d.mu.Unlock()

	log.Info().Int("patients", len(patients)).Msg("Patient directory loaded")
	return nil
}

// Apply folds a registered identity into the index. Non-patients are ignored.
func (d *PatientDirectory) Apply(identity *entities.Identity) {
	if identity == nil || identity.Role != entities.RolePatient {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[identity.ID] = identity.DirectoryEntry()
	d.broadcastLocked()
}

// List returns the directory ordered by display name
func (d *PatientDirectory) List() []entities.PatientDirectoryEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

// Get returns one entry
func (d *PatientDirectory) Get(id string) (entities.PatientDirectoryEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	return e, ok
}

// Subscribe delivers the current snapshot and then a fresh snapshot on every
// change. A slow reader only ever sees the latest snapshot.
func (d *PatientDirectory) Subscribe(ctx context.Context) <-chan []entities.PatientDirectoryEntry {
	ch := make(chan []entities.PatientDirectoryEntry, 1)

	d.mu.Lock()
	d.subscribers[ch] = struct{}{}
	ch <- d.snapshotLocked()
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subscribers, ch)
		close(ch)
	}()
	return ch
}

func (d *PatientDirectory) snapshotLocked() []entities.PatientDirectoryEntry {
	out := make([]entities.PatientDirectoryEntry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].DisplayName), strings.ToLower(out[j].DisplayName)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *PatientDirectory) broadcastLocked() {
	if len(d.subscribers) == 0 {
		return
	}
	snap := d.snapshotLocked()
	for ch := range d.subscribers {
		// Replace an unread snapshot with the newer one
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
