package handlers_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/dermascan/internal/adapters/events"
	"github.com/zatekoja/dermascan/internal/adapters/memory"
	"github.com/zatekoja/dermascan/internal/adapters/storage"
	"github.com/zatekoja/dermascan/internal/api/handlers"
	"github.com/zatekoja/dermascan/internal/api/middleware"
	"github.com/zatekoja/dermascan/internal/application/services"
	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/visibility"
)

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, resp *http.Response) <-chan sseEvent {
	t.Helper()
	out := make(chan sseEvent, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		var current sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				current.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				current.data = strings.TrimPrefix(line, "data: ")
			case line == "" && current.name != "":
				out <- current
				current = sseEvent{}
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, ch <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return sseEvent{}
}

type streamFixture struct {
	scans    *services.ScanService
	hub      *services.LiveHub
	sessions *services.SessionStore
	handler  *handlers.StreamHandler
	patient  *entities.Patient
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	identities := memory.NewIdentityRepository()
	identity := &entities.Identity{ID: "p-1", DisplayName: "Ada Obi", Email: "ada@example.com", Role: entities.RolePatient}
	require.NoError(t, identities.Create(context.Background(), identity))

	live := events.NewMemoryLiveBus(64)
	t.Cleanup(func() { _ = live.Close() })
	scans := services.NewScanService(memory.NewScanRepository(), identities, storage.NewMemoryBlobStore(), live, nil, nil, services.ScanConfig{})
	hub := services.NewLiveHub(live, 16, nil)
	sessions := services.NewSessionStore(identities)
	sessions.OnChange(hub.CloseSession)
	directory := services.NewPatientDirectory(identities)
	require.NoError(t, directory.Load(context.Background()))

	return &streamFixture{
		scans:    scans,
		hub:      hub,
		sessions: sessions,
		handler:  handlers.NewStreamHandler(hub, scans, sessions, directory, 50*time.Millisecond),
		patient:  &entities.Patient{Identity: *identity},
	}
}

func (f *streamFixture) serve(t *testing.T, h http.HandlerFunc, principal entities.Principal) (<-chan sseEvent, context.CancelFunc) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h(w, r.WithContext(middleware.WithPrincipal(r.Context(), principal, "sess-1")))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return readEvents(t, resp), cancel
}

func TestStreamHandler_StreamScansSendsSnapshotThenUpdates(t *testing.T) {
	f := newStreamFixture(t)
	rec, err := f.scans.Upload(context.Background(), visibility.NewViewer(f.patient, nil), "", []byte("\x89PNG\r\n\x1a\n"), "image/png")
	require.NoError(t, err)

	stream, cancel := f.serve(t, f.handler.StreamScans, f.patient)
	defer cancel()

	ev := nextEvent(t, stream)
	require.Equal(t, "snapshot", ev.name)
	var snapshot struct {
		Mode  string `json:"mode"`
		Scans []struct {
			ID      string `json:"id"`
			Version int64  `json:"version"`
		} `json:"scans"`
	}
	require.NoError(t, json.Unmarshal([]byte(ev.data), &snapshot))
	assert.Equal(t, "own", snapshot.Mode)
	require.Len(t, snapshot.Scans, 1)
	assert.Equal(t, rec.ID, snapshot.Scans[0].ID)

	// Wait for the hub to register the subscription before dispatching.
	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	updated := rec.Clone()
	updated.Version = snapshot.Scans[0].Version + 1
	updated.Notes = "checked"
	f.hub.Dispatch(entities.NewScanEvent(entities.ScanEventAnnotated, updated.Status, updated, "c-1"))

	for {
		ev = nextEvent(t, stream)
		if ev.name != "heartbeat" {
			break
		}
	}
	assert.Equal(t, "upsert", ev.name)
	assert.Contains(t, ev.data, `"notes":"checked"`)

	assert.True(t, f.hub.PushNotification(f.patient.ID, &entities.NotificationRecord{ID: "n-1", Title: "Your scan result is ready"}))
	for {
		ev = nextEvent(t, stream)
		if ev.name != "heartbeat" {
			break
		}
	}
	assert.Equal(t, "notification", ev.name)
	assert.Contains(t, ev.data, "n-1")
}

func TestStreamHandler_LogoutForcesResync(t *testing.T) {
	f := newStreamFixture(t)
	clinician := &entities.Clinician{Identity: entities.Identity{ID: "c-1", Role: entities.RoleClinician}}
	_, err := f.sessions.Select(context.Background(), "sess-1", clinician, f.patient.ID)
	require.NoError(t, err)

	stream, cancel := f.serve(t, f.handler.StreamScans, clinician)
	defer cancel()
	ev := nextEvent(t, stream)
	require.Equal(t, "snapshot", ev.name)
	assert.Contains(t, ev.data, `"mode":"focused"`)
	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	f.sessions.Logout("sess-1")

	for {
		ev = nextEvent(t, stream)
		if ev.name != "heartbeat" {
			break
		}
	}
	assert.Equal(t, "resync", ev.name)
	assert.Equal(t, 0, f.hub.Count())
}

func TestStreamHandler_SendsHeartbeats(t *testing.T) {
	f := newStreamFixture(t)
	stream, cancel := f.serve(t, f.handler.StreamStats, f.patient)
	defer cancel()

	ev := nextEvent(t, stream)
	assert.Equal(t, "stats", ev.name)
	assert.Contains(t, ev.data, `"total":0`)

	ev = nextEvent(t, stream)
	assert.Equal(t, "heartbeat", ev.name)
}

func TestStreamHandler_PatientsRequiresClinician(t *testing.T) {
	f := newStreamFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/stream/patients", nil)
	req = req.WithContext(middleware.WithPrincipal(req.Context(), f.patient, "sess-1"))
	rec := httptest.NewRecorder()
	f.handler.StreamPatients(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	clinician := &entities.Clinician{Identity: entities.Identity{ID: "c-1", Role: entities.RoleClinician}}
	stream, cancel := f.serve(t, f.handler.StreamPatients, clinician)
	defer cancel()
	ev := nextEvent(t, stream)
	assert.Equal(t, "patients", ev.name)
	assert.Contains(t, ev.data, "Ada Obi")
}
