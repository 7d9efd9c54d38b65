package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
	"github.com/zatekoja/dermascan/pkg/retry"
)

func TestExpoPushSender_Send(t *testing.T) {
	var got []ExpoPushMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer expo-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"status":"ok","id":"ticket-1"}]}`))
	}))
	defer server.Close()

	sender := NewExpoPushSender(server.URL, "expo-token")
	err := sender.Send(context.Background(), "ExponentPushToken[abc]", entities.PushMessage{
		Title:    "Urgent follow-up requested",
		Body:     "A clinician flagged your scan for urgent follow-up.",
		Data:     map[string]string{"recordId": "s-1"},
		Priority: entities.PriorityHigh,
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "ExponentPushToken[abc]", got[0].To)
	assert.Equal(t, "high", got[0].Priority)
	assert.Equal(t, "s-1", got[0].Data["recordId"])
}

func TestExpoPushSender_NormalPriority(t *testing.T) {
	var got []ExpoPushMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"status":"ok","id":"ticket-2"}]}`))
	}))
	defer server.Close()

	sender := NewExpoPushSender(server.URL, "")
	require.NoError(t, sender.Send(context.Background(), "ExpoPushToken[x]", entities.PushMessage{Title: "t", Body: "b"}))
	require.Len(t, got, 1)
	assert.Equal(t, "default", got[0].Priority)
}

func TestExpoPushSender_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"device not registered", http.StatusOK, `{"data":[{"status":"error","message":"not registered","details":{"error":"DeviceNotRegistered"}}]}`, true},
		{"rate limited ticket", http.StatusOK, `{"data":[{"status":"error","message":"slow down","details":{"error":"MessageRateExceeded"}}]}`, false},
		{"server error", http.StatusBadGateway, `{"errors":[{"code":"INTERNAL","message":"upstream"}]}`, false},
		{"bad request", http.StatusBadRequest, `{"errors":[{"code":"VALIDATION_ERROR","message":"bad token"}]}`, true},
		{"empty tickets", http.StatusOK, `{"data":[]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			sender := NewExpoPushSender(server.URL, "")
			err := sender.Send(context.Background(), "ExponentPushToken[abc]", entities.PushMessage{Title: "t"})
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUpstream))

			// Permanent errors stop the dispatcher's retry after one call
			calls := 0
			_, _ = retry.Do(context.Background(), retry.Once(time.Second, time.Millisecond), func(context.Context) error {
				calls++
				return err
			})
			if tt.permanent {
				assert.Equal(t, 1, calls)
			} else {
				assert.Equal(t, 2, calls)
			}
		})
	}
}
