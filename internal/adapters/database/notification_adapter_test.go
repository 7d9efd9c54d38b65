package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

func TestNotificationAdapter_CreateDuplicateIsConflict(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewNotificationAdapter(client)

	insert := regexp.QuoteMeta(`INSERT INTO notification_records`)
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(0, 0))

	rec := &entities.NotificationRecord{
		ID: "n-1", RecipientID: "p-1", Channel: entities.ChannelInApp,
		EventType: entities.ScanEventEscalated, DedupKey: "s-1|scan.escalated|p-1|in_app|4",
		Payload: map[string]string{"recordId": "s-1"}, CreatedAt: time.Now(),
	}
	require.NoError(t, adapter.Create(context.Background(), rec))

	err := adapter.Create(context.Background(), rec)
	assert.True(t, apperrors.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationAdapter_UpdateDelivery(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewNotificationAdapter(client)

	msg := "expo: 503"
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notification_records`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notification_records`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, adapter.UpdateDelivery(context.Background(), "n-1", false, 2, &msg))
	assert.True(t, apperrors.IsNotFound(adapter.UpdateDelivery(context.Background(), "gone", true, 1, nil)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationAdapter_ListByRecipient(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewNotificationAdapter(client)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "recipient_id", "title", "body", "payload", "channel", "event_type", "record_id",
		"priority", "dedup_key", "delivered", "attempts", "last_error", "read", "created_at", "delivered_at",
	}).AddRow(
		"n-1", "p-1", "Urgent follow-up requested", "body", []byte(`{"recordId":"s-1"}`), "mobile_push",
		"scan.escalated", "s-1", "high", "k", false, 2, "timeout", false, now, nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM notification_records`)).
		WithArgs("p-1", 50).
		WillReturnRows(rows)

	list, err := adapter.ListByRecipient(context.Background(), "p-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, entities.ChannelMobilePush, list[0].Channel)
	assert.Equal(t, entities.PriorityHigh, list[0].Priority)
	assert.Equal(t, "s-1", list[0].Payload["recordId"])
	assert.False(t, list[0].Delivered)
	require.NotNil(t, list[0].LastError)
	assert.Equal(t, "timeout", *list[0].LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationAdapter_MarkRead(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewNotificationAdapter(client)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notification_records SET read = true`)).
		WithArgs("n-1", "p-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := adapter.MarkRead(context.Background(), "p-2", "n-1")
	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
