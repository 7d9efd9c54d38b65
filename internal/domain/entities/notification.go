package entities

import (
	"fmt"
	"strings"
	"time"
)

// NotificationChannel represents the delivery channel
type NotificationChannel string

const (
	ChannelMobilePush NotificationChannel = "mobile_push"
	ChannelInApp      NotificationChannel = "in_app"
)

// NotificationPriority is passed through to push channels
type NotificationPriority string

const (
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// NotificationRecord is the audit entry for one (event, recipient, channel) delivery
type NotificationRecord struct {
	ID          string               `json:"id" db:"id"`
	RecipientID string               `json:"recipientId" db:"recipient_id"`
	Title       string               `json:"title" db:"title"`
	Body        string               `json:"body" db:"body"`
	Payload     map[string]string    `json:"payload" db:"payload"`
	Channel     NotificationChannel  `json:"channel" db:"channel"`
	EventType   ScanEventType        `json:"eventType" db:"event_type"`
	RecordID    string               `json:"recordId" db:"record_id"`
	Priority    NotificationPriority `json:"priority" db:"priority"`
	DedupKey    string               `json:"-" db:"dedup_key"`
	Delivered   bool                 `json:"delivered" db:"delivered"`
	Attempts    int                  `json:"attempts" db:"attempts"`
	LastError   *string              `json:"lastError,omitempty" db:"last_error"`
	Read        bool                 `json:"read" db:"read"`
	CreatedAt   time.Time            `json:"createdAt" db:"created_at"`
	DeliveredAt *time.Time           `json:"deliveredAt,omitempty" db:"delivered_at"`
}

// NotificationDedupKey identifies one delivery of one committed mutation.
// The (recordID, eventType, recipientID) triple alone would swallow a second
// escalation after a correction returned the record to Reviewed, so the key
// also carries the record revision that produced the event. A redelivered
// event repeats its revision and collapses onto the first delivery. Channel
// keeps one record per (recipient, channel) pair.
func NotificationDedupKey(recordID string, eventType ScanEventType, recipientID string, channel NotificationChannel, revision int64) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", recordID, eventType, recipientID, channel, revision)
}

// Expo push token prefixes
const (
	ExponentTokenPrefix = "ExponentPushToken["
	ExpoTokenPrefix     = "ExpoPushToken["
)

// ChannelForToken routes a device token by its prefix. Anything that is not
// an Expo token is treated as a web session and served in-app.
func ChannelForToken(token string) NotificationChannel {
	if strings.HasPrefix(token, ExponentTokenPrefix) || strings.HasPrefix(token, ExpoTokenPrefix) {
		return ChannelMobilePush
	}
	return ChannelInApp
}

// DeviceToken is an opaque per-device push token
type DeviceToken struct {
	IdentityID string              `json:"identityId" db:"identity_id"`
	Token      string              `json:"token" db:"token"`
	Channel    NotificationChannel `json:"channel" db:"channel"`
	CreatedAt  time.Time           `json:"createdAt" db:"created_at"`
}

// PushMessage is what a channel sender delivers
type PushMessage struct {
	Title    string
	Body     string
	Data     map[string]string
	Priority NotificationPriority
}
