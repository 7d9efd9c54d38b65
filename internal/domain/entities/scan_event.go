package entities

import (
	"time"

	"github.com/google/uuid"
)

// ScanEventType represents the kind of store mutation
type ScanEventType string

const (
	ScanEventCreated          ScanEventType = "scan.created"
	ScanEventAnalysisAttached ScanEventType = "scan.analysis_attached"
	ScanEventCorrected        ScanEventType = "scan.corrected"
	ScanEventEscalated        ScanEventType = "scan.escalated"
	ScanEventAnnotated        ScanEventType = "scan.annotated"
)

// SystemActor is the actor id stamped on automated transitions
const SystemActor = "system"

// ScanEvent is emitted exactly once per committed mutation of a scan record
type ScanEvent struct {
	ID        string        `json:"id"`
	Type      ScanEventType `json:"type"`
	RecordID  string        `json:"recordId"`
	OwnerID   string        `json:"ownerId"`
	From      ScanStatus    `json:"fromStatus,omitempty"`
	To        ScanStatus    `json:"toStatus"`
	ActorID   string        `json:"actorId"`
	Timestamp time.Time     `json:"timestamp"`
	// Revision is the record version this mutation committed.
	Revision int64       `json:"revision"`
	Record   *ScanRecord `json:"record"`
}

// NewScanEvent creates an event for a committed mutation of record
func NewScanEvent(eventType ScanEventType, from ScanStatus, record *ScanRecord, actorID string) *ScanEvent {
	if actorID == "" {
		actorID = SystemActor
	}
	return &ScanEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		RecordID:  record.ID,
		OwnerID:   record.OwnerID,
		From:      from,
		To:        record.Status,
		ActorID:   actorID,
		Timestamp: record.UpdatedAt,
		Revision:  record.Version,
		Record:    record.Clone(),
	}
}

// IsTransition reports whether the event belongs on the transition stream.
// Annotations only reach live subscribers.
func (e *ScanEvent) IsTransition() bool {
	return e.Type != ScanEventAnnotated
}
