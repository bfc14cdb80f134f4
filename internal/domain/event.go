package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of domain event.
type EventType string

const (
	// Sync lifecycle
	EventSyncStarted   EventType = "SYNC_STARTED"
	EventSyncCompleted EventType = "SYNC_COMPLETED"
	EventSyncFailed    EventType = "SYNC_FAILED"

	// Analytics lifecycle
	EventRFMCompleted    EventType = "RFM_COMPLETED"
	EventChurnCompleted  EventType = "CHURN_COMPLETED"
	EventSegmentUpdated  EventType = "SEGMENT_UPDATED"
	EventChurnRiskRaised EventType = "CHURN_RISK_RAISED"
)

// DomainEvent is an immutable record of something that happened in the
// pipeline. Payload is pre-marshalled JSON so the event can be handed to
// out-of-process consumers unchanged.
type DomainEvent struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// NewDomainEvent builds an event with a fresh id and timestamp.
func NewDomainEvent(eventType EventType, tenantID uuid.UUID, payload []byte) *DomainEvent {
	return &DomainEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		TenantID:  tenantID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// SyncEventPayload describes a finished or failed sync run.
type SyncEventPayload struct {
	RunID            string       `json:"run_id"`
	ResourceType     ResourceType `json:"resource_type"`
	Mode             SyncMode     `json:"mode"`
	RecordsProcessed int          `json:"records_processed"`
	RecordsCreated   int          `json:"records_created"`
	RecordsUpdated   int          `json:"records_updated"`
	RecordsFailed    int          `json:"records_failed"`
	Error            string       `json:"error,omitempty"`
}

// ToJSON converts payload to JSON bytes.
func (p SyncEventPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// RFMEventPayload describes a finished tenant-wide scoring pass.
type RFMEventPayload struct {
	CustomersScored int            `json:"customers_scored"`
	SegmentCounts   map[string]int `json:"segment_counts"`
	HighValueCount  int            `json:"high_value_count"`
}

// ToJSON converts payload to JSON bytes.
func (p RFMEventPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// SegmentEventPayload describes a membership refresh for one segment.
type SegmentEventPayload struct {
	SegmentID     string `json:"segment_id"`
	CustomerCount int    `json:"customer_count"`
	Added         int    `json:"added"`
	Removed       int    `json:"removed"`
}

// ToJSON converts payload to JSON bytes.
func (p SegmentEventPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// ChurnEventPayload describes a finished tenant-wide churn pass.
type ChurnEventPayload struct {
	CustomersScored int            `json:"customers_scored"`
	RiskBands       map[string]int `json:"risk_bands"`
	NewAtRisk       int            `json:"new_at_risk"`
}

// ToJSON converts payload to JSON bytes.
func (p ChurnEventPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
