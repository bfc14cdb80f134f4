package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEndpoint is a tenant-registered HTTP target for pipeline
// events. Deliveries are signed with the endpoint secret.
type WebhookEndpoint struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	URL      string    `json:"url"`
	// Secret signs the delivery body; never exposed on read APIs.
	Secret string `json:"-"`
	// EventTypes filters deliveries; empty means every event type.
	EventTypes []EventType `json:"event_types"`
	IsActive   bool        `json:"is_active"`

	SuccessCount  int        `json:"success_count"`
	FailureCount  int        `json:"failure_count"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Accepts reports whether the endpoint wants deliveries of eventType.
func (e *WebhookEndpoint) Accepts(eventType EventType) bool {
	if !e.IsActive {
		return false
	}
	if len(e.EventTypes) == 0 {
		return true
	}
	for _, t := range e.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}
