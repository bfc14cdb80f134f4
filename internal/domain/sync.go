package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResourceType names a syncable commerce resource.
type ResourceType string

const (
	ResourceCustomers ResourceType = "customers"
	ResourceOrders    ResourceType = "orders"
)

func (r ResourceType) Valid() bool {
	return r == ResourceCustomers || r == ResourceOrders
}

// SyncMode selects full re-ingestion or incremental catch-up from the
// last successful watermark.
type SyncMode string

const (
	SyncFull        SyncMode = "full"
	SyncIncremental SyncMode = "incremental"
)

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s SyncStatus) Terminal() bool {
	return s == SyncCompleted || s == SyncFailed
}

// SyncJob is the durable audit record of one sync run.
type SyncJob struct {
	ID           uuid.UUID    `json:"id"`
	TenantID     uuid.UUID    `json:"tenant_id"`
	ResourceType ResourceType `json:"resource_type"`
	Mode         SyncMode     `json:"mode"`
	Status       SyncStatus   `json:"status"`

	RecordsProcessed int `json:"records_processed"`
	RecordsCreated   int `json:"records_created"`
	RecordsUpdated   int `json:"records_updated"`
	RecordsFailed    int `json:"records_failed"`

	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SyncProgress is the ephemeral, observer-facing view of a run. It
// lives in the key-value store under a TTL and is never the source of
// truth; SyncJob is.
type SyncProgress struct {
	RunID        uuid.UUID    `json:"run_id"`
	TenantID     uuid.UUID    `json:"tenant_id"`
	ResourceType ResourceType `json:"resource_type"`
	Status       SyncStatus   `json:"status"`

	// Step is a short human-readable description of the current phase.
	Step string `json:"step,omitempty"`

	Processed int  `json:"processed"`
	Created   int  `json:"created"`
	Updated   int  `json:"updated"`
	Errors    int  `json:"errors"`
	// Total is nil when the source does not expose a count.
	Total *int `json:"total,omitempty"`

	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncResult summarizes a finished ingestion pass.
type SyncResult struct {
	Created        int
	Updated        int
	Errors         int
	TotalProcessed int
}
