package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FilterLogic joins the members of a filter group.
type FilterLogic string

const (
	FilterAnd FilterLogic = "and"
	FilterOr  FilterLogic = "or"
)

// FilterOperator is the closed set of comparison operators a filter
// condition may use.
type FilterOperator string

const (
	OpEq        FilterOperator = "eq"
	OpNeq       FilterOperator = "neq"
	OpGt        FilterOperator = "gt"
	OpGte       FilterOperator = "gte"
	OpLt        FilterOperator = "lt"
	OpLte       FilterOperator = "lte"
	OpIn        FilterOperator = "in"
	OpNotIn     FilterOperator = "notIn"
	OpBetween   FilterOperator = "between"
	OpContains  FilterOperator = "contains"
	OpIsNull    FilterOperator = "isNull"
	OpIsNotNull FilterOperator = "isNotNull"
)

// FilterCondition is one leaf comparison against a customer field.
type FilterCondition struct {
	Field    string         `json:"field"`
	Operator FilterOperator `json:"operator"`
	Value    interface{}    `json:"value,omitempty"`
}

// FilterGroup is a boolean expression tree: conditions and nested groups
// joined by Logic.
type FilterGroup struct {
	Logic      FilterLogic       `json:"logic"`
	Conditions []FilterCondition `json:"conditions,omitempty"`
	Groups     []FilterGroup     `json:"groups,omitempty"`
}

// Empty reports whether the group holds no conditions at any depth.
func (g FilterGroup) Empty() bool {
	if len(g.Conditions) > 0 {
		return false
	}
	for _, sub := range g.Groups {
		if !sub.Empty() {
			return false
		}
	}
	return true
}

// Segment is a tenant-scoped named filter definition with cached
// membership stats.
type Segment struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`

	Filters FilterGroup `json:"filters"`

	// Cached membership stats, refreshed by computeMembership.
	CustomerCount    int             `json:"customer_count"`
	EstimatedRevenue decimal.Decimal `json:"estimated_revenue"`
	LastComputedAt   *time.Time      `json:"last_computed_at,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SegmentMember joins a segment to a customer. Snapshot fields are
// historical: they record the customer's state at add time and are not
// re-synced when the customer changes.
type SegmentMember struct {
	SegmentID          uuid.UUID       `json:"segment_id"`
	CustomerID         uuid.UUID       `json:"customer_id"`
	TotalSpentSnapshot decimal.Decimal `json:"total_spent_snapshot"`
	RFMSegmentSnapshot RFMSegment      `json:"rfm_segment_snapshot,omitempty"`
	AddedAt            time.Time       `json:"added_at"`
}
