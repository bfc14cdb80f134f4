// Package domain contains the core MerchPulse entities and closed enums.
//
// Derived analytics fields on Customer (scores, segment, flags) are only
// ever written by the RFM and churn engines, never by ingestion.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RFMSegment is the behavioral classification assigned by the RFM engine.
// The set is closed: every scored customer lands in exactly one of these.
type RFMSegment string

const (
	SegmentChampions         RFMSegment = "CHAMPIONS"
	SegmentLoyal             RFMSegment = "LOYAL"
	SegmentCannotLose        RFMSegment = "CANNOT_LOSE"
	SegmentAtRisk            RFMSegment = "AT_RISK"
	SegmentNewCustomers      RFMSegment = "NEW_CUSTOMERS"
	SegmentPromising         RFMSegment = "PROMISING"
	SegmentPotentialLoyalist RFMSegment = "POTENTIAL_LOYALIST"
	SegmentNeedAttention     RFMSegment = "NEED_ATTENTION"
	SegmentAboutToSleep      RFMSegment = "ABOUT_TO_SLEEP"
	SegmentHibernating       RFMSegment = "HIBERNATING"
	SegmentLost              RFMSegment = "LOST"
)

// AllRFMSegments lists every segment in classification priority order.
var AllRFMSegments = []RFMSegment{
	SegmentChampions,
	SegmentLoyal,
	SegmentCannotLose,
	SegmentAtRisk,
	SegmentNewCustomers,
	SegmentPromising,
	SegmentPotentialLoyalist,
	SegmentNeedAttention,
	SegmentAboutToSleep,
	SegmentHibernating,
	SegmentLost,
}

// Valid reports whether s is one of the eleven known segments.
func (s RFMSegment) Valid() bool {
	for _, known := range AllRFMSegments {
		if s == known {
			return true
		}
	}
	return false
}

func (s RFMSegment) String() string { return string(s) }

// Customer is a tenant-scoped external identity with mutable purchase
// aggregates and derived analytics fields.
type Customer struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	ExternalID string    `json:"external_id"`

	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`

	// Aggregates recomputed from the order set after each order sync.
	OrdersCount    int             `json:"orders_count"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	AvgOrderValue  decimal.Decimal `json:"avg_order_value"`
	FirstOrderDate *time.Time      `json:"first_order_date,omitempty"`
	LastOrderDate  *time.Time      `json:"last_order_date,omitempty"`

	// Derived fields, written only by the RFM/churn engines.
	DaysSinceLastOrder *int       `json:"days_since_last_order,omitempty"`
	RecencyScore       int        `json:"recency_score,omitempty"`   // 1–5, 0 when unscored
	FrequencyScore     int        `json:"frequency_score,omitempty"` // 1–5, 0 when unscored
	MonetaryScore      int        `json:"monetary_score,omitempty"`  // 1–5, 0 when unscored
	RFMSegment         RFMSegment `json:"rfm_segment,omitempty"`
	IsHighValue        bool       `json:"is_high_value"`
	IsChurnRisk        bool       `json:"is_churn_risk"`
	RFMComputedAt      *time.Time `json:"rfm_computed_at,omitempty"`

	SourceCreatedAt time.Time `json:"source_created_at"`
	SourceUpdatedAt time.Time `json:"source_updated_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RFMEligible reports whether the customer participates in RFM scoring.
func (c *Customer) RFMEligible() bool {
	return c.OrdersCount > 0 && c.LastOrderDate != nil
}

// RFMScores bundles the three 1–5 axis scores.
type RFMScores struct {
	Recency   int `json:"recency"`
	Frequency int `json:"frequency"`
	Monetary  int `json:"monetary"`
}

// Mean returns the arithmetic mean of the three scores.
func (s RFMScores) Mean() float64 {
	return float64(s.Recency+s.Frequency+s.Monetary) / 3.0
}
