package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FinancialStatus is the closed set of order payment states. External
// vocabulary is mapped at the ingestion boundary; unknown values are
// rejected rather than passed through.
type FinancialStatus string

const (
	FinancialPending           FinancialStatus = "pending"
	FinancialAuthorized        FinancialStatus = "authorized"
	FinancialPaid              FinancialStatus = "paid"
	FinancialPartiallyPaid     FinancialStatus = "partially_paid"
	FinancialPartiallyRefunded FinancialStatus = "partially_refunded"
	FinancialRefunded          FinancialStatus = "refunded"
	FinancialVoided            FinancialStatus = "voided"
)

// financialStatusAliases maps the commerce platform's vocabulary onto the
// internal enum. Keys are lowercase.
var financialStatusAliases = map[string]FinancialStatus{
	"pending":            FinancialPending,
	"authorized":         FinancialAuthorized,
	"paid":               FinancialPaid,
	"partially_paid":     FinancialPartiallyPaid,
	"partially_refunded": FinancialPartiallyRefunded,
	"refunded":           FinancialRefunded,
	"voided":             FinancialVoided,
	"void":               FinancialVoided,
}

// ParseFinancialStatus maps an external status string onto the internal
// enum, rejecting unknown values.
func ParseFinancialStatus(raw string) (FinancialStatus, error) {
	s, ok := financialStatusAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("unknown financial status %q", raw)
	}
	return s, nil
}

func (s FinancialStatus) String() string { return string(s) }

// LineItem is one purchased line on an order.
type LineItem struct {
	Title    string          `json:"title"`
	SKU      string          `json:"sku,omitempty"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Order is a tenant-scoped immutable business fact. Fields are set at
// ingestion and only updated when the source reports a status change.
type Order struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	ExternalID string    `json:"external_id"`

	// CustomerID is nil for guest checkouts.
	CustomerID         *uuid.UUID `json:"customer_id,omitempty"`
	CustomerExternalID string     `json:"customer_external_id,omitempty"`

	TotalPrice      decimal.Decimal `json:"total_price"`
	FinancialStatus FinancialStatus `json:"financial_status"`
	LineItems       []LineItem      `json:"line_items,omitempty"`

	// OrderDate is the platform's processed-at time when present, else the
	// source creation time. All analytics key off this field.
	OrderDate   time.Time  `json:"order_date"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	SourceUpdatedAt time.Time `json:"source_updated_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CountsTowardStats reports whether the order participates in customer
// aggregate recomputation: voided and cancelled orders are excluded.
func (o *Order) CountsTowardStats() bool {
	return o.FinancialStatus != FinancialVoided && o.CancelledAt == nil
}
