// Package platform talks to the external commerce API. It exposes
// cursor-paginated list calls and normalizes the source's wire types
// into values the ingestion layer can persist.
package platform

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Credentials identify one tenant's shop on the commerce platform.
type Credentials struct {
	ShopDomain  string
	AccessToken string
}

// Customer is the platform's wire representation of a customer.
type Customer struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// LineItem is one purchased line on a platform order. Price is the
// source's native decimal string.
type LineItem struct {
	Title    string `json:"title"`
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

// Order is the platform's wire representation of an order. Monetary
// fields arrive as decimal strings in the shop currency.
type Order struct {
	ID              string     `json:"id"`
	CustomerID      string     `json:"customer_id"`
	TotalPrice      string     `json:"total_price"`
	FinancialStatus string     `json:"financial_status"`
	LineItems       []LineItem `json:"line_items"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// EffectiveDate is the timestamp analytics use for this order:
// processed-at when the platform reports one, else creation time.
func (o Order) EffectiveDate() time.Time {
	if o.ProcessedAt != nil {
		return *o.ProcessedAt
	}
	return o.CreatedAt
}

// CustomerPage is one cursor page of customers.
type CustomerPage struct {
	Items      []Customer `json:"items"`
	NextCursor string     `json:"next_cursor"`
	HasMore    bool       `json:"has_more"`
}

// OrderPage is one cursor page of orders.
type OrderPage struct {
	Items      []Order `json:"items"`
	NextCursor string  `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

// ParseMoney converts a platform money string to a decimal. Empty
// strings mean zero.
func ParseMoney(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse money %q: %w", raw, err)
	}
	return d, nil
}
