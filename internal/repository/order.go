package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
)

// OrderStore defines persistence operations for orders.
type OrderStore interface {
	Upsert(ctx context.Context, o *domain.Order) (created bool, err error)
	GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*domain.Order, error)
	CountedOrderDates(ctx context.Context, tenantID, customerID uuid.UUID) ([]time.Time, error)
}

// OrderRepository implements OrderStore using pgx.
type OrderRepository struct {
	db DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Upsert inserts an order or refreshes its status fields, keyed by
// (tenant_id, external_id). The owning customer is resolved from its
// platform id at write time so order pages may arrive before or after
// the customer page that introduces the owner.
func (r *OrderRepository) Upsert(ctx context.Context, o *domain.Order) (bool, error) {
	items, err := json.Marshal(o.LineItems)
	if err != nil {
		return false, fmt.Errorf("marshal line items for order %s: %w", o.ExternalID, err)
	}

	var created bool
	err = r.db.QueryRow(ctx, `
		INSERT INTO orders (
			id, tenant_id, external_id, customer_id, customer_external_id,
			total_price, financial_status, line_items, order_date,
			cancelled_at, source_updated_at, created_at, updated_at
		) VALUES (
			$1, $2, $3,
			(SELECT id FROM customers WHERE tenant_id = $2 AND external_id = $4),
			$4, $5, $6, $7, $8, $9, $10, now(), now()
		)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			customer_id = COALESCE(orders.customer_id,
				(SELECT id FROM customers WHERE tenant_id = $2 AND external_id = $4)),
			financial_status = EXCLUDED.financial_status,
			cancelled_at = EXCLUDED.cancelled_at,
			source_updated_at = EXCLUDED.source_updated_at,
			updated_at = now()
		RETURNING id, (xmax = 0)`,
		o.ID, o.TenantID, o.ExternalID, o.CustomerExternalID,
		o.TotalPrice, o.FinancialStatus, items, o.OrderDate,
		o.CancelledAt, o.SourceUpdatedAt,
	).Scan(&o.ID, &created)
	if err != nil {
		return false, fmt.Errorf("order upsert %s: %w", o.ExternalID, err)
	}
	return created, nil
}

// GetByExternalID loads one order by its platform id.
func (r *OrderRepository) GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*domain.Order, error) {
	var (
		o     domain.Order
		items []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, external_id, customer_id, customer_external_id,
			total_price, financial_status, line_items, order_date,
			cancelled_at, source_updated_at, created_at, updated_at
		FROM orders WHERE tenant_id = $1 AND external_id = $2`,
		tenantID, externalID,
	).Scan(
		&o.ID, &o.TenantID, &o.ExternalID, &o.CustomerID, &o.CustomerExternalID,
		&o.TotalPrice, &o.FinancialStatus, &items, &o.OrderDate,
		&o.CancelledAt, &o.SourceUpdatedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound(apperrors.CodeOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", externalID, err)
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.LineItems); err != nil {
			return nil, fmt.Errorf("unmarshal line items for order %s: %w", externalID, err)
		}
	}
	return &o, nil
}

// CountedOrderDates returns the dates of a customer's stat-counted
// orders in ascending order. Used for order-gap medians.
func (r *OrderRepository) CountedOrderDates(ctx context.Context, tenantID, customerID uuid.UUID) ([]time.Time, error) {
	rows, err := r.db.Query(ctx, `
		SELECT order_date FROM orders
		WHERE tenant_id = $1 AND customer_id = $2
			AND financial_status <> 'voided'
			AND cancelled_at IS NULL
		ORDER BY order_date`,
		tenantID, customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list order dates for %s: %w", customerID, err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan order date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}
