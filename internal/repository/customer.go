package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
)

// RFMUpdate carries the derived scoring fields written back to one
// customer after an RFM pass.
type RFMUpdate struct {
	CustomerID  uuid.UUID
	Recency     int
	Frequency   int
	Monetary    int
	Segment     domain.RFMSegment
	IsHighValue bool
	IsChurnRisk bool
	ComputedAt  time.Time
}

// ChurnUpdate carries the churn flag written back to one customer.
type ChurnUpdate struct {
	CustomerID  uuid.UUID
	IsChurnRisk bool
}

// RFMThresholds are the quintile cut points captured by the last
// tenant-wide scoring pass. Single-customer rescoring buckets against
// these instead of re-ranking the whole population. RecencyDays holds
// the fewest days-since-last-order admitted to score buckets 1..4;
// FrequencyOrders and MonetarySpend hold the largest value admitted to
// buckets 1..4.
type RFMThresholds struct {
	RecencyDays     [4]int             `json:"recency_days"`
	FrequencyOrders [4]int             `json:"frequency_orders"`
	MonetarySpend   [4]decimal.Decimal `json:"monetary_spend"`
	HighValueSpend  *decimal.Decimal   `json:"high_value_spend,omitempty"`
	Population      int                `json:"population"`
	ComputedAt      time.Time          `json:"computed_at"`
}

// TenantAnalytics is the aggregate snapshot behind the tenant summary
// endpoint. SegmentCounts only contains segments with at least one member.
type TenantAnalytics struct {
	TotalCustomers  int                       `json:"total_customers"`
	ScoredCustomers int                       `json:"scored_customers"`
	HighValueCount  int                       `json:"high_value_count"`
	ChurnRiskCount  int                       `json:"churn_risk_count"`
	TotalRevenue    decimal.Decimal           `json:"total_revenue"`
	AvgOrderValue   decimal.Decimal           `json:"avg_order_value"`
	SegmentCounts   map[domain.RFMSegment]int `json:"segment_counts"`
}

// CustomerStore defines persistence operations for customers.
type CustomerStore interface {
	Upsert(ctx context.Context, c *domain.Customer) (created bool, err error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Customer, error)
	GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*domain.Customer, error)
	ListRFMEligible(ctx context.Context, tenantID uuid.UUID) ([]domain.Customer, error)
	UpdateRFMBatch(ctx context.Context, tenantID uuid.UUID, updates []RFMUpdate) error
	UpdateChurnBatch(ctx context.Context, tenantID uuid.UUID, updates []ChurnUpdate) error
	RecomputeOrderStats(ctx context.Context, tenantID uuid.UUID) (int64, error)
	TenantAvgOrderGapDays(ctx context.Context, tenantID uuid.UUID) (float64, bool, error)
	SaveRFMThresholds(ctx context.Context, tenantID uuid.UUID, th *RFMThresholds) error
	GetRFMThresholds(ctx context.Context, tenantID uuid.UUID) (*RFMThresholds, error)
	AnalyticsSummary(ctx context.Context, tenantID uuid.UUID) (*TenantAnalytics, error)
	Delete(ctx context.Context, tenantID uuid.UUID, externalID string) error
}

// CustomerRepository implements CustomerStore using pgx.
type CustomerRepository struct {
	db DB
}

// NewCustomerRepository creates a new CustomerRepository.
func NewCustomerRepository(db DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

const customerColumns = `id, tenant_id, external_id, email, first_name, last_name,
	orders_count, total_spent, avg_order_value, first_order_date, last_order_date,
	recency_score, frequency_score, monetary_score, rfm_segment,
	is_high_value, is_churn_risk, rfm_computed_at,
	source_created_at, source_updated_at, created_at, updated_at`

// Upsert inserts a customer or refreshes its identity fields, keyed by
// (tenant_id, external_id). Derived analytics fields are never touched
// here. Returns whether a new row was created.
func (r *CustomerRepository) Upsert(ctx context.Context, c *domain.Customer) (bool, error) {
	var created bool
	err := r.db.QueryRow(ctx, `
		INSERT INTO customers (
			id, tenant_id, external_id, email, first_name, last_name,
			source_created_at, source_updated_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			source_updated_at = EXCLUDED.source_updated_at,
			updated_at = now()
		RETURNING id, (xmax = 0)`,
		c.ID, c.TenantID, c.ExternalID, c.Email, c.FirstName, c.LastName,
		c.SourceCreatedAt, c.SourceUpdatedAt,
	).Scan(&c.ID, &created)
	if err != nil {
		return false, fmt.Errorf("customer upsert %s: %w", c.ExternalID, err)
	}
	return created, nil
}

// GetByID loads one customer by primary key.
func (r *CustomerRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Customer, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	return scanCustomerRow(row)
}

// GetByExternalID loads one customer by its platform id.
func (r *CustomerRepository) GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*domain.Customer, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE tenant_id = $1 AND external_id = $2`,
		tenantID, externalID,
	)
	return scanCustomerRow(row)
}

// ListRFMEligible returns every customer with at least one counted order,
// ordered by customer id for deterministic batching.
func (r *CustomerRepository) ListRFMEligible(ctx context.Context, tenantID uuid.UUID) ([]domain.Customer, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+customerColumns+`
		FROM customers
		WHERE tenant_id = $1 AND orders_count > 0 AND last_order_date IS NOT NULL
		ORDER BY id`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rfm-eligible customers: %w", err)
	}
	defer rows.Close()

	var customers []domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

// UpdateRFMBatch writes one batch of derived scores in a single
// transaction so a failed batch leaves no partial scoring.
func (r *CustomerRepository) UpdateRFMBatch(ctx context.Context, tenantID uuid.UUID, updates []RFMUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, u := range updates {
			_, err := tx.Exec(ctx, `
				UPDATE customers SET
					recency_score = $3,
					frequency_score = $4,
					monetary_score = $5,
					rfm_segment = $6,
					is_high_value = $7,
					is_churn_risk = $8,
					rfm_computed_at = $9,
					updated_at = now()
				WHERE tenant_id = $1 AND id = $2`,
				tenantID, u.CustomerID,
				u.Recency, u.Frequency, u.Monetary,
				u.Segment, u.IsHighValue, u.IsChurnRisk, u.ComputedAt,
			)
			if err != nil {
				return fmt.Errorf("update rfm scores for %s: %w", u.CustomerID, err)
			}
		}
		return nil
	})
}

// UpdateChurnBatch writes churn flags for one batch in a transaction.
func (r *CustomerRepository) UpdateChurnBatch(ctx context.Context, tenantID uuid.UUID, updates []ChurnUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, u := range updates {
			_, err := tx.Exec(ctx,
				`UPDATE customers SET is_churn_risk = $3, updated_at = now()
				WHERE tenant_id = $1 AND id = $2`,
				tenantID, u.CustomerID, u.IsChurnRisk,
			)
			if err != nil {
				return fmt.Errorf("update churn flag for %s: %w", u.CustomerID, err)
			}
		}
		return nil
	})
}

// RecomputeOrderStats re-derives the per-customer order aggregates from
// the orders table. Voided and cancelled orders are excluded. The left
// join covers every customer of the tenant, so a customer whose last
// counted order was cancelled drops back to zeroed stats instead of
// keeping stale ones. Returns the number of customers whose stats
// actually changed.
func (r *CustomerRepository) RecomputeOrderStats(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE customers c SET
			orders_count = s.cnt,
			total_spent = s.total,
			avg_order_value = s.avg,
			first_order_date = s.first_date,
			last_order_date = s.last_date,
			updated_at = now()
		FROM (
			SELECT c2.id AS customer_id,
				COUNT(o.id) AS cnt,
				COALESCE(SUM(o.total_price), 0) AS total,
				COALESCE(AVG(o.total_price), 0) AS avg,
				MIN(o.order_date) AS first_date,
				MAX(o.order_date) AS last_date
			FROM customers c2
			LEFT JOIN orders o ON o.tenant_id = c2.tenant_id
				AND o.customer_id = c2.id
				AND o.financial_status <> 'voided'
				AND o.cancelled_at IS NULL
			WHERE c2.tenant_id = $1
			GROUP BY c2.id
		) s
		WHERE c.tenant_id = $1 AND c.id = s.customer_id
			AND (c.orders_count IS DISTINCT FROM s.cnt
				OR c.total_spent IS DISTINCT FROM s.total
				OR c.avg_order_value IS DISTINCT FROM s.avg
				OR c.first_order_date IS DISTINCT FROM s.first_date
				OR c.last_order_date IS DISTINCT FROM s.last_date)`,
		tenantID,
	)
	if err != nil {
		return 0, fmt.Errorf("recompute order stats: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TenantAvgOrderGapDays returns the tenant-wide average order-to-order
// gap in days across customers with two or more orders. The bool is
// false when no such customer exists.
func (r *CustomerRepository) TenantAvgOrderGapDays(ctx context.Context, tenantID uuid.UUID) (float64, bool, error) {
	var avg *float64
	err := r.db.QueryRow(ctx, `
		SELECT AVG(
			EXTRACT(EPOCH FROM (last_order_date - first_order_date)) / 86400.0
			/ (orders_count - 1)
		)
		FROM customers
		WHERE tenant_id = $1
			AND orders_count >= 2
			AND first_order_date IS NOT NULL
			AND last_order_date IS NOT NULL`,
		tenantID,
	).Scan(&avg)
	if err != nil {
		return 0, false, fmt.Errorf("tenant avg order gap: %w", err)
	}
	if avg == nil {
		return 0, false, nil
	}
	return *avg, true, nil
}

// SaveRFMThresholds upserts the tenant's quintile cut points.
func (r *CustomerRepository) SaveRFMThresholds(ctx context.Context, tenantID uuid.UUID, th *RFMThresholds) error {
	payload, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("marshal rfm thresholds: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO rfm_thresholds (tenant_id, thresholds, computed_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			thresholds = EXCLUDED.thresholds,
			computed_at = EXCLUDED.computed_at,
			updated_at = now()`,
		tenantID, payload, th.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("save rfm thresholds: %w", err)
	}
	return nil
}

// GetRFMThresholds loads the tenant's quintile cut points. Missing
// thresholds mean no full scoring pass has run yet.
func (r *CustomerRepository) GetRFMThresholds(ctx context.Context, tenantID uuid.UUID) (*RFMThresholds, error) {
	var raw []byte
	err := r.db.QueryRow(ctx,
		`SELECT thresholds FROM rfm_thresholds WHERE tenant_id = $1`,
		tenantID,
	).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound(apperrors.CodeRFMThresholdsMissing, "tenant has no scoring thresholds yet")
	}
	if err != nil {
		return nil, fmt.Errorf("get rfm thresholds: %w", err)
	}
	var th RFMThresholds
	if err := json.Unmarshal(raw, &th); err != nil {
		return nil, fmt.Errorf("decode rfm thresholds: %w", err)
	}
	return &th, nil
}

// AnalyticsSummary computes the tenant-wide aggregate counts in two
// concurrent passes: one over all customers, one grouped by segment.
func (r *CustomerRepository) AnalyticsSummary(ctx context.Context, tenantID uuid.UUID) (*TenantAnalytics, error) {
	summary := &TenantAnalytics{
		SegmentCounts: make(map[domain.RFMSegment]int),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := r.db.QueryRow(gctx, `
			SELECT
				COUNT(*),
				COUNT(*) FILTER (WHERE rfm_computed_at IS NOT NULL),
				COUNT(*) FILTER (WHERE is_high_value),
				COUNT(*) FILTER (WHERE is_churn_risk),
				COALESCE(SUM(total_spent), 0),
				COALESCE(AVG(avg_order_value) FILTER (WHERE orders_count > 0), 0)
			FROM customers
			WHERE tenant_id = $1`,
			tenantID,
		).Scan(
			&summary.TotalCustomers, &summary.ScoredCustomers,
			&summary.HighValueCount, &summary.ChurnRiskCount,
			&summary.TotalRevenue, &summary.AvgOrderValue,
		)
		if err != nil {
			return fmt.Errorf("analytics summary totals: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		rows, err := r.db.Query(gctx, `
			SELECT rfm_segment, COUNT(*)
			FROM customers
			WHERE tenant_id = $1 AND rfm_segment IS NOT NULL
			GROUP BY rfm_segment`,
			tenantID,
		)
		if err != nil {
			return fmt.Errorf("analytics summary segments: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				segment string
				count   int
			)
			if err := rows.Scan(&segment, &count); err != nil {
				return fmt.Errorf("scan segment count: %w", err)
			}
			summary.SegmentCounts[domain.RFMSegment(segment)] = count
		}
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}

// Delete removes a customer on an explicit platform-delete event.
func (r *CustomerRepository) Delete(ctx context.Context, tenantID uuid.UUID, externalID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM customers WHERE tenant_id = $1 AND external_id = $2`,
		tenantID, externalID,
	)
	if err != nil {
		return fmt.Errorf("delete customer %s: %w", externalID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(apperrors.CodeCustomerNotFound, "customer not found")
	}
	return nil
}

func scanCustomerRow(row pgx.Row) (*domain.Customer, error) {
	c, err := scanCustomerFrom(row.Scan)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound(apperrors.CodeCustomerNotFound, "customer not found")
	}
	return c, err
}

func scanCustomer(rows pgx.Rows) (*domain.Customer, error) {
	return scanCustomerFrom(rows.Scan)
}

func scanCustomerFrom(scan func(dest ...any) error) (*domain.Customer, error) {
	var (
		c          domain.Customer
		totalSpent decimal.Decimal
		avgOrder   decimal.Decimal
		segment    *string
	)
	err := scan(
		&c.ID, &c.TenantID, &c.ExternalID, &c.Email, &c.FirstName, &c.LastName,
		&c.OrdersCount, &totalSpent, &avgOrder, &c.FirstOrderDate, &c.LastOrderDate,
		&c.RecencyScore, &c.FrequencyScore, &c.MonetaryScore, &segment,
		&c.IsHighValue, &c.IsChurnRisk, &c.RFMComputedAt,
		&c.SourceCreatedAt, &c.SourceUpdatedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.TotalSpent = totalSpent
	c.AvgOrderValue = avgOrder
	if segment != nil {
		c.RFMSegment = domain.RFMSegment(*segment)
	}
	if c.LastOrderDate != nil {
		days := int(time.Since(*c.LastOrderDate).Hours() / 24)
		c.DaysSinceLastOrder = &days
	}
	return &c, nil
}
