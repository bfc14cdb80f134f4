package churn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/pkg/worker"
	"merchpulse.io/pulse/internal/repository"
)

// CustomerStore is the customer persistence surface the engine needs.
type CustomerStore interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Customer, error)
	ListRFMEligible(ctx context.Context, tenantID uuid.UUID) ([]domain.Customer, error)
	UpdateChurnBatch(ctx context.Context, tenantID uuid.UUID, updates []repository.ChurnUpdate) error
	TenantAvgOrderGapDays(ctx context.Context, tenantID uuid.UUID) (float64, bool, error)
}

// OrderStore supplies order history for expected-interval estimation.
type OrderStore interface {
	CountedOrderDates(ctx context.Context, tenantID, customerID uuid.UUID) ([]time.Time, error)
}

// Prediction is the churn estimate for one customer.
type Prediction struct {
	CustomerID       uuid.UUID `json:"customer_id"`
	ChurnProbability float64   `json:"churn_probability"`
	RiskLevel        RiskLevel `json:"risk_level"`
	DaysOverdue      int       `json:"days_overdue"`
	ExpectedInterval float64   `json:"expected_interval_days"`
	Factors          []string  `json:"factors"`
	Recommendation   string    `json:"recommendation"`
}

// TenantSummary is the result of a tenant-wide churn sweep.
type TenantSummary struct {
	CustomersScored int
	Errors          int
	Duration        time.Duration
	RiskBands       map[RiskLevel]int
	BySegment       map[domain.RFMSegment]int
}

// Engine predicts churn per customer and sweeps whole tenants.
type Engine struct {
	customers CustomerStore
	orders    OrderStore
	pools     *worker.Pools
	cfg       config.AnalyticsConfig
}

// NewEngine creates a churn engine. A nil pools runs sweeps
// sequentially on the calling goroutine.
func NewEngine(customers CustomerStore, orders OrderStore, pools *worker.Pools, cfg config.AnalyticsConfig) *Engine {
	return &Engine{customers: customers, orders: orders, pools: pools, cfg: cfg}
}

// Predict estimates churn for one customer. Returns nil for customers
// without counted orders.
func (e *Engine) Predict(ctx context.Context, tenantID, customerID uuid.UUID) (*Prediction, error) {
	c, err := e.customers.GetByID(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	if !c.RFMEligible() {
		return nil, nil
	}

	tenantAvg, hasTenantAvg, err := e.customers.TenantAvgOrderGapDays(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return e.predictOne(ctx, c, tenantAvg, hasTenantAvg)
}

func (e *Engine) predictOne(ctx context.Context, c *domain.Customer, tenantAvg float64, hasTenantAvg bool) (*Prediction, error) {
	interval, err := e.expectedInterval(ctx, c, tenantAvg, hasTenantAvg)
	if err != nil {
		return nil, err
	}

	days := 0
	if c.DaysSinceLastOrder != nil {
		days = *c.DaysSinceLastOrder
	}
	overdue := days - int(interval)
	if overdue < 0 {
		overdue = 0
	}

	scores := domain.RFMScores{Recency: c.RecencyScore, Frequency: c.FrequencyScore, Monetary: c.MonetaryScore}
	lambda := decayRate(c.RFMSegment, scores, c.IsHighValue)
	p := probability(lambda, overdue)
	band := bandFor(p)

	pred := &Prediction{
		CustomerID:       c.ID,
		ChurnProbability: p,
		RiskLevel:        band,
		DaysOverdue:      overdue,
		ExpectedInterval: interval,
		Recommendation:   recommendationFor(band),
	}
	pred.Factors = factorsFor(c, overdue, interval)
	return pred, nil
}

// CalculateForTenant sweeps every eligible customer, rewrites the
// isChurnRisk flag from the MEDIUM cutoff and returns risk histograms.
// Per-customer and per-batch failures are counted, never fatal.
func (e *Engine) CalculateForTenant(ctx context.Context, tenantID uuid.UUID) (*TenantSummary, error) {
	start := time.Now()

	customers, err := e.customers.ListRFMEligible(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	summary := &TenantSummary{
		RiskBands: make(map[RiskLevel]int),
		BySegment: make(map[domain.RFMSegment]int),
	}
	if len(customers) == 0 {
		summary.Duration = time.Since(start)
		return summary, nil
	}

	tenantAvg, hasTenantAvg, err := e.customers.TenantAvgOrderGapDays(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	batchSize := e.cfg.RFMBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	preds := e.predictAll(ctx, customers, tenantAvg, hasTenantAvg)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var batch []repository.ChurnUpdate
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := e.customers.UpdateChurnBatch(ctx, tenantID, batch); err != nil {
			summary.Errors += len(batch)
			logger.Warn("Churn batch write failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
		} else {
			summary.CustomersScored += len(batch)
		}
		batch = batch[:0]
	}

	for i := range customers {
		c := &customers[i]
		pred := preds[i]
		if pred == nil {
			summary.Errors++
			continue
		}

		summary.RiskBands[pred.RiskLevel]++
		if c.RFMSegment != "" {
			summary.BySegment[c.RFMSegment]++
		}

		batch = append(batch, repository.ChurnUpdate{
			CustomerID:  c.ID,
			IsChurnRisk: pred.ChurnProbability >= MediumThreshold,
		})
		if len(batch) >= batchSize {
			flush()
		}
	}
	flush()

	summary.Duration = time.Since(start)
	logger.Info("Churn sweep finished",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("scored", summary.CustomersScored),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// predictAll runs predictOne over every customer, fanning out on the
// general pool when one is available. Results are indexed to match the
// input; a nil entry marks a failed prediction.
func (e *Engine) predictAll(ctx context.Context, customers []domain.Customer, tenantAvg float64, hasTenantAvg bool) []*Prediction {
	preds := make([]*Prediction, len(customers))

	score := func(ctx context.Context, i int) {
		c := &customers[i]
		pred, err := e.predictOne(ctx, c, tenantAvg, hasTenantAvg)
		if err != nil {
			logger.Warn("Churn prediction failed",
				zap.String("customer_id", c.ID.String()),
				zap.Error(err),
			)
			return
		}
		preds[i] = pred
	}

	if e.pools == nil {
		for i := range customers {
			score(ctx, i)
		}
		return preds
	}

	// Queued tasks are skipped once ctx is cancelled, so the wait
	// selects on ctx.Done rather than counting every submission down.
	done := make(chan struct{}, len(customers))
	submitted := 0
	for i := range customers {
		i := i
		if err := e.pools.General.Submit(ctx, func(taskCtx context.Context) {
			score(taskCtx, i)
			done <- struct{}{}
		}); err != nil {
			// Pool refused the task; score inline so the sweep still
			// covers every customer.
			score(ctx, i)
			continue
		}
		submitted++
	}
	for n := 0; n < submitted; n++ {
		select {
		case <-done:
		case <-ctx.Done():
			return preds
		}
	}
	return preds
}

// expectedInterval is the median gap between the customer's counted
// orders, floored at the configured minimum. Single-order customers
// fall back to the tenant average, then the configured default.
func (e *Engine) expectedInterval(ctx context.Context, c *domain.Customer, tenantAvg float64, hasTenantAvg bool) (float64, error) {
	minInterval := float64(e.cfg.MinExpectedIntervalDays)
	if minInterval <= 0 {
		minInterval = 7
	}
	defaultInterval := float64(e.cfg.DefaultExpectedIntervalDays)
	if defaultInterval <= 0 {
		defaultInterval = 90
	}

	if c.OrdersCount >= 2 {
		dates, err := e.orders.CountedOrderDates(ctx, c.TenantID, c.ID)
		if err != nil {
			return 0, err
		}
		if median, ok := medianGapDays(dates); ok {
			if median < minInterval {
				return minInterval, nil
			}
			return median, nil
		}
	}

	if hasTenantAvg {
		if tenantAvg < minInterval {
			return minInterval, nil
		}
		return tenantAvg, nil
	}
	return defaultInterval, nil
}

func factorsFor(c *domain.Customer, overdue int, interval float64) []string {
	var factors []string
	if overdue > 0 {
		factors = append(factors, fmt.Sprintf("%d days past the expected %.0f-day reorder interval", overdue, interval))
	} else {
		factors = append(factors, fmt.Sprintf("within the expected %.0f-day reorder interval", interval))
	}
	if c.RFMSegment != "" {
		factors = append(factors, fmt.Sprintf("behavioral segment %s", c.RFMSegment))
	}
	if c.IsHighValue {
		factors = append(factors, "high-value customer, decay dampened")
	}
	if c.OrdersCount == 1 {
		factors = append(factors, "single order, interval estimated from tenant history")
	}
	return factors
}

func recommendationFor(band RiskLevel) string {
	switch band {
	case RiskCritical:
		return "Send a win-back offer now; this customer is effectively lost without intervention"
	case RiskHigh:
		return "Reach out with a personalized re-engagement campaign"
	case RiskMedium:
		return "Include in the next retention campaign"
	default:
		return "No action needed"
	}
}
