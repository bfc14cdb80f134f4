package rfm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/repository"
)

// CustomerStore is the persistence surface the engine needs.
type CustomerStore interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Customer, error)
	ListRFMEligible(ctx context.Context, tenantID uuid.UUID) ([]domain.Customer, error)
	UpdateRFMBatch(ctx context.Context, tenantID uuid.UUID, updates []repository.RFMUpdate) error
	SaveRFMThresholds(ctx context.Context, tenantID uuid.UUID, th *repository.RFMThresholds) error
	GetRFMThresholds(ctx context.Context, tenantID uuid.UUID) (*repository.RFMThresholds, error)
}

// ProgressFunc receives running counters after every written batch.
type ProgressFunc func(processed, total int)

// Summary is the result of one tenant-wide scoring pass.
type Summary struct {
	TotalCustomers int
	Updated        int
	Errors         int
	Duration       time.Duration
	SegmentCounts  map[domain.RFMSegment]int
	HighValueCount int
}

// Engine computes RFM scores for whole tenants and single customers.
type Engine struct {
	customers CustomerStore
	cfg       config.AnalyticsConfig
}

// NewEngine creates an RFM engine.
func NewEngine(customers CustomerStore, cfg config.AnalyticsConfig) *Engine {
	return &Engine{customers: customers, cfg: cfg}
}

// ScoreTenant scores every eligible customer of the tenant. An empty
// eligible population is a no-op, not an error. Batch write failures
// are counted and the run continues with the next batch.
func (e *Engine) ScoreTenant(ctx context.Context, tenantID uuid.UUID, onProgress ProgressFunc) (*Summary, error) {
	start := time.Now()

	customers, err := e.customers.ListRFMEligible(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		TotalCustomers: len(customers),
		SegmentCounts:  make(map[domain.RFMSegment]int),
	}
	if len(customers) == 0 {
		summary.Duration = time.Since(start)
		return summary, nil
	}

	updates, thresholds := e.buildUpdates(customers, summary)

	// Persist the cut points so single-customer rescoring can bucket
	// against this pass instead of re-ranking everyone. A failed save
	// leaves the previous pass's thresholds in place.
	if err := e.customers.SaveRFMThresholds(ctx, tenantID, &thresholds); err != nil {
		logger.Warn("Failed to save RFM thresholds",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
	}

	batchSize := e.cfg.RFMBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	processed := 0
	for from := 0; from < len(updates); from += batchSize {
		to := from + batchSize
		if to > len(updates) {
			to = len(updates)
		}
		batch := updates[from:to]

		if err := e.customers.UpdateRFMBatch(ctx, tenantID, batch); err != nil {
			summary.Errors += len(batch)
			logger.Warn("RFM batch write failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
		} else {
			summary.Updated += len(batch)
		}

		processed += len(batch)
		if onProgress != nil {
			onProgress(processed, len(updates))
		}
	}

	summary.Duration = time.Since(start)
	logger.Info("RFM scoring finished",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("total", summary.TotalCustomers),
		zap.Int("updated", summary.Updated),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// ScoreCustomer rescores one customer by bucketing its axis values
// against the thresholds captured by the last tenant-wide pass, and
// writes only that customer. Used after single-order events where
// re-ranking the whole population would be wasteful. Until the first
// sweep has stored thresholds this returns CodeRFMThresholdsMissing.
func (e *Engine) ScoreCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (*repository.RFMUpdate, error) {
	c, err := e.customers.GetByID(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	if c.OrdersCount == 0 || c.LastOrderDate == nil {
		return nil, apperrors.BadRequest(apperrors.CodeRFMNotComputed, "customer is not eligible for scoring")
	}

	th, err := e.customers.GetRFMThresholds(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	scores := domain.RFMScores{
		Recency:   bucketRecency(daysSince(c.LastOrderDate, now), th.RecencyDays),
		Frequency: bucketAscInt(c.OrdersCount, th.FrequencyOrders),
		Monetary:  bucketAscDecimal(c.TotalSpent, th.MonetarySpend),
	}

	churnDays := e.cfg.ChurnRiskDays
	if churnDays <= 0 {
		churnDays = 90
	}

	update := repository.RFMUpdate{
		CustomerID:  c.ID,
		Recency:     scores.Recency,
		Frequency:   scores.Frequency,
		Monetary:    scores.Monetary,
		Segment:     Classify(scores),
		IsHighValue: th.HighValueSpend != nil && c.TotalSpent.Cmp(*th.HighValueSpend) >= 0,
		IsChurnRisk: daysSince(c.LastOrderDate, now) >= churnDays,
		ComputedAt:  now,
	}
	if err := e.customers.UpdateRFMBatch(ctx, tenantID, []repository.RFMUpdate{update}); err != nil {
		return nil, err
	}
	return &update, nil
}

// buildUpdates ranks the population and derives segment, high-value and
// coarse churn flags for every customer, plus the thresholds the pass
// produced.
func (e *Engine) buildUpdates(customers []domain.Customer, summary *Summary) ([]repository.RFMUpdate, repository.RFMThresholds) {
	now := time.Now().UTC()

	rankables := make([]rankable, len(customers))
	spends := make([]decimal.Decimal, len(customers))
	for i, c := range customers {
		rankables[i] = rankable{
			id:         c.ID,
			days:       daysSince(c.LastOrderDate, now),
			orders:     c.OrdersCount,
			totalSpent: c.TotalSpent,
		}
		spends[i] = c.TotalSpent
	}

	scores, cuts := scorePopulation(rankables)

	sortDecimals(spends)
	percentile := e.cfg.HighValuePercentile
	if percentile <= 0 || percentile >= 1 {
		percentile = 0.9
	}
	threshold, hasThreshold := nearestRankThreshold(spends, percentile)

	thresholds := repository.RFMThresholds{
		RecencyDays:     cuts.recencyDays,
		FrequencyOrders: cuts.frequencyOrders,
		MonetarySpend:   cuts.monetarySpend,
		Population:      len(customers),
		ComputedAt:      now,
	}
	if hasThreshold {
		hv := threshold
		thresholds.HighValueSpend = &hv
	}

	churnDays := e.cfg.ChurnRiskDays
	if churnDays <= 0 {
		churnDays = 90
	}

	updates := make([]repository.RFMUpdate, 0, len(customers))
	for i, c := range customers {
		s := scores[c.ID]
		segment := Classify(s)
		highValue := hasThreshold && c.TotalSpent.Cmp(threshold) >= 0

		summary.SegmentCounts[segment]++
		if highValue {
			summary.HighValueCount++
		}

		updates = append(updates, repository.RFMUpdate{
			CustomerID:  c.ID,
			Recency:     s.Recency,
			Frequency:   s.Frequency,
			Monetary:    s.Monetary,
			Segment:     segment,
			IsHighValue: highValue,
			IsChurnRisk: rankables[i].days >= churnDays,
			ComputedAt:  now,
		})
	}
	return updates, thresholds
}

func daysSince(t *time.Time, now time.Time) int {
	if t == nil {
		return 0
	}
	d := int(now.Sub(*t).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
