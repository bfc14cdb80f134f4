package segment

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/repository"
)

// Store is the segment persistence surface the engine needs.
type Store interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Segment, error)
	CurrentMemberIDs(ctx context.Context, segmentID uuid.UUID) ([]uuid.UUID, error)
	EvaluateFilter(ctx context.Context, tenantID uuid.UUID, whereClause string, args []any) ([]repository.MemberCandidate, error)
	ApplyMembershipDiff(ctx context.Context, tenantID, segmentID uuid.UUID, diff repository.MembershipDiff) error
}

// Evaluation is the result of running a filter against the population.
type Evaluation struct {
	CustomerIDs []uuid.UUID     `json:"customer_ids"`
	TotalCount  int             `json:"total_count"`
	TotalSpent  decimal.Decimal `json:"total_spent"`
}

// MembershipResult summarizes one diff-and-apply pass.
type MembershipResult struct {
	PreviousCount int           `json:"previous_count"`
	NewCount      int           `json:"new_count"`
	Added         int           `json:"added"`
	Removed       int           `json:"removed"`
	Duration      time.Duration `json:"duration"`
}

// Engine evaluates segment filters and maintains memberships.
type Engine struct {
	store Store
}

// NewEngine creates a segment engine.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// ValidateFilters rejects schema-invalid filter trees with structured
// field errors. Called before a definition is accepted and again before
// every evaluation, so a stored filter that predates a field rename
// fails loudly instead of mid-query.
func (e *Engine) ValidateFilters(filters domain.FilterGroup) error {
	if errs := Validate(filters); len(errs) > 0 {
		return apperrors.ErrSegmentFilterInvalid(errs)
	}
	return nil
}

// Evaluate runs a filter against the tenant's customers.
func (e *Engine) Evaluate(ctx context.Context, tenantID uuid.UUID, filters domain.FilterGroup) (*Evaluation, error) {
	if err := e.ValidateFilters(filters); err != nil {
		return nil, err
	}

	// Tenant id occupies $1 in the repository's wrapper query.
	clause, args, err := BuildWhere(filters, 2)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSegmentFilterInvalid, "compile segment filter", http.StatusBadRequest)
	}

	matches, err := e.store.EvaluateFilter(ctx, tenantID, clause, args)
	if err != nil {
		return nil, err
	}

	eval := &Evaluation{
		CustomerIDs: make([]uuid.UUID, 0, len(matches)),
		TotalCount:  len(matches),
		TotalSpent:  decimal.Zero,
	}
	for _, m := range matches {
		eval.CustomerIDs = append(eval.CustomerIDs, m.CustomerID)
		eval.TotalSpent = eval.TotalSpent.Add(m.TotalSpent)
	}
	return eval, nil
}

// ComputeMembership re-evaluates a segment's filter and applies the
// membership diff atomically. Partial application is never observable:
// adds, removes and the cached stats land in one transaction.
func (e *Engine) ComputeMembership(ctx context.Context, tenantID, segmentID uuid.UUID) (*MembershipResult, error) {
	start := time.Now()

	seg, err := e.store.GetByID(ctx, tenantID, segmentID)
	if err != nil {
		return nil, err
	}
	if err := e.ValidateFilters(seg.Filters); err != nil {
		return nil, err
	}

	clause, args, err := BuildWhere(seg.Filters, 2)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSegmentFilterInvalid, "compile segment filter", http.StatusBadRequest)
	}

	matches, err := e.store.EvaluateFilter(ctx, tenantID, clause, args)
	if err != nil {
		return nil, err
	}

	previous, err := e.store.CurrentMemberIDs(ctx, segmentID)
	if err != nil {
		return nil, err
	}

	previousSet := make(map[uuid.UUID]bool, len(previous))
	for _, id := range previous {
		previousSet[id] = true
	}

	now := time.Now().UTC()
	revenue := decimal.Zero
	var added []domain.SegmentMember
	matchedSet := make(map[uuid.UUID]bool, len(matches))

	for _, m := range matches {
		matchedSet[m.CustomerID] = true
		revenue = revenue.Add(m.TotalSpent)
		if previousSet[m.CustomerID] {
			continue
		}
		added = append(added, domain.SegmentMember{
			SegmentID:          segmentID,
			CustomerID:         m.CustomerID,
			TotalSpentSnapshot: m.TotalSpent,
			RFMSegmentSnapshot: m.RFMSegment,
			AddedAt:            now,
		})
	}

	var removed []uuid.UUID
	for _, id := range previous {
		if !matchedSet[id] {
			removed = append(removed, id)
		}
	}

	diff := repository.MembershipDiff{
		Added:         added,
		RemovedIDs:    removed,
		CustomerCount: len(matches),
		Revenue:       revenue,
		ComputedAt:    now,
	}
	if err := e.store.ApplyMembershipDiff(ctx, tenantID, segmentID, diff); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSegmentApplyFailed, "apply membership diff", http.StatusInternalServerError)
	}

	result := &MembershipResult{
		PreviousCount: len(previous),
		NewCount:      len(matches),
		Added:         len(added),
		Removed:       len(removed),
		Duration:      time.Since(start),
	}
	logger.Info("Segment membership recomputed",
		zap.String("segment_id", segmentID.String()),
		zap.Int("previous", result.PreviousCount),
		zap.Int("current", result.NewCount),
		zap.Int("added", result.Added),
		zap.Int("removed", result.Removed),
	)
	return result, nil
}
