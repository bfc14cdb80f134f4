package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
)

// MemberCandidate is one customer matched by a segment filter, with the
// fields snapshotted at membership-add time.
type MemberCandidate struct {
	CustomerID uuid.UUID
	TotalSpent decimal.Decimal
	RFMSegment domain.RFMSegment
}

// MembershipDiff is the atomic change set computeMembership applies to
// one segment.
type MembershipDiff struct {
	Added         []domain.SegmentMember
	RemovedIDs    []uuid.UUID
	CustomerCount int
	Revenue       decimal.Decimal
	ComputedAt    time.Time
}

// SegmentStore defines persistence operations for segments.
type SegmentStore interface {
	Create(ctx context.Context, s *domain.Segment) error
	Update(ctx context.Context, s *domain.Segment) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Segment, error)
	ListActive(ctx context.Context, tenantID uuid.UUID) ([]domain.Segment, error)
	CurrentMemberIDs(ctx context.Context, segmentID uuid.UUID) ([]uuid.UUID, error)
	EvaluateFilter(ctx context.Context, tenantID uuid.UUID, whereClause string, args []any) ([]MemberCandidate, error)
	ApplyMembershipDiff(ctx context.Context, tenantID, segmentID uuid.UUID, diff MembershipDiff) error
}

// SegmentRepository implements SegmentStore using pgx.
type SegmentRepository struct {
	db DB
}

// NewSegmentRepository creates a new SegmentRepository.
func NewSegmentRepository(db DB) *SegmentRepository {
	return &SegmentRepository{db: db}
}

const segmentColumns = `id, tenant_id, name, description, filters,
	customer_count, estimated_revenue, last_computed_at, is_active, created_at, updated_at`

// Create inserts a new segment definition.
func (r *SegmentRepository) Create(ctx context.Context, s *domain.Segment) error {
	filters, err := json.Marshal(s.Filters)
	if err != nil {
		return fmt.Errorf("marshal segment filters: %w", err)
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO segments (id, tenant_id, name, description, filters, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at`,
		s.ID, s.TenantID, s.Name, s.Description, filters, s.IsActive,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create segment %q: %w", s.Name, err)
	}
	return nil
}

// Update rewrites a segment's definition fields.
func (r *SegmentRepository) Update(ctx context.Context, s *domain.Segment) error {
	filters, err := json.Marshal(s.Filters)
	if err != nil {
		return fmt.Errorf("marshal segment filters: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE segments SET
			name = $3, description = $4, filters = $5, is_active = $6, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`,
		s.TenantID, s.ID, s.Name, s.Description, filters, s.IsActive,
	)
	if err != nil {
		return fmt.Errorf("update segment %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrSegmentNotFoundf(s.ID.String())
	}
	return nil
}

// Delete removes a segment and, via FK cascade, its memberships.
func (r *SegmentRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM segments WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete segment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrSegmentNotFoundf(id.String())
	}
	return nil
}

// GetByID loads one segment.
func (r *SegmentRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Segment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	s, err := scanSegment(row.Scan)
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrSegmentNotFoundf(id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get segment %s: %w", id, err)
	}
	return s, nil
}

// ListActive returns every active segment for the tenant.
func (r *SegmentRepository) ListActive(ctx context.Context, tenantID uuid.UUID) ([]domain.Segment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+segmentColumns+` FROM segments
		WHERE tenant_id = $1 AND is_active ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active segments: %w", err)
	}
	defer rows.Close()

	var segments []domain.Segment
	for rows.Next() {
		s, err := scanSegment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, *s)
	}
	return segments, rows.Err()
}

// CurrentMemberIDs returns the customer ids currently in the segment.
func (r *SegmentRepository) CurrentMemberIDs(ctx context.Context, segmentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT customer_id FROM segment_members WHERE segment_id = $1`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("list segment members: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EvaluateFilter runs a validated filter's WHERE clause against the
// tenant's customers and returns the matches with snapshot fields.
// whereClause comes from the segment engine's SQL builder and contains
// only parameter placeholders, never literal values.
func (r *SegmentRepository) EvaluateFilter(ctx context.Context, tenantID uuid.UUID, whereClause string, args []any) ([]MemberCandidate, error) {
	query := `SELECT id, total_spent, COALESCE(rfm_segment, '') FROM customers WHERE tenant_id = $1`
	if whereClause != "" {
		query += ` AND (` + whereClause + `)`
	}
	allArgs := append([]any{tenantID}, args...)

	rows, err := r.db.Query(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("evaluate segment filter: %w", err)
	}
	defer rows.Close()

	var matches []MemberCandidate
	for rows.Next() {
		var (
			m   MemberCandidate
			seg string
		)
		if err := rows.Scan(&m.CustomerID, &m.TotalSpent, &seg); err != nil {
			return nil, fmt.Errorf("scan filter match: %w", err)
		}
		m.RFMSegment = domain.RFMSegment(seg)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ApplyMembershipDiff applies adds and removes and refreshes the cached
// stats in one transaction. A failure rolls back the whole diff.
func (r *SegmentRepository) ApplyMembershipDiff(ctx context.Context, tenantID, segmentID uuid.UUID, diff MembershipDiff) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, id := range diff.RemovedIDs {
			if _, err := tx.Exec(ctx,
				`DELETE FROM segment_members WHERE segment_id = $1 AND customer_id = $2`,
				segmentID, id,
			); err != nil {
				return fmt.Errorf("remove member %s: %w", id, err)
			}
		}

		for _, m := range diff.Added {
			if _, err := tx.Exec(ctx, `
				INSERT INTO segment_members (segment_id, customer_id, total_spent_snapshot, rfm_segment_snapshot, added_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (segment_id, customer_id) DO NOTHING`,
				segmentID, m.CustomerID, m.TotalSpentSnapshot, m.RFMSegmentSnapshot, m.AddedAt,
			); err != nil {
				return fmt.Errorf("add member %s: %w", m.CustomerID, err)
			}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE segments SET
				customer_count = $3, estimated_revenue = $4, last_computed_at = $5, updated_at = now()
			WHERE tenant_id = $1 AND id = $2`,
			tenantID, segmentID, diff.CustomerCount, diff.Revenue, diff.ComputedAt,
		)
		if err != nil {
			return fmt.Errorf("update segment stats: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.ErrSegmentNotFoundf(segmentID.String())
		}
		return nil
	})
}

func scanSegment(scan func(dest ...any) error) (*domain.Segment, error) {
	var (
		s       domain.Segment
		filters []byte
	)
	err := scan(
		&s.ID, &s.TenantID, &s.Name, &s.Description, &filters,
		&s.CustomerCount, &s.EstimatedRevenue, &s.LastComputedAt,
		&s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &s.Filters); err != nil {
			return nil, fmt.Errorf("unmarshal segment filters: %w", err)
		}
	}
	return &s, nil
}
