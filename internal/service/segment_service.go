package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/jobs"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/repository"
	"merchpulse.io/pulse/internal/segment"
)

// SegmentRequest carries the mutable fields of a segment definition.
type SegmentRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Filters     domain.FilterGroup `json:"filters"`
	IsActive    *bool              `json:"is_active,omitempty"`
}

// SegmentService manages segment definitions. Membership is never
// computed inline; every definition change enqueues a recompute on the
// segment queue.
type SegmentService struct {
	segments repository.SegmentStore
	engine   *segment.Engine
	river    JobInserter
}

// NewSegmentService creates a new SegmentService.
func NewSegmentService(segments repository.SegmentStore, engine *segment.Engine, riverClient JobInserter) *SegmentService {
	return &SegmentService{segments: segments, engine: engine, river: riverClient}
}

// Create validates and persists a new segment, then schedules its first
// membership computation.
func (s *SegmentService) Create(ctx context.Context, tenantID uuid.UUID, req SegmentRequest) (*domain.Segment, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	seg := &domain.Segment{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Filters:     req.Filters,
		IsActive:    true,
	}
	if req.IsActive != nil {
		seg.IsActive = *req.IsActive
	}
	if err := s.segments.Create(ctx, seg); err != nil {
		return nil, fmt.Errorf("create segment: %w", err)
	}

	s.scheduleRefresh(ctx, seg)
	return seg, nil
}

// Update replaces the definition of an existing segment and schedules a
// membership recompute against the new filters.
func (s *SegmentService) Update(ctx context.Context, tenantID, segmentID uuid.UUID, req SegmentRequest) (*domain.Segment, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	seg, err := s.segments.GetByID(ctx, tenantID, segmentID)
	if err != nil {
		return nil, err
	}
	seg.Name = req.Name
	seg.Description = req.Description
	seg.Filters = req.Filters
	if req.IsActive != nil {
		seg.IsActive = *req.IsActive
	}
	if err := s.segments.Update(ctx, seg); err != nil {
		return nil, err
	}

	if seg.IsActive {
		s.scheduleRefresh(ctx, seg)
	}
	return seg, nil
}

// Delete removes a segment and its membership rows.
func (s *SegmentService) Delete(ctx context.Context, tenantID, segmentID uuid.UUID) error {
	return s.segments.Delete(ctx, tenantID, segmentID)
}

// Get loads one segment with its cached membership stats.
func (s *SegmentService) Get(ctx context.Context, tenantID, segmentID uuid.UUID) (*domain.Segment, error) {
	return s.segments.GetByID(ctx, tenantID, segmentID)
}

// List returns the tenant's active segments.
func (s *SegmentService) List(ctx context.Context, tenantID uuid.UUID) ([]domain.Segment, error) {
	return s.segments.ListActive(ctx, tenantID)
}

// Preview evaluates a filter group without persisting anything, for
// the segment-builder UI.
func (s *SegmentService) Preview(ctx context.Context, tenantID uuid.UUID, filters domain.FilterGroup) (*segment.Evaluation, error) {
	if err := s.engine.ValidateFilters(filters); err != nil {
		return nil, err
	}
	return s.engine.Evaluate(ctx, tenantID, filters)
}

// Refresh schedules a membership recompute for one segment on demand.
func (s *SegmentService) Refresh(ctx context.Context, tenantID, segmentID uuid.UUID) error {
	seg, err := s.segments.GetByID(ctx, tenantID, segmentID)
	if err != nil {
		return err
	}
	_, err = s.river.Insert(ctx, jobs.SegmentUpdateArgs{
		TenantID:  seg.TenantID,
		SegmentID: seg.ID,
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueue segment refresh: %w", err)
	}
	return nil
}

func (s *SegmentService) validate(req *SegmentRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid segment").
			WithFieldErrors([]apperrors.FieldError{{Field: "name", Message: "is required"}})
	}
	return s.engine.ValidateFilters(req.Filters)
}

func (s *SegmentService) scheduleRefresh(ctx context.Context, seg *domain.Segment) {
	_, err := s.river.Insert(ctx, jobs.SegmentUpdateArgs{
		TenantID:  seg.TenantID,
		SegmentID: seg.ID,
	}, nil)
	if err != nil {
		// The periodic sweep after the next RFM pass will pick it up.
		logger.Warn("segment refresh enqueue failed",
			zap.String("segment_id", seg.ID.String()),
			zap.Error(err),
		)
	}
}
