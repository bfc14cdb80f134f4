package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/segment"
)

// SegmentUpdateArgs recomputes membership for one segment.
type SegmentUpdateArgs struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	SegmentID uuid.UUID `json:"segment_id"`
}

// Kind returns the job kind identifier for segment refreshes.
func (SegmentUpdateArgs) Kind() string { return "segment_update" }

// InsertOpts returns default insert options for segment refreshes.
func (SegmentUpdateArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueSegment,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

// SegmentUpdateWorker recomputes one segment's membership.
type SegmentUpdateWorker struct {
	river.WorkerDefaults[SegmentUpdateArgs]
	engine     *segment.Engine
	dispatcher *domain.EventDispatcher
}

// NewSegmentUpdateWorker creates a segment refresh worker.
func NewSegmentUpdateWorker(engine *segment.Engine, dispatcher *domain.EventDispatcher) *SegmentUpdateWorker {
	return &SegmentUpdateWorker{engine: engine, dispatcher: dispatcher}
}

// Work recomputes the membership and publishes the delta.
func (w *SegmentUpdateWorker) Work(ctx context.Context, job *river.Job[SegmentUpdateArgs]) error {
	result, err := w.engine.ComputeMembership(ctx, job.Args.TenantID, job.Args.SegmentID)
	if err != nil {
		// Segments deleted or deactivated between enqueue and execution
		// are not worth retrying.
		if appErr, ok := apperrors.IsAppError(err); ok && appErr.Code == apperrors.CodeSegmentNotFound {
			logger.Info("Segment gone before refresh, dropping job",
				zap.String("segment_id", job.Args.SegmentID.String()),
			)
			return river.JobCancel(err)
		}
		return fmt.Errorf("refresh segment %s: %w", job.Args.SegmentID, err)
	}

	dispatchEvent(ctx, w.dispatcher, domain.EventSegmentUpdated, job.Args.TenantID, domain.SegmentEventPayload{
		SegmentID:     job.Args.SegmentID.String(),
		CustomerCount: result.NewCount,
		Added:         result.Added,
		Removed:       result.Removed,
	})

	logger.Info("Segment membership refreshed",
		zap.String("segment_id", job.Args.SegmentID.String()),
		zap.Int("members", result.NewCount),
		zap.Int("added", result.Added),
		zap.Int("removed", result.Removed),
		zap.Duration("elapsed", result.Duration),
	)
	return nil
}
