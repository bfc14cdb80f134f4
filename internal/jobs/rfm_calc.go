package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/repository"
	"merchpulse.io/pulse/internal/rfm"
)

// RFMSweepArgs scores every eligible customer of a tenant.
type RFMSweepArgs struct {
	TenantID uuid.UUID `json:"tenant_id"`
}

// Kind returns the job kind identifier for tenant-wide RFM sweeps.
func (RFMSweepArgs) Kind() string { return "rfm_sweep" }

// InsertOpts returns default insert options for RFM sweeps. Sweeps are
// resource-heavy and run on the narrow bulk queue; uniqueness collapses
// redundant sweeps queued while one is already pending.
func (RFMSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueBulk,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

// RFMSweepWorker runs the tenant-wide scoring pass, then fans out
// segment refreshes and the churn sweep.
type RFMSweepWorker struct {
	river.WorkerDefaults[RFMSweepArgs]
	engine     *rfm.Engine
	segments   repository.SegmentStore
	locker     *redislock.Client
	dispatcher *domain.EventDispatcher
	cfg        config.AnalyticsConfig
}

// NewRFMSweepWorker creates an RFM sweep worker.
func NewRFMSweepWorker(engine *rfm.Engine, segments repository.SegmentStore, locker *redislock.Client, dispatcher *domain.EventDispatcher, cfg config.AnalyticsConfig) *RFMSweepWorker {
	return &RFMSweepWorker{
		engine:     engine,
		segments:   segments,
		locker:     locker,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Work executes the sweep under a per-tenant lock. A concurrent sweep
// for the same tenant snoozes rather than double-scoring.
func (w *RFMSweepWorker) Work(ctx context.Context, job *river.Job[RFMSweepArgs]) error {
	tenantID := job.Args.TenantID

	err := withTenantLock(ctx, w.locker, "lock:rfm:"+tenantID.String(), w.cfg.TenantLockTTL, func(ctx context.Context) error {
		return w.sweep(ctx, tenantID)
	})
	if err == redislock.ErrNotObtained {
		logger.Info("RFM sweep already running for tenant, snoozing",
			zap.String("tenant_id", tenantID.String()),
		)
		return river.JobSnooze(30 * time.Second)
	}
	return err
}

func (w *RFMSweepWorker) sweep(ctx context.Context, tenantID uuid.UUID) error {
	summary, err := w.engine.ScoreTenant(ctx, tenantID, func(processed, total int) {
		logger.Debug("RFM sweep progress",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("processed", processed),
			zap.Int("total", total),
		)
	})
	if err != nil {
		return fmt.Errorf("score tenant %s: %w", tenantID, err)
	}

	segmentCounts := make(map[string]int, len(summary.SegmentCounts))
	for seg, n := range summary.SegmentCounts {
		segmentCounts[string(seg)] = n
	}
	dispatchEvent(ctx, w.dispatcher, domain.EventRFMCompleted, tenantID, domain.RFMEventPayload{
		CustomersScored: summary.Updated,
		SegmentCounts:   segmentCounts,
		HighValueCount:  summary.HighValueCount,
	})

	client := river.ClientFromContext[pgx.Tx](ctx)
	if _, err := client.Insert(ctx, ChurnSweepArgs{TenantID: tenantID}, nil); err != nil {
		return fmt.Errorf("enqueue churn sweep for tenant %s: %w", tenantID, err)
	}

	// Scores changed, so segment membership may have too. Stagger the
	// refreshes so a tenant with many segments does not monopolize the
	// segment queue.
	segments, err := w.segments.ListActive(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list active segments for tenant %s: %w", tenantID, err)
	}
	stagger := w.cfg.SegmentRefreshStagger
	if stagger <= 0 {
		stagger = 2 * time.Second
	}
	for i, seg := range segments {
		opts := &river.InsertOpts{
			ScheduledAt: time.Now().Add(time.Duration(i) * stagger),
		}
		if _, err := client.Insert(ctx, SegmentUpdateArgs{TenantID: tenantID, SegmentID: seg.ID}, opts); err != nil {
			return fmt.Errorf("enqueue segment refresh %s: %w", seg.ID, err)
		}
	}

	logger.Info("RFM sweep finished",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("scored", summary.Updated),
		zap.Int("errors", summary.Errors),
		zap.Int("segment_refreshes", len(segments)),
		zap.Duration("elapsed", summary.Duration),
	)
	return nil
}

// RFMCustomerArgs rescores a single customer against the tenant's
// current score distribution.
type RFMCustomerArgs struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	CustomerID uuid.UUID `json:"customer_id"`
}

// Kind returns the job kind identifier for single-customer rescoring.
func (RFMCustomerArgs) Kind() string { return "rfm_customer" }

// InsertOpts returns default insert options for single-customer jobs.
// These are cheap and run wide.
func (RFMCustomerArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueRFM,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

// RFMCustomerWorker rescores one customer.
type RFMCustomerWorker struct {
	river.WorkerDefaults[RFMCustomerArgs]
	engine *rfm.Engine
}

// NewRFMCustomerWorker creates a single-customer rescoring worker.
func NewRFMCustomerWorker(engine *rfm.Engine) *RFMCustomerWorker {
	return &RFMCustomerWorker{engine: engine}
}

// Work rescores the customer against the stored thresholds. Before the
// first full sweep there are no thresholds; that case enqueues the
// sweep and drops the job rather than retrying a permanent condition.
func (w *RFMCustomerWorker) Work(ctx context.Context, job *river.Job[RFMCustomerArgs]) error {
	update, err := w.engine.ScoreCustomer(ctx, job.Args.TenantID, job.Args.CustomerID)
	if err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok {
			if appErr.Code == apperrors.CodeRFMThresholdsMissing {
				client := river.ClientFromContext[pgx.Tx](ctx)
				if _, insErr := client.Insert(ctx, RFMSweepArgs{TenantID: job.Args.TenantID}, nil); insErr != nil {
					return fmt.Errorf("enqueue bootstrap sweep for tenant %s: %w", job.Args.TenantID, insErr)
				}
				logger.Info("No RFM thresholds yet, sweep enqueued instead",
					zap.String("tenant_id", job.Args.TenantID.String()),
				)
			}
			// Ineligible or missing customers stay that way; retrying
			// cannot help.
			return river.JobCancel(fmt.Errorf("rescore customer %s: %w", job.Args.CustomerID, err))
		}
		return fmt.Errorf("rescore customer %s: %w", job.Args.CustomerID, err)
	}
	logger.Debug("Customer rescored",
		zap.String("customer_id", job.Args.CustomerID.String()),
		zap.String("segment", string(update.Segment)),
	)
	return nil
}
