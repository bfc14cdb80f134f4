package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/churn"
	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/pkg/logger"
)

// ChurnSweepArgs recalculates churn probabilities for every scored
// customer of a tenant.
type ChurnSweepArgs struct {
	TenantID uuid.UUID `json:"tenant_id"`
}

// Kind returns the job kind identifier for churn sweeps.
func (ChurnSweepArgs) Kind() string { return "churn_sweep" }

// InsertOpts returns default insert options for churn sweeps.
func (ChurnSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueBulk,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

// ChurnSweepWorker runs the tenant-wide churn pass.
type ChurnSweepWorker struct {
	river.WorkerDefaults[ChurnSweepArgs]
	engine     *churn.Engine
	locker     *redislock.Client
	dispatcher *domain.EventDispatcher
	cfg        config.AnalyticsConfig
}

// NewChurnSweepWorker creates a churn sweep worker.
func NewChurnSweepWorker(engine *churn.Engine, locker *redislock.Client, dispatcher *domain.EventDispatcher, cfg config.AnalyticsConfig) *ChurnSweepWorker {
	return &ChurnSweepWorker{
		engine:     engine,
		locker:     locker,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Work executes the sweep under a per-tenant lock.
func (w *ChurnSweepWorker) Work(ctx context.Context, job *river.Job[ChurnSweepArgs]) error {
	tenantID := job.Args.TenantID

	err := withTenantLock(ctx, w.locker, "lock:churn:"+tenantID.String(), w.cfg.TenantLockTTL, func(ctx context.Context) error {
		summary, err := w.engine.CalculateForTenant(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("churn sweep for tenant %s: %w", tenantID, err)
		}

		bands := make(map[string]int, len(summary.RiskBands))
		atRisk := 0
		for band, n := range summary.RiskBands {
			bands[string(band)] = n
			if band != churn.RiskLow {
				atRisk += n
			}
		}
		dispatchEvent(ctx, w.dispatcher, domain.EventChurnCompleted, tenantID, domain.ChurnEventPayload{
			CustomersScored: summary.CustomersScored,
			RiskBands:       bands,
			NewAtRisk:       atRisk,
		})

		logger.Info("Churn sweep finished",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("scored", summary.CustomersScored),
			zap.Int("errors", summary.Errors),
			zap.Duration("elapsed", summary.Duration),
		)
		return nil
	})
	if err == redislock.ErrNotObtained {
		logger.Info("Churn sweep already running for tenant, snoozing",
			zap.String("tenant_id", tenantID.String()),
		)
		return river.JobSnooze(30 * time.Second)
	}
	return err
}
