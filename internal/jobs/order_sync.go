package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/progress"
	"merchpulse.io/pulse/internal/repository"
	datasync "merchpulse.io/pulse/internal/sync"
)

// OrderSyncArgs starts an order ingestion run.
type OrderSyncArgs struct {
	TenantID    uuid.UUID       `json:"tenant_id"`
	RunID       uuid.UUID       `json:"run_id"`
	ShopDomain  string          `json:"shop_domain"`
	AccessToken string          `json:"access_token"`
	Mode        domain.SyncMode `json:"mode"`
}

// Kind returns the job kind identifier for order syncs.
func (OrderSyncArgs) Kind() string { return "order_sync" }

// InsertOpts returns default insert options for order sync jobs.
func (OrderSyncArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueSync,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

// OrderSyncWorker ingests the tenant's orders, refreshes the
// denormalized per-customer order stats and kicks off the RFM sweep.
type OrderSyncWorker struct {
	river.WorkerDefaults[OrderSyncArgs]
	runner    syncRunner
	customers repository.CustomerStore
}

// NewOrderSyncWorker creates an order sync worker.
func NewOrderSyncWorker(engine *datasync.Engine, syncJobs repository.SyncJobStore, customers repository.CustomerStore, progressStore *progress.Store, dispatcher *domain.EventDispatcher, batchSize int) *OrderSyncWorker {
	return &OrderSyncWorker{
		runner: syncRunner{
			engine:     engine,
			syncJobs:   syncJobs,
			progress:   progressStore,
			dispatcher: dispatcher,
			batchSize:  batchSize,
		},
		customers: customers,
	}
}

// Work executes the order ingestion run.
func (w *OrderSyncWorker) Work(ctx context.Context, job *river.Job[OrderSyncArgs]) error {
	result, err := w.runner.run(ctx, rundata{
		tenantID:    job.Args.TenantID,
		runID:       job.Args.RunID,
		shopDomain:  job.Args.ShopDomain,
		accessToken: job.Args.AccessToken,
		mode:        job.Args.Mode,
		attempt:     job.Attempt,
		maxAttempts: job.MaxAttempts,
	}, domain.ResourceOrders)
	if err != nil {
		return err
	}

	// Order mutations invalidate the denormalized customer stats the
	// scoring passes read; recompute before scoring.
	if result.Created > 0 || result.Updated > 0 {
		affected, err := w.customers.RecomputeOrderStats(ctx, job.Args.TenantID)
		if err != nil {
			return fmt.Errorf("recompute order stats for tenant %s: %w", job.Args.TenantID, err)
		}
		logger.Info("Customer order stats recomputed",
			zap.String("tenant_id", job.Args.TenantID.String()),
			zap.Int64("customers", affected),
		)
	}

	client := river.ClientFromContext[pgx.Tx](ctx)
	if _, err := client.Insert(ctx, RFMSweepArgs{TenantID: job.Args.TenantID}, nil); err != nil {
		return fmt.Errorf("enqueue rfm sweep for tenant %s: %w", job.Args.TenantID, err)
	}
	return nil
}
