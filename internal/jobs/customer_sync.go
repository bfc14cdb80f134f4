package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/platform"
	"merchpulse.io/pulse/internal/progress"
	"merchpulse.io/pulse/internal/repository"
	datasync "merchpulse.io/pulse/internal/sync"
)

// CustomerSyncArgs starts a customer ingestion run. RunID references
// the sync_jobs row created when the run was requested.
type CustomerSyncArgs struct {
	TenantID    uuid.UUID       `json:"tenant_id"`
	RunID       uuid.UUID       `json:"run_id"`
	ShopDomain  string          `json:"shop_domain"`
	AccessToken string          `json:"access_token"`
	Mode        domain.SyncMode `json:"mode"`
}

// Kind returns the job kind identifier for customer syncs.
func (CustomerSyncArgs) Kind() string { return "customer_sync" }

// InsertOpts returns default insert options for customer sync jobs.
func (CustomerSyncArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueSync,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

// syncRunner is the shared execution path of both sync workers: start
// the durable run record, stream progress while the engine works, then
// settle the run as completed or failed. A failed attempt marks the
// run failed only once River has exhausted retries; until then the run
// stays running and the next attempt resumes it. Terminal states are
// sticky: a retry that finds the run already settled never re-ingests.
type syncRunner struct {
	engine     *datasync.Engine
	syncJobs   repository.SyncJobStore
	progress   *progress.Store
	dispatcher *domain.EventDispatcher
	batchSize  int
}

func (r *syncRunner) run(ctx context.Context, job rundata, resource domain.ResourceType) (*domain.SyncResult, error) {
	logger.Info("Processing sync job",
		zap.String("tenant_id", job.tenantID.String()),
		zap.String("run_id", job.runID.String()),
		zap.String("resource", string(resource)),
		zap.String("mode", string(job.mode)),
		zap.Int("attempt", job.attempt),
	)

	existing, err := r.syncJobs.Get(ctx, job.tenantID, job.runID)
	if err != nil {
		return nil, fmt.Errorf("load sync run %s: %w", job.runID, err)
	}
	switch existing.Status {
	case domain.SyncCompleted:
		// A retry after a post-completion step failed. The ingestion is
		// done and the terminal state is final; hand back the recorded
		// counters so the caller can redo its follow-up work.
		logger.Info("Sync run already completed, skipping ingestion",
			zap.String("run_id", job.runID.String()),
			zap.Int("attempt", job.attempt),
		)
		return &domain.SyncResult{
			TotalProcessed: existing.RecordsProcessed,
			Created:        existing.RecordsCreated,
			Updated:        existing.RecordsUpdated,
			Errors:         existing.RecordsFailed,
		}, nil
	case domain.SyncFailed:
		// Settled elsewhere, e.g. by the stale-run sweep while a retry
		// was queued. Nothing left to do.
		return nil, river.JobCancel(fmt.Errorf("sync run %s already failed", job.runID))
	}

	if err := r.syncJobs.Start(ctx, job.runID); err != nil {
		return nil, fmt.Errorf("start sync run %s: %w", job.runID, err)
	}
	if err := r.progress.Start(ctx, job.tenantID, job.runID, "fetching "+string(resource)); err != nil {
		logger.Warn("Failed to start progress record",
			zap.String("run_id", job.runID.String()),
			zap.Error(err),
		)
	}

	result, err := r.engine.Sync(ctx, datasync.Request{
		TenantID: job.tenantID,
		Credentials: platform.Credentials{
			ShopDomain:  job.shopDomain,
			AccessToken: job.accessToken,
		},
		ResourceType: resource,
		Mode:         job.mode,
		BatchSize:    r.batchSize,
		OnProgress: func(processed int, total *int) {
			if err := r.progress.Update(ctx, job.tenantID, job.runID, progress.Update{
				Processed: &processed,
				Total:     total,
			}); err != nil {
				logger.Debug("Progress update failed", zap.Error(err))
			}
		},
	})
	if err != nil {
		return nil, r.fail(ctx, job, resource, err)
	}

	if err := r.syncJobs.Complete(ctx, job.runID, *result); err != nil {
		return nil, fmt.Errorf("complete sync run %s: %w", job.runID, err)
	}
	r.settleProgress(ctx, job, result)

	dispatchEvent(ctx, r.dispatcher, domain.EventSyncCompleted, job.tenantID, domain.SyncEventPayload{
		RunID:            job.runID.String(),
		ResourceType:     resource,
		Mode:             job.mode,
		RecordsProcessed: result.TotalProcessed,
		RecordsCreated:   result.Created,
		RecordsUpdated:   result.Updated,
		RecordsFailed:    result.Errors,
	})

	logger.Info("Sync job completed",
		zap.String("run_id", job.runID.String()),
		zap.String("resource", string(resource)),
		zap.Int("processed", result.TotalProcessed),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("errors", result.Errors),
	)
	return result, nil
}

// fail settles the run on the final attempt and returns the original
// error so River records it.
func (r *syncRunner) fail(ctx context.Context, job rundata, resource domain.ResourceType, cause error) error {
	if job.attempt < job.maxAttempts {
		logger.Warn("Sync attempt failed, will retry",
			zap.String("run_id", job.runID.String()),
			zap.Int("attempt", job.attempt),
			zap.Error(cause),
		)
		return fmt.Errorf("sync run %s: %w", job.runID, cause)
	}

	if err := r.syncJobs.Fail(ctx, job.runID, cause.Error()); err != nil {
		logger.Error("Failed to persist failed sync run",
			zap.String("run_id", job.runID.String()),
			zap.Error(err),
		)
	}
	if err := r.progress.Fail(ctx, job.tenantID, job.runID, cause.Error()); err != nil {
		logger.Warn("Failed to settle progress record",
			zap.String("run_id", job.runID.String()),
			zap.Error(err),
		)
	}
	dispatchEvent(ctx, r.dispatcher, domain.EventSyncFailed, job.tenantID, domain.SyncEventPayload{
		RunID:        job.runID.String(),
		ResourceType: resource,
		Mode:         job.mode,
		Error:        cause.Error(),
	})
	return fmt.Errorf("sync run %s: %w", job.runID, cause)
}

func (r *syncRunner) settleProgress(ctx context.Context, job rundata, result *domain.SyncResult) {
	if err := r.progress.Update(ctx, job.tenantID, job.runID, progress.Update{
		Processed: &result.TotalProcessed,
		Created:   &result.Created,
		Updated:   &result.Updated,
		Errors:    &result.Errors,
	}); err != nil {
		logger.Debug("Final progress update failed", zap.Error(err))
	}
	if err := r.progress.Complete(ctx, job.tenantID, job.runID); err != nil {
		logger.Warn("Failed to complete progress record",
			zap.String("run_id", job.runID.String()),
			zap.Error(err),
		)
	}
}

// rundata is the worker-agnostic view of one sync job row.
type rundata struct {
	tenantID    uuid.UUID
	runID       uuid.UUID
	shopDomain  string
	accessToken string
	mode        domain.SyncMode
	attempt     int
	maxAttempts int
}

// CustomerSyncWorker ingests the tenant's customers.
type CustomerSyncWorker struct {
	river.WorkerDefaults[CustomerSyncArgs]
	runner syncRunner
}

// NewCustomerSyncWorker creates a customer sync worker.
func NewCustomerSyncWorker(engine *datasync.Engine, syncJobs repository.SyncJobStore, progressStore *progress.Store, dispatcher *domain.EventDispatcher, batchSize int) *CustomerSyncWorker {
	return &CustomerSyncWorker{runner: syncRunner{
		engine:     engine,
		syncJobs:   syncJobs,
		progress:   progressStore,
		dispatcher: dispatcher,
		batchSize:  batchSize,
	}}
}

// Work executes the customer ingestion run.
func (w *CustomerSyncWorker) Work(ctx context.Context, job *river.Job[CustomerSyncArgs]) error {
	_, err := w.runner.run(ctx, rundata{
		tenantID:    job.Args.TenantID,
		runID:       job.Args.RunID,
		shopDomain:  job.Args.ShopDomain,
		accessToken: job.Args.AccessToken,
		mode:        job.Args.Mode,
		attempt:     job.Attempt,
		maxAttempts: job.MaxAttempts,
	}, domain.ResourceCustomers)
	return err
}
