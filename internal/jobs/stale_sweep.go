package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/progress"
	"merchpulse.io/pulse/internal/repository"
)

// StaleSweepArgs fails sync runs that stopped reporting progress. The
// job runs periodically; see the periodic job setup in infrastructure.
type StaleSweepArgs struct{}

// Kind returns the job kind identifier for the stale run sweep.
func (StaleSweepArgs) Kind() string { return "sync_stale_sweep" }

// InsertOpts returns default insert options for the sweep.
func (StaleSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueSync,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByQueue: true,
		},
	}
}

// StaleSweepWorker reconciles crashed syncs: the durable sync_jobs rows
// and the ephemeral progress records both get failed so observers stop
// waiting on runs that will never finish.
type StaleSweepWorker struct {
	river.WorkerDefaults[StaleSweepArgs]
	syncJobs *repository.SyncJobRepository
	progress *progress.Store
	cfg      config.ProgressConfig
}

// NewStaleSweepWorker creates the sweep worker.
func NewStaleSweepWorker(syncJobs *repository.SyncJobRepository, progressStore *progress.Store, cfg config.ProgressConfig) *StaleSweepWorker {
	return &StaleSweepWorker{syncJobs: syncJobs, progress: progressStore, cfg: cfg}
}

// Work fails stale runs in both stores.
func (w *StaleSweepWorker) Work(ctx context.Context, job *river.Job[StaleSweepArgs]) error {
	rows, err := w.syncJobs.FailStaleRunning(ctx, w.cfg.StaleAfter)
	if err != nil {
		return fmt.Errorf("fail stale sync rows: %w", err)
	}
	records, err := w.progress.SweepStale(ctx)
	if err != nil {
		return fmt.Errorf("sweep stale progress records: %w", err)
	}
	if rows > 0 || records > 0 {
		logger.Info("Stale sync sweep finished",
			zap.Int64("sync_rows_failed", rows),
			zap.Int("progress_records_failed", records),
		)
	}
	return nil
}
