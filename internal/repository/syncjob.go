package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
)

// SyncJobStore defines persistence for sync-run audit records.
type SyncJobStore interface {
	Create(ctx context.Context, job *domain.SyncJob) error
	Start(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, result domain.SyncResult) error
	Fail(ctx context.Context, id uuid.UUID, errMsg string) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.SyncJob, error)
	LastSuccessfulSyncTime(ctx context.Context, tenantID uuid.UUID, resource domain.ResourceType) (*time.Time, error)
	FailStaleRunning(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// SyncJobRepository implements SyncJobStore using pgx.
type SyncJobRepository struct {
	db DB
}

// NewSyncJobRepository creates a new SyncJobRepository.
func NewSyncJobRepository(db DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Create inserts a pending sync run.
func (r *SyncJobRepository) Create(ctx context.Context, job *domain.SyncJob) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO sync_jobs (id, tenant_id, resource_type, mode, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING created_at, updated_at`,
		job.ID, job.TenantID, job.ResourceType, job.Mode, domain.SyncPending,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create sync job: %w", err)
	}
	job.Status = domain.SyncPending
	return nil
}

// Start marks a run as running. Completed and failed runs are never
// reopened; a retry landing on a settled run gets a conflict instead.
func (r *SyncJobRepository) Start(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sync_jobs SET status = $2, started_at = now(), updated_at = now()
		WHERE id = $1 AND status NOT IN ($3, $4)`,
		id, domain.SyncRunning, domain.SyncCompleted, domain.SyncFailed,
	)
	if err != nil {
		return fmt.Errorf("start sync job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return errSyncRunSettled(id)
	}
	return nil
}

// Complete marks a run as completed with its final counters. A run that
// already reached a terminal state stays untouched.
func (r *SyncJobRepository) Complete(ctx context.Context, id uuid.UUID, result domain.SyncResult) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sync_jobs SET
			status = $2,
			records_processed = $3,
			records_created = $4,
			records_updated = $5,
			records_failed = $6,
			completed_at = now(),
			updated_at = now()
		WHERE id = $1 AND status NOT IN ($2, $7)`,
		id, domain.SyncCompleted,
		result.TotalProcessed, result.Created, result.Updated, result.Errors,
		domain.SyncFailed,
	)
	if err != nil {
		return fmt.Errorf("complete sync job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return errSyncRunSettled(id)
	}
	return nil
}

// Fail marks a run as failed, preserving the error text for operators.
// Terminal runs stay untouched.
func (r *SyncJobRepository) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sync_jobs SET status = $2, error = $3, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status NOT IN ($2, $4)`,
		id, domain.SyncFailed, errMsg, domain.SyncCompleted,
	)
	if err != nil {
		return fmt.Errorf("fail sync job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return errSyncRunSettled(id)
	}
	return nil
}

func errSyncRunSettled(id uuid.UUID) error {
	return apperrors.Conflict(apperrors.CodeSyncRunSettled, "sync run already settled").
		WithParams(map[string]interface{}{"run_id": id.String()})
}

// Get loads one sync run.
func (r *SyncJobRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.SyncJob, error) {
	var job domain.SyncJob
	var errMsg *string
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, resource_type, mode, status,
			records_processed, records_created, records_updated, records_failed,
			error, started_at, completed_at, created_at, updated_at
		FROM sync_jobs WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(
		&job.ID, &job.TenantID, &job.ResourceType, &job.Mode, &job.Status,
		&job.RecordsProcessed, &job.RecordsCreated, &job.RecordsUpdated, &job.RecordsFailed,
		&errMsg, &job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrSyncRunNotFoundf(id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get sync job %s: %w", id, err)
	}
	if errMsg != nil {
		job.Error = *errMsg
	}
	return &job, nil
}

// LastSuccessfulSyncTime returns the start time of the most recent
// completed run for the resource, nil when none exists. Incremental
// syncs use it as the client-side watermark; keying off the start time
// rather than completion avoids missing records updated mid-run.
func (r *SyncJobRepository) LastSuccessfulSyncTime(ctx context.Context, tenantID uuid.UUID, resource domain.ResourceType) (*time.Time, error) {
	var ts *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT MAX(started_at) FROM sync_jobs
		WHERE tenant_id = $1 AND resource_type = $2 AND status = $3`,
		tenantID, resource, domain.SyncCompleted,
	).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("last successful sync time: %w", err)
	}
	return ts, nil
}

// FailStaleRunning marks running jobs without progress past the cutoff
// as failed. The periodic sweep calls this alongside the progress-store
// sweep so crashed workers do not leave runs dangling forever.
func (r *SyncJobRepository) FailStaleRunning(ctx context.Context, staleAfter time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sync_jobs SET
			status = $1, error = 'sync stalled: no progress before deadline',
			completed_at = now(), updated_at = now()
		WHERE status = $2 AND updated_at < now() - make_interval(secs => $3)`,
		domain.SyncFailed, domain.SyncRunning, staleAfter.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale sync jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
