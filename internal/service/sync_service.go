// Package service provides the business logic layer between the HTTP
// handlers and the repositories, engines, and job queue. Services own
// request validation and orchestration; the River workers own the
// long-running work itself.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/jobs"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/progress"
	"merchpulse.io/pulse/internal/repository"
)

// JobInserter is the slice of the River client the services need.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

var _ JobInserter = (*river.Client[pgx.Tx])(nil)

// StartSyncRequest carries the parameters for triggering a sync run.
// Platform credentials arrive with the request; tenant credential
// storage is a platform concern outside this service.
type StartSyncRequest struct {
	TenantID    uuid.UUID           `json:"-"`
	Resource    domain.ResourceType `json:"resource"`
	Mode        domain.SyncMode     `json:"mode"`
	ShopDomain  string              `json:"shop_domain"`
	AccessToken string              `json:"access_token"`
}

// SyncService triggers and inspects sync runs. The run itself executes
// on the sync queue; this layer only records intent and enqueues.
type SyncService struct {
	syncJobs repository.SyncJobStore
	progress *progress.Store
	river    JobInserter
}

// NewSyncService creates a new SyncService.
func NewSyncService(syncJobs repository.SyncJobStore, progressStore *progress.Store, riverClient JobInserter) *SyncService {
	return &SyncService{
		syncJobs: syncJobs,
		progress: progressStore,
		river:    riverClient,
	}
}

// Start validates the request, creates the durable run record and its
// progress counterpart, and enqueues the ingestion job. A second run
// for the same resource is rejected while the first is still live.
func (s *SyncService) Start(ctx context.Context, req StartSyncRequest) (*domain.SyncJob, error) {
	if err := validateStartSync(&req); err != nil {
		return nil, err
	}

	active, err := s.progress.ListActive(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("check active runs: %w", err)
	}
	for _, run := range active {
		if run.ResourceType == req.Resource {
			return nil, apperrors.Conflict(apperrors.CodeSyncAlreadyActive,
				"a sync for this resource is already running").
				WithParams(map[string]interface{}{
					"resource": req.Resource,
					"run_id":   run.RunID,
				})
		}
	}

	job := &domain.SyncJob{
		ID:           uuid.New(),
		TenantID:     req.TenantID,
		ResourceType: req.Resource,
		Mode:         req.Mode,
		Status:       domain.SyncPending,
	}
	if err := s.syncJobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create sync job: %w", err)
	}
	if _, err := s.progress.CreateRun(ctx, job.ID, req.TenantID, req.Resource); err != nil {
		return nil, fmt.Errorf("create progress run: %w", err)
	}

	var args river.JobArgs
	switch req.Resource {
	case domain.ResourceCustomers:
		args = jobs.CustomerSyncArgs{
			TenantID:    req.TenantID,
			RunID:       job.ID,
			ShopDomain:  req.ShopDomain,
			AccessToken: req.AccessToken,
			Mode:        req.Mode,
		}
	case domain.ResourceOrders:
		args = jobs.OrderSyncArgs{
			TenantID:    req.TenantID,
			RunID:       job.ID,
			ShopDomain:  req.ShopDomain,
			AccessToken: req.AccessToken,
			Mode:        req.Mode,
		}
	}

	if _, err := s.river.Insert(ctx, args, nil); err != nil {
		// Settle both records so the run does not dangle as pending.
		_ = s.syncJobs.Fail(ctx, job.ID, "enqueue failed")
		_ = s.progress.Fail(ctx, req.TenantID, job.ID, "enqueue failed")
		return nil, fmt.Errorf("enqueue %s sync: %w", req.Resource, err)
	}

	logger.Info("sync run enqueued",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("run_id", job.ID.String()),
		zap.String("resource", string(req.Resource)),
		zap.String("mode", string(req.Mode)),
	)
	return job, nil
}

// GetRun loads the durable record of one run.
func (s *SyncService) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*domain.SyncJob, error) {
	return s.syncJobs.Get(ctx, tenantID, runID)
}

// GetProgress loads the live progress view of one run.
func (s *SyncService) GetProgress(ctx context.Context, tenantID, runID uuid.UUID) (*domain.SyncProgress, error) {
	return s.progress.Get(ctx, tenantID, runID)
}

// ListActiveProgress lists all non-terminal runs for a tenant.
func (s *SyncService) ListActiveProgress(ctx context.Context, tenantID uuid.UUID) ([]domain.SyncProgress, error) {
	return s.progress.ListActive(ctx, tenantID)
}

func validateStartSync(req *StartSyncRequest) error {
	var fieldErrs []apperrors.FieldError

	switch req.Resource {
	case domain.ResourceCustomers, domain.ResourceOrders:
	default:
		fieldErrs = append(fieldErrs, apperrors.FieldError{
			Field:   "resource",
			Message: fmt.Sprintf("must be %q or %q", domain.ResourceCustomers, domain.ResourceOrders),
		})
	}

	if req.Mode == "" {
		req.Mode = domain.SyncIncremental
	}
	switch req.Mode {
	case domain.SyncFull, domain.SyncIncremental:
	default:
		fieldErrs = append(fieldErrs, apperrors.FieldError{
			Field:   "mode",
			Message: fmt.Sprintf("must be %q or %q", domain.SyncFull, domain.SyncIncremental),
		})
	}

	req.ShopDomain = strings.TrimSpace(req.ShopDomain)
	if req.ShopDomain == "" {
		fieldErrs = append(fieldErrs, apperrors.FieldError{
			Field: "shop_domain", Message: "is required",
		})
	}
	if req.AccessToken == "" {
		fieldErrs = append(fieldErrs, apperrors.FieldError{
			Field: "access_token", Message: "is required",
		})
	}

	if len(fieldErrs) > 0 {
		return apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid sync request").
			WithFieldErrors(fieldErrs)
	}
	return nil
}
