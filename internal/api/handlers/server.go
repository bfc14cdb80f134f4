// Package handlers implements the MerchPulse HTTP API surface: the
// operational endpoints plus the tenant-facing sync, segment,
// analytics, and webhook routes.
package handlers

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"merchpulse.io/pulse/internal/progress"
	"merchpulse.io/pulse/internal/service"
)

// Server holds the handler dependencies. Handlers stay thin: parse,
// delegate to a service, translate errors through the middleware.
type Server struct {
	pool  *pgxpool.Pool
	redis *redis.Client

	syncSvc      *service.SyncService
	segmentSvc   *service.SegmentService
	analyticsSvc *service.AnalyticsService
	webhookSvc   *service.WebhookService

	broadcaster *progress.Broadcaster
}

// ServerDeps bundles everything NewServer needs.
type ServerDeps struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client

	SyncService      *service.SyncService
	SegmentService   *service.SegmentService
	AnalyticsService *service.AnalyticsService
	WebhookService   *service.WebhookService

	Broadcaster *progress.Broadcaster
}

// NewServer creates a new Server.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		pool:         deps.Pool,
		redis:        deps.Redis,
		syncSvc:      deps.SyncService,
		segmentSvc:   deps.SegmentService,
		analyticsSvc: deps.AnalyticsService,
		webhookSvc:   deps.WebhookService,
		broadcaster:  deps.Broadcaster,
	}
}

func (s *Server) pingDatabase(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func (s *Server) pingRedis(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Ping(ctx).Err()
}
