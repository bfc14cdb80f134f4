package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/churn"
	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/repository"
)

// summaryCache is the slice of the redis client the service needs,
// narrowed for tests.
type summaryCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// AnalyticsService serves tenant-level analytics reads. Summaries are
// cached; a finished scoring sweep invalidates the tenant's entry so
// the next read reflects fresh scores.
type AnalyticsService struct {
	customers repository.CustomerStore
	churn     *churn.Engine
	cache     summaryCache
	cacheTTL  time.Duration
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(customers repository.CustomerStore, churnEngine *churn.Engine, cache summaryCache, cfg config.AnalyticsConfig) *AnalyticsService {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AnalyticsService{
		customers: customers,
		churn:     churnEngine,
		cache:     cache,
		cacheTTL:  ttl,
	}
}

func summaryKey(tenantID uuid.UUID) string {
	return "analytics:summary:" + tenantID.String()
}

// Summary returns the tenant aggregate snapshot, served from cache when
// present. Cache failures degrade to a direct read.
func (s *AnalyticsService) Summary(ctx context.Context, tenantID uuid.UUID) (*repository.TenantAnalytics, error) {
	key := summaryKey(tenantID)

	raw, err := s.cache.Get(ctx, key).Result()
	if err == nil {
		var cached repository.TenantAnalytics
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return &cached, nil
		}
		// Unreadable entry, fall through and overwrite it.
	} else if err != redis.Nil {
		logger.Warn("analytics cache read failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
	}

	summary, err := s.customers.AnalyticsSummary(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load analytics summary: %w", err)
	}

	if data, err := json.Marshal(summary); err == nil {
		if err := s.cache.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
			logger.Warn("analytics cache write failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
		}
	}
	return summary, nil
}

// Invalidate drops the tenant's cached summary.
func (s *AnalyticsService) Invalidate(ctx context.Context, tenantID uuid.UUID) {
	if err := s.cache.Del(ctx, summaryKey(tenantID)).Err(); err != nil {
		logger.Warn("analytics cache invalidation failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
	}
}

// PredictChurn runs the on-demand churn model for one customer.
func (s *AnalyticsService) PredictChurn(ctx context.Context, tenantID, customerID uuid.UUID) (*churn.Prediction, error) {
	return s.churn.Predict(ctx, tenantID, customerID)
}

// GetCustomer loads one customer with its scores.
func (s *AnalyticsService) GetCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (*domain.Customer, error) {
	return s.customers.GetByID(ctx, tenantID, customerID)
}

// RegisterInvalidation subscribes the cache to scoring completions so
// stale summaries never outlive a sweep.
func (s *AnalyticsService) RegisterInvalidation(dispatcher *domain.EventDispatcher) {
	invalidate := func(ctx context.Context, event *domain.DomainEvent) error {
		s.Invalidate(ctx, event.TenantID)
		return nil
	}
	dispatcher.Register(domain.EventRFMCompleted, invalidate)
	dispatcher.Register(domain.EventChurnCompleted, invalidate)
}
