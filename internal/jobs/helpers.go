// Package jobs defines the River job types that drive the data
// pipeline: ingestion syncs, RFM and churn sweeps, segment refreshes
// and webhook deliveries.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/pkg/logger"
)

// Queue names. Each queue carries its own concurrency limit from
// config.RiverConfig.
const (
	QueueSync    = "sync"
	QueueRFM     = "rfm"
	QueueSegment = "segment"
	QueueWebhook = "webhook"
	QueueBulk    = "bulk"
)

// withTenantLock runs fn while holding a redis lock for the tenant.
// Returns redislock.ErrNotObtained unchanged so callers can snooze the
// job instead of failing it.
func withTenantLock(ctx context.Context, locker *redislock.Client, key string, ttl time.Duration, fn func(context.Context) error) error {
	if locker == nil {
		return fn(ctx)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	lock, err := locker.Obtain(ctx, key, ttl, nil)
	if err == redislock.ErrNotObtained {
		return err
	}
	if err != nil {
		return fmt.Errorf("obtain lock %s: %w", key, err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && err != redislock.ErrLockNotHeld {
			logger.Warn("Failed to release tenant lock",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()

	return fn(ctx)
}

// dispatchEvent builds and dispatches a domain event. Best-effort:
// handler failures are logged by the dispatcher, payload encode
// failures here; neither fails the job that produced the event.
func dispatchEvent(ctx context.Context, dispatcher *domain.EventDispatcher, eventType domain.EventType, tenantID uuid.UUID, payload interface{ ToJSON() ([]byte, error) }) {
	if dispatcher == nil {
		return
	}
	data, err := payload.ToJSON()
	if err != nil {
		logger.Error("Failed to encode event payload",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
		return
	}
	event := domain.NewDomainEvent(eventType, tenantID, data)
	if err := dispatcher.Dispatch(ctx, event); err != nil {
		logger.Warn("Event dispatch reported handler failure",
			zap.String("event_type", string(eventType)),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
}
