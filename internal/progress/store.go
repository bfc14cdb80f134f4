// Package progress tracks live sync-run state in the key-value store
// and publishes throttled updates for real-time observers.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/pkg/logger"
)

// Event types on the pub/sub feed.
const (
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// Event is the pub/sub payload observers receive.
type Event struct {
	Type string               `json:"type"`
	Data *domain.SyncProgress `json:"data"`
}

// Update is a partial mutation applied to a run record. Nil fields are
// left untouched.
type Update struct {
	Step      *string
	Processed *int
	Created   *int
	Updated   *int
	Errors    *int
	Total     *int
}

// kv is the slice of the redis client the store uses. Tests substitute
// a fake.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// Store persists run records under a TTL and publishes change events.
// Publishes for one run are throttled to one per interval; terminal
// transitions always publish and drop the run's throttle state.
type Store struct {
	rdb kv
	cfg config.ProgressConfig

	mu          sync.Mutex
	lastPublish map[uuid.UUID]time.Time
}

// NewStore creates a progress store.
func NewStore(rdb kv, cfg config.ProgressConfig) *Store {
	return &Store{
		rdb:         rdb,
		cfg:         cfg,
		lastPublish: make(map[uuid.UUID]time.Time),
	}
}

func recordKey(tenantID, runID uuid.UUID) string {
	return fmt.Sprintf("progress:%s:%s", tenantID, runID)
}

// Channel returns the pub/sub channel for one run. The broadcaster
// pattern-subscribes to progress:* and routes by tenant and run.
func Channel(tenantID, runID uuid.UUID) string {
	return fmt.Sprintf("progress:%s:%s", tenantID, runID)
}

// CreateRun writes a fresh pending record.
func (s *Store) CreateRun(ctx context.Context, runID, tenantID uuid.UUID, resource domain.ResourceType) (*domain.SyncProgress, error) {
	now := time.Now().UTC()
	rec := &domain.SyncProgress{
		RunID:        runID,
		TenantID:     tenantID,
		ResourceType: resource,
		Status:       domain.SyncPending,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	s.publish(ctx, rec, false)
	return rec, nil
}

// Start moves a run to running.
func (s *Store) Start(ctx context.Context, tenantID, runID uuid.UUID, step string) error {
	return s.mutate(ctx, tenantID, runID, func(rec *domain.SyncProgress) {
		rec.Status = domain.SyncRunning
		rec.Step = step
	})
}

// Update applies a partial mutation to a running record.
func (s *Store) Update(ctx context.Context, tenantID, runID uuid.UUID, u Update) error {
	return s.mutate(ctx, tenantID, runID, func(rec *domain.SyncProgress) {
		if u.Step != nil {
			rec.Step = *u.Step
		}
		if u.Processed != nil {
			rec.Processed = *u.Processed
		}
		if u.Created != nil {
			rec.Created = *u.Created
		}
		if u.Updated != nil {
			rec.Updated = *u.Updated
		}
		if u.Errors != nil {
			rec.Errors = *u.Errors
		}
		if u.Total != nil {
			rec.Total = u.Total
		}
	})
}

// Complete moves a run to its terminal completed state.
func (s *Store) Complete(ctx context.Context, tenantID, runID uuid.UUID) error {
	return s.mutate(ctx, tenantID, runID, func(rec *domain.SyncProgress) {
		rec.Status = domain.SyncCompleted
		rec.Step = "done"
	})
}

// Fail moves a run to its terminal failed state, keeping the error text
// for operators.
func (s *Store) Fail(ctx context.Context, tenantID, runID uuid.UUID, errMsg string) error {
	return s.mutate(ctx, tenantID, runID, func(rec *domain.SyncProgress) {
		rec.Status = domain.SyncFailed
		rec.Error = errMsg
	})
}

// Get loads one run record.
func (s *Store) Get(ctx context.Context, tenantID, runID uuid.UUID) (*domain.SyncProgress, error) {
	raw, err := s.rdb.Get(ctx, recordKey(tenantID, runID)).Result()
	if err == redis.Nil {
		return nil, apperrors.ErrSyncRunNotFoundf(runID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("load progress record: %w", err)
	}

	var rec domain.SyncProgress
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode progress record: %w", err)
	}
	return &rec, nil
}

// ListActive returns the tenant's non-terminal runs.
func (s *Store) ListActive(ctx context.Context, tenantID uuid.UUID) ([]domain.SyncProgress, error) {
	var (
		active []domain.SyncProgress
		cursor uint64
	)
	pattern := fmt.Sprintf("progress:%s:*", tenantID)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan progress records: %w", err)
		}
		for _, key := range keys {
			raw, err := s.rdb.Get(ctx, key).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("load progress record %s: %w", key, err)
			}
			var rec domain.SyncProgress
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				continue
			}
			if !rec.Status.Terminal() {
				active = append(active, rec)
			}
		}
		cursor = next
		if cursor == 0 {
			return active, nil
		}
	}
}

// SweepStale fails running records with no progress for longer than the
// configured stale window. Returns the number of records failed.
func (s *Store) SweepStale(ctx context.Context) (int, error) {
	staleAfter := s.cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	cutoff := time.Now().UTC().Add(-staleAfter)

	var (
		failed int
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, "progress:*", 100).Result()
		if err != nil {
			return failed, fmt.Errorf("scan progress records: %w", err)
		}
		for _, key := range keys {
			raw, err := s.rdb.Get(ctx, key).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return failed, fmt.Errorf("load progress record %s: %w", key, err)
			}
			var rec domain.SyncProgress
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				continue
			}
			if rec.Status != domain.SyncRunning || rec.UpdatedAt.After(cutoff) {
				continue
			}
			if err := s.Fail(ctx, rec.TenantID, rec.RunID, "sync stalled, no progress reported"); err != nil {
				logger.Warn("Stale progress sweep failed for run",
					zap.String("run_id", rec.RunID.String()),
					zap.Error(err),
				)
				continue
			}
			failed++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if failed > 0 {
		logger.Info("Stale sync runs failed by sweep", zap.Int("count", failed))
	}
	return failed, nil
}

// mutate loads, applies fn and saves. Terminal records are sticky: any
// mutation after completed/failed is a silent no-op.
func (s *Store) mutate(ctx context.Context, tenantID, runID uuid.UUID, fn func(*domain.SyncProgress)) error {
	rec, err := s.Get(ctx, tenantID, runID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}

	fn(rec)
	rec.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx, rec); err != nil {
		return err
	}
	s.publish(ctx, rec, rec.Status.Terminal())
	return nil
}

func (s *Store) save(ctx context.Context, rec *domain.SyncProgress) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode progress record: %w", err)
	}
	ttl := s.cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.rdb.Set(ctx, recordKey(rec.TenantID, rec.RunID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save progress record: %w", err)
	}
	return nil
}

// publish pushes the record to the run's channel when the throttle
// allows it. Terminal events bypass the throttle and clear the run's
// bookkeeping so the map cannot grow without bound.
func (s *Store) publish(ctx context.Context, rec *domain.SyncProgress, terminal bool) {
	if !terminal && !s.allowPublish(rec.RunID) {
		return
	}
	if terminal {
		s.clearThrottle(rec.RunID)
	}

	eventType := EventProgress
	switch rec.Status {
	case domain.SyncCompleted:
		eventType = EventCompleted
	case domain.SyncFailed:
		eventType = EventFailed
	}

	payload, err := json.Marshal(Event{Type: eventType, Data: rec})
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, Channel(rec.TenantID, rec.RunID), payload).Err(); err != nil {
		logger.Warn("Progress publish failed",
			zap.String("run_id", rec.RunID.String()),
			zap.Error(err),
		)
	}
}

func (s *Store) allowPublish(runID uuid.UUID) bool {
	interval := s.cfg.PublishInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if last, ok := s.lastPublish[runID]; ok && now.Sub(last) < interval {
		return false
	}
	s.lastPublish[runID] = now
	return true
}

func (s *Store) clearThrottle(runID uuid.UUID) {
	s.mu.Lock()
	delete(s.lastPublish, runID)
	s.mu.Unlock()
}
