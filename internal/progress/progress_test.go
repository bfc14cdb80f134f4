package progress

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/pkg/worker"
)

// fakeKV is an in-memory stand-in for the redis commands the store uses.
type fakeKV struct {
	mu        sync.Mutex
	data      map[string]string
	published []string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeKV) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := message.(type) {
	case []byte:
		f.published = append(f.published, string(v))
	case string:
		f.published = append(f.published, v)
	}
	return redis.NewIntResult(1, nil)
}

func (f *fakeKV) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.data))
	for key := range f.data {
		keys = append(keys, key)
	}
	return redis.NewScanCmdResult(keys, 0, nil)
}

func (f *fakeKV) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeKV) lastPublished(t *testing.T) Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.published)
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(f.published[len(f.published)-1]), &ev))
	return ev
}

func testCfg() config.ProgressConfig {
	return config.ProgressConfig{
		TTL:             24 * time.Hour,
		PublishInterval: time.Hour,
		StaleAfter:      15 * time.Minute,
	}
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	store := NewStore(kv, testCfg())

	tenantID := uuid.New()
	runID := uuid.New()

	rec, err := store.CreateRun(ctx, runID, tenantID, domain.ResourceCustomers)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPending, rec.Status)

	require.NoError(t, store.Start(ctx, tenantID, runID, "fetching customers"))

	processed, total := 40, 120
	require.NoError(t, store.Update(ctx, tenantID, runID, Update{
		Processed: &processed,
		Total:     &total,
	}))

	got, err := store.Get(ctx, tenantID, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncRunning, got.Status)
	assert.Equal(t, "fetching customers", got.Step)
	assert.Equal(t, 40, got.Processed)
	require.NotNil(t, got.Total)
	assert.Equal(t, 120, *got.Total)

	require.NoError(t, store.Complete(ctx, tenantID, runID))
	got, err = store.Get(ctx, tenantID, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncCompleted, got.Status)
}

func TestStoreTerminalStateSticks(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	store := NewStore(kv, testCfg())

	tenantID := uuid.New()
	runID := uuid.New()
	_, err := store.CreateRun(ctx, runID, tenantID, domain.ResourceOrders)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, tenantID, runID, "upstream timeout"))

	// Late updates after the terminal transition are ignored.
	processed := 999
	require.NoError(t, store.Update(ctx, tenantID, runID, Update{Processed: &processed}))
	require.NoError(t, store.Complete(ctx, tenantID, runID))

	got, err := store.Get(ctx, tenantID, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFailed, got.Status)
	assert.Equal(t, "upstream timeout", got.Error)
	assert.Equal(t, 0, got.Processed)
}

func TestStoreGetMissing(t *testing.T) {
	store := NewStore(newFakeKV(), testCfg())

	_, err := store.Get(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeSyncRunNotFound, appErr.Code)
}

func TestStorePublishThrottle(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	store := NewStore(kv, testCfg())

	tenantID := uuid.New()
	runID := uuid.New()
	_, err := store.CreateRun(ctx, runID, tenantID, domain.ResourceCustomers)
	require.NoError(t, err)
	require.Equal(t, 1, kv.publishCount())

	// Inside the throttle window: state is saved but nothing is published.
	for i := 1; i <= 5; i++ {
		processed := i * 10
		require.NoError(t, store.Update(ctx, tenantID, runID, Update{Processed: &processed}))
	}
	assert.Equal(t, 1, kv.publishCount())

	got, err := store.Get(ctx, tenantID, runID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Processed)

	// Terminal transitions bypass the throttle.
	require.NoError(t, store.Complete(ctx, tenantID, runID))
	assert.Equal(t, 2, kv.publishCount())
	assert.Equal(t, EventCompleted, kv.lastPublished(t).Type)
}

func TestStoreListActive(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	store := NewStore(kv, testCfg())

	tenantID := uuid.New()
	running := uuid.New()
	done := uuid.New()

	_, err := store.CreateRun(ctx, running, tenantID, domain.ResourceCustomers)
	require.NoError(t, err)
	_, err = store.CreateRun(ctx, done, tenantID, domain.ResourceOrders)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, tenantID, done))

	active, err := store.ListActive(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, running, active[0].RunID)
}

func TestStoreSweepStale(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	store := NewStore(kv, testCfg())

	tenantID := uuid.New()
	stale := uuid.New()
	fresh := uuid.New()

	_, err := store.CreateRun(ctx, stale, tenantID, domain.ResourceCustomers)
	require.NoError(t, err)
	require.NoError(t, store.Start(ctx, tenantID, stale, "fetching"))
	_, err = store.CreateRun(ctx, fresh, tenantID, domain.ResourceOrders)
	require.NoError(t, err)
	require.NoError(t, store.Start(ctx, tenantID, fresh, "fetching"))

	// Backdate the stale run past the sweep window.
	rec, err := store.Get(ctx, tenantID, stale)
	require.NoError(t, err)
	rec.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	kv.Set(ctx, "progress:"+tenantID.String()+":"+stale.String(), raw, 0)

	failed, err := store.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	got, err := store.Get(ctx, tenantID, stale)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFailed, got.Status)

	got, err = store.Get(ctx, tenantID, fresh)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncRunning, got.Status)
}

func TestBroadcasterDispatch(t *testing.T) {
	ctx := context.Background()
	pools, err := worker.NewPools(ctx, worker.DefaultPoolConfig())
	require.NoError(t, err)
	defer pools.Shutdown()

	b := NewBroadcaster(nil, pools, 8)

	tenantID := uuid.New()
	runID := uuid.New()
	otherRun := uuid.New()

	all, cancelAll := b.Subscribe(tenantID, uuid.Nil)
	defer cancelAll()
	one, cancelOne := b.Subscribe(tenantID, runID)
	defer cancelOne()
	stranger, cancelStranger := b.Subscribe(uuid.New(), uuid.Nil)
	defer cancelStranger()

	payload, err := json.Marshal(Event{
		Type: EventProgress,
		Data: &domain.SyncProgress{RunID: runID, TenantID: tenantID, Processed: 10},
	})
	require.NoError(t, err)

	b.dispatch(ctx, Channel(tenantID, runID), payload)

	for _, sub := range []*Subscriber{all, one} {
		select {
		case ev := <-sub.Events:
			assert.Equal(t, EventProgress, ev.Type)
			assert.Equal(t, 10, ev.Data.Processed)
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	// Run-scoped subscriber stays quiet for other runs.
	payload, err = json.Marshal(Event{
		Type: EventProgress,
		Data: &domain.SyncProgress{RunID: otherRun, TenantID: tenantID},
	})
	require.NoError(t, err)
	b.dispatch(ctx, Channel(tenantID, otherRun), payload)

	select {
	case ev := <-all.Events:
		assert.Equal(t, otherRun, ev.Data.RunID)
	case <-time.After(2 * time.Second):
		t.Fatal("tenant-wide subscriber did not receive event")
	}
	select {
	case <-one.Events:
		t.Fatal("run-scoped subscriber received foreign run event")
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case <-stranger.Events:
		t.Fatal("foreign tenant subscriber received event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeliverDropsOldest(t *testing.T) {
	b := NewBroadcaster(nil, nil, 2)
	sub, cancel := b.Subscribe(uuid.New(), uuid.Nil)
	defer cancel()

	for i := 1; i <= 4; i++ {
		b.deliver(sub, Event{Type: EventProgress, Data: &domain.SyncProgress{Processed: i}})
	}

	first := <-sub.Events
	second := <-sub.Events
	assert.Equal(t, 3, first.Data.Processed)
	assert.Equal(t, 4, second.Data.Processed)
}

func TestDeliverAfterCancelIsNoop(t *testing.T) {
	b := NewBroadcaster(nil, nil, 2)
	sub, cancel := b.Subscribe(uuid.New(), uuid.Nil)
	cancel()

	// The channel is already closed; a cancelled subscriber must be
	// skipped rather than sent to.
	b.deliver(sub, Event{Type: EventProgress, Data: &domain.SyncProgress{Processed: 1}})

	_, open := <-sub.Events
	assert.False(t, open)
}

func TestParseChannel(t *testing.T) {
	tenantID := uuid.New()
	runID := uuid.New()

	gotTenant, gotRun, ok := parseChannel(Channel(tenantID, runID))
	require.True(t, ok)
	assert.Equal(t, tenantID, gotTenant)
	assert.Equal(t, runID, gotRun)

	for _, bad := range []string{"progress:nope", "other:a:b", "progress:x:y"} {
		_, _, ok := parseChannel(bad)
		assert.False(t, ok, bad)
	}
}
