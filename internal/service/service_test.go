package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/jobs"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/repository"
	"merchpulse.io/pulse/internal/segment"
)

type fakeInserter struct {
	inserted []river.JobArgs
	err      error
}

func (f *fakeInserter) Insert(_ context.Context, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inserted = append(f.inserted, args)
	return &rivertype.JobInsertResult{}, nil
}

func TestValidateStartSync(t *testing.T) {
	valid := StartSyncRequest{
		Resource:    domain.ResourceCustomers,
		ShopDomain:  "demo.myshopify.com",
		AccessToken: "token",
	}

	t.Run("defaults mode to incremental", func(t *testing.T) {
		req := valid
		require.NoError(t, validateStartSync(&req))
		assert.Equal(t, domain.SyncIncremental, req.Mode)
	})

	t.Run("rejects unknown resource", func(t *testing.T) {
		req := valid
		req.Resource = "products"
		err := validateStartSync(&req)
		appErr, ok := apperrors.IsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.CodeValidationFailed, appErr.Code)
	})

	t.Run("rejects missing credentials", func(t *testing.T) {
		req := valid
		req.ShopDomain = "   "
		req.AccessToken = ""
		err := validateStartSync(&req)
		appErr, ok := apperrors.IsAppError(err)
		require.True(t, ok)
		assert.Len(t, appErr.FieldErrors, 2)
	})

	t.Run("rejects unknown mode", func(t *testing.T) {
		req := valid
		req.Mode = "replay"
		err := validateStartSync(&req)
		_, ok := apperrors.IsAppError(err)
		assert.True(t, ok)
	})
}

type fakeSegmentStore struct {
	created *domain.Segment
	updated *domain.Segment
	byID    *domain.Segment
}

func (f *fakeSegmentStore) Create(_ context.Context, s *domain.Segment) error {
	f.created = s
	return nil
}

func (f *fakeSegmentStore) Update(_ context.Context, s *domain.Segment) error {
	f.updated = s
	return nil
}

func (f *fakeSegmentStore) Delete(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (f *fakeSegmentStore) GetByID(context.Context, uuid.UUID, uuid.UUID) (*domain.Segment, error) {
	if f.byID == nil {
		return nil, apperrors.NotFound(apperrors.CodeSegmentNotFound, "segment not found")
	}
	return f.byID, nil
}

func (f *fakeSegmentStore) ListActive(context.Context, uuid.UUID) ([]domain.Segment, error) {
	return nil, nil
}

func (f *fakeSegmentStore) CurrentMemberIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeSegmentStore) EvaluateFilter(context.Context, uuid.UUID, string, []any) ([]repository.MemberCandidate, error) {
	return nil, nil
}

func (f *fakeSegmentStore) ApplyMembershipDiff(context.Context, uuid.UUID, uuid.UUID, repository.MembershipDiff) error {
	return nil
}

func highValueFilter() domain.FilterGroup {
	return domain.FilterGroup{
		Logic: domain.FilterAnd,
		Conditions: []domain.FilterCondition{
			{Field: "total_spent", Operator: domain.OpGte, Value: 500},
		},
	}
}

func TestSegmentServiceCreate(t *testing.T) {
	store := &fakeSegmentStore{}
	inserter := &fakeInserter{}
	svc := NewSegmentService(store, segment.NewEngine(store), inserter)
	tenantID := uuid.New()

	seg, err := svc.Create(context.Background(), tenantID, SegmentRequest{
		Name:    "High spenders",
		Filters: highValueFilter(),
	})
	require.NoError(t, err)

	assert.Equal(t, tenantID, seg.TenantID)
	assert.True(t, seg.IsActive)
	require.NotNil(t, store.created)

	require.Len(t, inserter.inserted, 1)
	args, ok := inserter.inserted[0].(jobs.SegmentUpdateArgs)
	require.True(t, ok)
	assert.Equal(t, seg.ID, args.SegmentID)
}

func TestSegmentServiceCreateRejectsBlankName(t *testing.T) {
	store := &fakeSegmentStore{}
	svc := NewSegmentService(store, segment.NewEngine(store), &fakeInserter{})

	_, err := svc.Create(context.Background(), uuid.New(), SegmentRequest{
		Name:    "  ",
		Filters: highValueFilter(),
	})
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidationFailed, appErr.Code)
	assert.Nil(t, store.created)
}

func TestSegmentServiceCreateRejectsBadFilter(t *testing.T) {
	store := &fakeSegmentStore{}
	svc := NewSegmentService(store, segment.NewEngine(store), &fakeInserter{})

	_, err := svc.Create(context.Background(), uuid.New(), SegmentRequest{
		Name: "Broken",
		Filters: domain.FilterGroup{
			Logic: domain.FilterAnd,
			Conditions: []domain.FilterCondition{
				{Field: "no_such_field", Operator: domain.OpEq, Value: 1},
			},
		},
	})
	require.Error(t, err)
	assert.Nil(t, store.created)
}

func TestSegmentServiceUpdateDeactivatesWithoutRefresh(t *testing.T) {
	tenantID := uuid.New()
	existing := &domain.Segment{
		ID:       uuid.New(),
		TenantID: tenantID,
		Name:     "High spenders",
		Filters:  highValueFilter(),
		IsActive: true,
	}
	store := &fakeSegmentStore{byID: existing}
	inserter := &fakeInserter{}
	svc := NewSegmentService(store, segment.NewEngine(store), inserter)

	inactive := false
	seg, err := svc.Update(context.Background(), tenantID, existing.ID, SegmentRequest{
		Name:     "High spenders",
		Filters:  highValueFilter(),
		IsActive: &inactive,
	})
	require.NoError(t, err)
	assert.False(t, seg.IsActive)
	assert.Empty(t, inserter.inserted)
}

type fakeEndpointStore struct {
	created *domain.WebhookEndpoint
}

func (f *fakeEndpointStore) Create(_ context.Context, e *domain.WebhookEndpoint) error {
	f.created = e
	return nil
}

func (f *fakeEndpointStore) GetByID(context.Context, uuid.UUID, uuid.UUID) (*domain.WebhookEndpoint, error) {
	return nil, apperrors.NotFound(apperrors.CodeWebhookNotFound, "webhook endpoint not found")
}

func (f *fakeEndpointStore) ListByTenant(context.Context, uuid.UUID) ([]domain.WebhookEndpoint, error) {
	return nil, nil
}

func (f *fakeEndpointStore) ListActiveForEvent(context.Context, uuid.UUID, domain.EventType) ([]domain.WebhookEndpoint, error) {
	return nil, nil
}

func (f *fakeEndpointStore) Delete(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (f *fakeEndpointStore) RecordDelivery(context.Context, uuid.UUID, bool) error { return nil }

func TestWebhookServiceCreateEndpointGeneratesSecret(t *testing.T) {
	store := &fakeEndpointStore{}
	svc := NewWebhookService(store, &fakeInserter{})

	endpoint, secret, err := svc.CreateEndpoint(context.Background(), uuid.New(), EndpointRequest{
		URL:        "https://example.com/hooks",
		EventTypes: []domain.EventType{domain.EventRFMCompleted},
	})
	require.NoError(t, err)

	assert.Len(t, secret, 64)
	assert.Equal(t, secret, endpoint.Secret)
	assert.True(t, endpoint.IsActive)
	require.NotNil(t, store.created)
}

func TestWebhookServiceCreateEndpointRejectsBadInput(t *testing.T) {
	svc := NewWebhookService(&fakeEndpointStore{}, &fakeInserter{})

	for name, req := range map[string]EndpointRequest{
		"bad scheme":    {URL: "ftp://example.com"},
		"no host":       {URL: "https://"},
		"unknown event": {URL: "https://example.com", EventTypes: []domain.EventType{"NOPE"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := svc.CreateEndpoint(context.Background(), uuid.New(), req)
			appErr, ok := apperrors.IsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.CodeValidationFailed, appErr.Code)
		})
	}
}

func TestWebhookServiceIngest(t *testing.T) {
	inserter := &fakeInserter{}
	svc := NewWebhookService(&fakeEndpointStore{}, inserter)
	tenantID := uuid.New()
	payload := json.RawMessage(`{"id": 42}`)

	require.NoError(t, svc.Ingest(context.Background(), tenantID, jobs.TopicOrderCreate, payload))
	require.Len(t, inserter.inserted, 1)
	args, ok := inserter.inserted[0].(jobs.WebhookIngestArgs)
	require.True(t, ok)
	assert.Equal(t, jobs.TopicOrderCreate, args.Topic)

	err := svc.Ingest(context.Background(), tenantID, "products/create", payload)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidationFailed, appErr.Code)

	err = svc.Ingest(context.Background(), tenantID, jobs.TopicOrderCreate, json.RawMessage(`{broken`))
	_, ok = apperrors.IsAppError(err)
	assert.True(t, ok)
	assert.Len(t, inserter.inserted, 1)
}

type fakeCache struct {
	data map[string]string
	gets int
	sets int
	dels int
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string]string)} }

func (f *fakeCache) Get(_ context.Context, key string) *redis.StringCmd {
	f.gets++
	if v, ok := f.data[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.sets++
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCache) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.dels++
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

type summaryOnlyStore struct {
	repository.CustomerStore
	summary *repository.TenantAnalytics
	calls   int
}

func (s *summaryOnlyStore) AnalyticsSummary(context.Context, uuid.UUID) (*repository.TenantAnalytics, error) {
	s.calls++
	return s.summary, nil
}

func TestAnalyticsSummaryCaching(t *testing.T) {
	store := &summaryOnlyStore{summary: &repository.TenantAnalytics{
		TotalCustomers:  120,
		ScoredCustomers: 100,
		SegmentCounts: map[domain.RFMSegment]int{
			domain.SegmentChampions: 12,
		},
	}}
	cache := newFakeCache()
	svc := NewAnalyticsService(store, nil, cache, config.AnalyticsConfig{CacheTTL: time.Minute})
	tenantID := uuid.New()

	first, err := svc.Summary(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, 120, first.TotalCustomers)
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, 1, cache.sets)

	second, err := svc.Summary(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, first.TotalCustomers, second.TotalCustomers)
	assert.Equal(t, 12, second.SegmentCounts[domain.SegmentChampions])
	assert.Equal(t, 1, store.calls, "second read should be served from cache")

	svc.Invalidate(context.Background(), tenantID)
	assert.Equal(t, 1, cache.dels)

	_, err = svc.Summary(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
}

func TestAnalyticsInvalidationOnScoringEvents(t *testing.T) {
	store := &summaryOnlyStore{summary: &repository.TenantAnalytics{TotalCustomers: 5}}
	cache := newFakeCache()
	svc := NewAnalyticsService(store, nil, cache, config.AnalyticsConfig{})
	tenantID := uuid.New()

	_, err := svc.Summary(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Len(t, cache.data, 1)

	dispatcher := domain.NewEventDispatcher()
	svc.RegisterInvalidation(dispatcher)
	require.NoError(t, dispatcher.Dispatch(context.Background(),
		domain.NewDomainEvent(domain.EventRFMCompleted, tenantID, nil)))

	assert.Empty(t, cache.data)
}
