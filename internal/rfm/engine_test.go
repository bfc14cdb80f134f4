package rfm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/repository"
)

func TestNtileBucket(t *testing.T) {
	// 10 rows into 5 buckets: 2 per bucket.
	want := []int{1, 1, 2, 2, 3, 3, 4, 4, 5, 5}
	for idx, exp := range want {
		assert.Equal(t, exp, ntileBucket(idx, 10, 5), "idx %d", idx)
	}

	// 7 rows into 5 buckets: first two buckets take the remainder.
	want = []int{1, 1, 2, 2, 3, 4, 5}
	for idx, exp := range want {
		assert.Equal(t, exp, ntileBucket(idx, 7, 5), "idx %d", idx)
	}

	// Fewer rows than buckets.
	want = []int{1, 2, 3}
	for idx, exp := range want {
		assert.Equal(t, exp, ntileBucket(idx, 3, 5), "idx %d", idx)
	}
}

func TestScorePopulation_RecencyBuckets(t *testing.T) {
	days := []int{1, 5, 10, 20, 30, 40, 50, 60, 70, 90}
	wantRecency := []int{5, 5, 4, 4, 3, 3, 2, 2, 1, 1}

	customers := make([]rankable, len(days))
	ids := make([]uuid.UUID, len(days))
	for i, d := range days {
		ids[i] = uuid.New()
		customers[i] = rankable{
			id:         ids[i],
			days:       d,
			orders:     i + 1,
			totalSpent: decimal.NewFromInt(int64((i + 1) * 50)),
		}
	}

	scores, cuts := scorePopulation(customers)
	for i := range days {
		assert.Equal(t, wantRecency[i], scores[ids[i]].Recency, "days=%d", days[i])
	}

	// Cut points capture each bucket's admission boundary: fewest days
	// for recency, largest value for the ascending axes.
	assert.Equal(t, [4]int{70, 50, 30, 10}, cuts.recencyDays)
	assert.Equal(t, [4]int{2, 4, 6, 8}, cuts.frequencyOrders)
	assert.Equal(t, "100", cuts.monetarySpend[0].String())
	assert.Equal(t, "400", cuts.monetarySpend[3].String())

	// Frequency and monetary grow together with the index here, so the
	// highest spender with the most orders lands in bucket 5 on both.
	assert.Equal(t, 5, scores[ids[9]].Frequency)
	assert.Equal(t, 5, scores[ids[9]].Monetary)
	assert.Equal(t, 1, scores[ids[0]].Frequency)
	assert.Equal(t, 1, scores[ids[0]].Monetary)
}

func TestScorePopulation_DeterministicTieBreak(t *testing.T) {
	customers := make([]rankable, 4)
	for i := range customers {
		customers[i] = rankable{
			id:         uuid.New(),
			days:       10,
			orders:     3,
			totalSpent: decimal.NewFromInt(100),
		}
	}

	first, _ := scorePopulation(customers)
	// Shuffle input order; scores must not change.
	reversed := []rankable{customers[3], customers[1], customers[0], customers[2]}
	second, _ := scorePopulation(reversed)

	for _, c := range customers {
		assert.Equal(t, first[c.id], second[c.id])
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		r, f, m int
		want    domain.RFMSegment
	}{
		{5, 5, 5, domain.SegmentChampions},
		{4, 4, 4, domain.SegmentChampions},
		{3, 4, 3, domain.SegmentLoyal},
		{3, 5, 5, domain.SegmentLoyal},
		{1, 4, 4, domain.SegmentCannotLose},
		{2, 4, 3, domain.SegmentAtRisk},
		{3, 3, 3, domain.SegmentAtRisk},
		{5, 1, 1, domain.SegmentNewCustomers},
		{4, 1, 2, domain.SegmentNewCustomers},
		{4, 2, 2, domain.SegmentPromising},
		{4, 2, 5, domain.SegmentPotentialLoyalist},
		{3, 2, 2, domain.SegmentPotentialLoyalist},
		{2, 3, 2, domain.SegmentNeedAttention},
		{2, 2, 3, domain.SegmentNeedAttention},
		{2, 2, 1, domain.SegmentAboutToSleep},
		{3, 1, 1, domain.SegmentAboutToSleep},
		{1, 1, 2, domain.SegmentHibernating},
		{1, 2, 1, domain.SegmentHibernating},
		{1, 1, 1, domain.SegmentLost},
		{1, 5, 1, domain.SegmentLost},
	}

	for _, tc := range cases {
		got := Classify(domain.RFMScores{Recency: tc.r, Frequency: tc.f, Monetary: tc.m})
		assert.Equal(t, tc.want, got, "R=%d F=%d M=%d", tc.r, tc.f, tc.m)
	}
}

func TestNearestRankThreshold(t *testing.T) {
	values := make([]decimal.Decimal, 10)
	for i := range values {
		values[i] = decimal.NewFromInt(int64((i + 1) * 10))
	}

	got, ok := nearestRankThreshold(values, 0.9)
	require.True(t, ok)
	assert.Equal(t, "90", got.String())

	_, ok = nearestRankThreshold(nil, 0.9)
	assert.False(t, ok)
}

type fakeCustomerStore struct {
	customers  []domain.Customer
	batches    [][]repository.RFMUpdate
	failBatch  int
	batchCalls int
	listCalls  int
	thresholds *repository.RFMThresholds
}

func (f *fakeCustomerStore) GetByID(_ context.Context, _ uuid.UUID, id uuid.UUID) (*domain.Customer, error) {
	for i := range f.customers {
		if f.customers[i].ID == id {
			return &f.customers[i], nil
		}
	}
	return nil, apperrors.NotFound(apperrors.CodeCustomerNotFound, "customer not found")
}

func (f *fakeCustomerStore) ListRFMEligible(context.Context, uuid.UUID) ([]domain.Customer, error) {
	f.listCalls++
	return f.customers, nil
}

func (f *fakeCustomerStore) UpdateRFMBatch(_ context.Context, _ uuid.UUID, updates []repository.RFMUpdate) error {
	f.batchCalls++
	if f.failBatch == f.batchCalls {
		return fmt.Errorf("write failed")
	}
	f.batches = append(f.batches, updates)
	return nil
}

func (f *fakeCustomerStore) SaveRFMThresholds(_ context.Context, _ uuid.UUID, th *repository.RFMThresholds) error {
	f.thresholds = th
	return nil
}

func (f *fakeCustomerStore) GetRFMThresholds(context.Context, uuid.UUID) (*repository.RFMThresholds, error) {
	if f.thresholds == nil {
		return nil, apperrors.NotFound(apperrors.CodeRFMThresholdsMissing, "tenant has no scoring thresholds yet")
	}
	return f.thresholds, nil
}

func testCustomers(n int) []domain.Customer {
	customers := make([]domain.Customer, n)
	for i := range customers {
		last := time.Now().AddDate(0, 0, -(i*10 + 1))
		customers[i] = domain.Customer{
			ID:            uuid.New(),
			OrdersCount:   i + 1,
			TotalSpent:    decimal.NewFromInt(int64((i + 1) * 100)),
			LastOrderDate: &last,
		}
	}
	return customers
}

func testAnalyticsConfig() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		RFMBatchSize:        2,
		HighValuePercentile: 0.9,
		ChurnRiskDays:       90,
	}
}

func TestEngine_ScoreTenant(t *testing.T) {
	store := &fakeCustomerStore{customers: testCustomers(5)}
	engine := NewEngine(store, testAnalyticsConfig())

	var progress []int
	summary, err := engine.ScoreTenant(context.Background(), uuid.New(), func(processed, total int) {
		assert.Equal(t, 5, total)
		progress = append(progress, processed)
	})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.TotalCustomers)
	assert.Equal(t, 5, summary.Updated)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, []int{2, 4, 5}, progress)
	assert.Len(t, store.batches, 3)
	assert.Equal(t, 1, summary.HighValueCount)
}

func TestEngine_ScoreTenant_BatchFailureContinues(t *testing.T) {
	store := &fakeCustomerStore{customers: testCustomers(5), failBatch: 2}
	engine := NewEngine(store, testAnalyticsConfig())

	summary, err := engine.ScoreTenant(context.Background(), uuid.New(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Updated)
	assert.Equal(t, 2, summary.Errors)
	assert.Equal(t, 3, store.batchCalls)
}

func TestEngine_ScoreTenant_EmptyPopulation(t *testing.T) {
	store := &fakeCustomerStore{}
	engine := NewEngine(store, testAnalyticsConfig())

	summary, err := engine.ScoreTenant(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalCustomers)
	assert.Equal(t, 0, store.batchCalls)
}

func TestEngine_ScoreTenant_PersistsThresholds(t *testing.T) {
	store := &fakeCustomerStore{customers: testCustomers(10)}
	engine := NewEngine(store, testAnalyticsConfig())

	_, err := engine.ScoreTenant(context.Background(), uuid.New(), nil)
	require.NoError(t, err)

	require.NotNil(t, store.thresholds)
	assert.Equal(t, 10, store.thresholds.Population)
	require.NotNil(t, store.thresholds.HighValueSpend)
	assert.Equal(t, "900", store.thresholds.HighValueSpend.String())
}

func TestEngine_ScoreCustomer_BucketsAgainstStoredThresholds(t *testing.T) {
	customers := testCustomers(10)
	store := &fakeCustomerStore{customers: customers}
	engine := NewEngine(store, testAnalyticsConfig())

	// The sweep stores the cut points; rescoring must never re-rank.
	_, err := engine.ScoreTenant(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	listCallsAfterSweep := store.listCalls
	batchCallsAfterSweep := store.batchCalls

	// customers[9]: most orders, highest spend, most recent order.
	update, err := engine.ScoreCustomer(context.Background(), uuid.New(), customers[9].ID)
	require.NoError(t, err)
	assert.Equal(t, customers[9].ID, update.CustomerID)
	assert.Equal(t, 5, update.Frequency)
	assert.Equal(t, 5, update.Monetary)
	assert.True(t, update.IsHighValue)

	assert.Equal(t, listCallsAfterSweep, store.listCalls)
	assert.Equal(t, batchCallsAfterSweep+1, store.batchCalls)
	require.Len(t, store.batches[len(store.batches)-1], 1)
}

func TestEngine_ScoreCustomer_Ineligible(t *testing.T) {
	noOrders := domain.Customer{ID: uuid.New()}
	store := &fakeCustomerStore{customers: []domain.Customer{noOrders}}
	engine := NewEngine(store, testAnalyticsConfig())

	_, err := engine.ScoreCustomer(context.Background(), uuid.New(), noOrders.ID)
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeRFMNotComputed, appErr.Code)
}

func TestEngine_ScoreCustomer_NoThresholdsYet(t *testing.T) {
	customers := testCustomers(3)
	store := &fakeCustomerStore{customers: customers}
	engine := NewEngine(store, testAnalyticsConfig())

	_, err := engine.ScoreCustomer(context.Background(), uuid.New(), customers[0].ID)
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeRFMThresholdsMissing, appErr.Code)
}
