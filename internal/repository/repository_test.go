package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestCustomerRepository_Upsert_Created(t *testing.T) {
	mock := newMock(t)
	repo := NewCustomerRepository(mock)

	c := &domain.Customer{
		ID:         uuid.New(),
		TenantID:   uuid.New(),
		ExternalID: "9001",
		Email:      "a@example.com",
	}

	mock.ExpectQuery(`INSERT INTO customers`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created"}).AddRow(c.ID, true))

	created, err := repo.Upsert(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerRepository_GetByID_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewCustomerRepository(mock)

	tenantID, id := uuid.New(), uuid.New()
	mock.ExpectQuery(`SELECT .* FROM customers WHERE tenant_id`).
		WithArgs(tenantID, id).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), tenantID, id)
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeCustomerNotFound, appErr.Code)
}

func TestCustomerRepository_UpdateRFMBatch_Transactional(t *testing.T) {
	mock := newMock(t)
	repo := NewCustomerRepository(mock)

	tenantID := uuid.New()
	updates := []RFMUpdate{
		{CustomerID: uuid.New(), Recency: 5, Frequency: 4, Monetary: 3, Segment: domain.SegmentLoyal, ComputedAt: time.Now()},
		{CustomerID: uuid.New(), Recency: 1, Frequency: 1, Monetary: 1, Segment: domain.SegmentLost, ComputedAt: time.Now()},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE customers SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE customers SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateRFMBatch(context.Background(), tenantID, updates))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerRepository_UpdateRFMBatch_Empty(t *testing.T) {
	mock := newMock(t)
	repo := NewCustomerRepository(mock)

	require.NoError(t, repo.UpdateRFMBatch(context.Background(), uuid.New(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerRepository_TenantAvgOrderGapDays_NoData(t *testing.T) {
	mock := newMock(t)
	repo := NewCustomerRepository(mock)

	mock.ExpectQuery(`SELECT AVG`).
		WillReturnRows(pgxmock.NewRows([]string{"avg"}).AddRow(nil))

	_, ok, err := repo.TenantAvgOrderGapDays(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCustomerRepository_RecomputeOrderStats(t *testing.T) {
	mock := newMock(t)
	repo := NewCustomerRepository(mock)

	mock.ExpectExec(`UPDATE customers c SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 42))

	n, err := repo.RecomputeOrderStats(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestOrderRepository_Upsert_Updated(t *testing.T) {
	mock := newMock(t)
	repo := NewOrderRepository(mock)

	o := &domain.Order{
		ID:                 uuid.New(),
		TenantID:           uuid.New(),
		ExternalID:         "ord-1",
		CustomerExternalID: "9001",
		TotalPrice:         decimal.RequireFromString("49.99"),
		FinancialStatus:    domain.FinancialPaid,
		OrderDate:          time.Now(),
	}

	mock.ExpectQuery(`INSERT INTO orders`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created"}).AddRow(o.ID, false))

	created, err := repo.Upsert(context.Background(), o)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestSegmentRepository_ApplyMembershipDiff(t *testing.T) {
	mock := newMock(t)
	repo := NewSegmentRepository(mock)

	tenantID, segmentID := uuid.New(), uuid.New()
	diff := MembershipDiff{
		Added: []domain.SegmentMember{{
			SegmentID:          segmentID,
			CustomerID:         uuid.New(),
			TotalSpentSnapshot: decimal.RequireFromString("120"),
			RFMSegmentSnapshot: domain.SegmentChampions,
			AddedAt:            time.Now(),
		}},
		RemovedIDs:    []uuid.UUID{uuid.New()},
		CustomerCount: 10,
		Revenue:       decimal.RequireFromString("1034.50"),
		ComputedAt:    time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM segment_members`).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO segment_members`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE segments SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ApplyMembershipDiff(context.Background(), tenantID, segmentID, diff))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSegmentRepository_ApplyMembershipDiff_RollsBackOnError(t *testing.T) {
	mock := newMock(t)
	repo := NewSegmentRepository(mock)

	tenantID, segmentID := uuid.New(), uuid.New()
	diff := MembershipDiff{
		RemovedIDs: []uuid.UUID{uuid.New()},
		ComputedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM segment_members`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.ApplyMembershipDiff(context.Background(), tenantID, segmentID, diff)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSegmentRepository_EvaluateFilter(t *testing.T) {
	mock := newMock(t)
	repo := NewSegmentRepository(mock)

	tenantID := uuid.New()
	custID := uuid.New()
	mock.ExpectQuery(`SELECT id, total_spent, COALESCE`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "total_spent", "rfm_segment"}).
			AddRow(custID, decimal.RequireFromString("250.00"), "CHAMPIONS"))

	matches, err := repo.EvaluateFilter(context.Background(), tenantID, `total_spent >= $2`, []any{decimal.RequireFromString("100")})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, custID, matches[0].CustomerID)
	assert.Equal(t, domain.SegmentChampions, matches[0].RFMSegment)
}

func TestSyncJobRepository_Lifecycle(t *testing.T) {
	mock := newMock(t)
	repo := NewSyncJobRepository(mock)

	job := &domain.SyncJob{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		ResourceType: domain.ResourceOrders,
		Mode:         domain.SyncIncremental,
	}

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO sync_jobs`).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(`UPDATE sync_jobs SET status`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE sync_jobs SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, job))
	assert.Equal(t, domain.SyncPending, job.Status)
	require.NoError(t, repo.Start(ctx, job.ID))
	require.NoError(t, repo.Complete(ctx, job.ID, domain.SyncResult{TotalProcessed: 10, Created: 4, Updated: 6}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncJobRepository_TerminalStatesAreSticky(t *testing.T) {
	mock := newMock(t)
	repo := NewSyncJobRepository(mock)
	ctx := context.Background()
	id := uuid.New()

	// Zero rows updated means the run is already terminal; every
	// transition reports the conflict instead of silently rewriting it.
	mock.ExpectExec(`UPDATE sync_jobs SET status`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := repo.Start(ctx, id)
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeSyncRunSettled, appErr.Code)

	mock.ExpectExec(`UPDATE sync_jobs SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = repo.Complete(ctx, id, domain.SyncResult{})
	require.Error(t, err)
	appErr, ok = apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeSyncRunSettled, appErr.Code)

	mock.ExpectExec(`UPDATE sync_jobs SET status`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = repo.Fail(ctx, id, "boom")
	require.Error(t, err)
	appErr, ok = apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeSyncRunSettled, appErr.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncJobRepository_LastSuccessfulSyncTime_None(t *testing.T) {
	mock := newMock(t)
	repo := NewSyncJobRepository(mock)

	mock.ExpectQuery(`SELECT MAX\(started_at\)`).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(nil))

	ts, err := repo.LastSuccessfulSyncTime(context.Background(), uuid.New(), domain.ResourceCustomers)
	require.NoError(t, err)
	assert.Nil(t, ts)
}
