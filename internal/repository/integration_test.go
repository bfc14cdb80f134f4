package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/infrastructure"
	"merchpulse.io/pulse/internal/repository"
	"merchpulse.io/pulse/internal/testutil"
)

// End-to-end repository behavior against a real PostgreSQL. Skipped
// without a TEST_DATABASE_URL.
func TestRepositoriesAgainstPostgres(t *testing.T) {
	pool := testutil.OpenPGXPool(t, "repo")
	ctx := context.Background()
	require.NoError(t, infrastructure.ApplySchema(ctx, pool))

	customers := repository.NewCustomerRepository(pool)
	orders := repository.NewOrderRepository(pool)
	tenantID := uuid.New()

	customer := &domain.Customer{
		ID:              uuid.New(),
		TenantID:        tenantID,
		ExternalID:      "cust-1",
		Email:           "one@example.com",
		FirstName:       "One",
		SourceCreatedAt: time.Now().UTC().AddDate(0, -6, 0),
		SourceUpdatedAt: time.Now().UTC(),
	}
	created, err := customers.Upsert(ctx, customer)
	require.NoError(t, err)
	assert.True(t, created)

	// A second upsert with the same external id updates in place.
	customer.Email = "one+new@example.com"
	created, err = customers.Upsert(ctx, customer)
	require.NoError(t, err)
	assert.False(t, created)

	for i, price := range []int64{50, 150, 300} {
		order := &domain.Order{
			ID:                 uuid.New(),
			TenantID:           tenantID,
			ExternalID:         "order-" + string(rune('a'+i)),
			CustomerID:         &customer.ID,
			CustomerExternalID: customer.ExternalID,
			TotalPrice:         decimal.NewFromInt(price),
			FinancialStatus:    domain.FinancialPaid,
			OrderDate:          time.Now().UTC().AddDate(0, 0, -30*(i+1)),
			SourceUpdatedAt:    time.Now().UTC(),
		}
		_, err := orders.Upsert(ctx, order)
		require.NoError(t, err)
	}

	// A voided order must not count toward aggregates.
	_, err = orders.Upsert(ctx, &domain.Order{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		ExternalID:         "order-voided",
		CustomerID:         &customer.ID,
		CustomerExternalID: customer.ExternalID,
		TotalPrice:         decimal.NewFromInt(9999),
		FinancialStatus:    domain.FinancialVoided,
		OrderDate:          time.Now().UTC(),
		SourceUpdatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	touched, err := customers.RecomputeOrderStats(ctx, tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, touched)

	got, err := customers.GetByExternalID(ctx, tenantID, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "one+new@example.com", got.Email)
	assert.Equal(t, 3, got.OrdersCount)
	assert.True(t, got.TotalSpent.Equal(decimal.NewFromInt(500)))

	summary, err := customers.AnalyticsSummary(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalCustomers)
	assert.Equal(t, 0, summary.ScoredCustomers)
	assert.True(t, summary.TotalRevenue.Equal(decimal.NewFromInt(500)))
}

// A customer whose only order gets cancelled by a later sync must drop
// back to zeroed aggregates, not keep the stale ones.
func TestRecomputeOrderStatsClearsCancelledOnly(t *testing.T) {
	pool := testutil.OpenPGXPool(t, "repo-cancel")
	ctx := context.Background()
	require.NoError(t, infrastructure.ApplySchema(ctx, pool))

	customers := repository.NewCustomerRepository(pool)
	orders := repository.NewOrderRepository(pool)
	tenantID := uuid.New()

	customer := &domain.Customer{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ExternalID: "cust-2",
	}
	_, err := customers.Upsert(ctx, customer)
	require.NoError(t, err)

	order := &domain.Order{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		ExternalID:         "order-only",
		CustomerID:         &customer.ID,
		CustomerExternalID: customer.ExternalID,
		TotalPrice:         decimal.NewFromInt(10),
		FinancialStatus:    domain.FinancialPaid,
		OrderDate:          time.Now().UTC().AddDate(0, 0, -5),
		SourceUpdatedAt:    time.Now().UTC(),
	}
	_, err = orders.Upsert(ctx, order)
	require.NoError(t, err)

	touched, err := customers.RecomputeOrderStats(ctx, tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, touched)

	// The next sync delivers the same order with a cancellation.
	cancelled := time.Now().UTC()
	order.CancelledAt = &cancelled
	_, err = orders.Upsert(ctx, order)
	require.NoError(t, err)

	touched, err = customers.RecomputeOrderStats(ctx, tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, touched)

	got, err := customers.GetByExternalID(ctx, tenantID, "cust-2")
	require.NoError(t, err)
	assert.Equal(t, 0, got.OrdersCount)
	assert.True(t, got.TotalSpent.IsZero())
	assert.Nil(t, got.FirstOrderDate)
	assert.Nil(t, got.LastOrderDate)

	// A third pass with nothing changed touches nobody.
	touched, err = customers.RecomputeOrderStats(ctx, tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, touched)
}
