package sync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/platform"
)

type fakeCustomerWriter struct {
	existing map[string]bool
	failIDs  map[string]bool
	upserted []string
}

func (f *fakeCustomerWriter) Upsert(_ context.Context, c *domain.Customer) (bool, error) {
	if f.failIDs[c.ExternalID] {
		return false, assert.AnError
	}
	f.upserted = append(f.upserted, c.ExternalID)
	return !f.existing[c.ExternalID], nil
}

type fakeOrderWriter struct {
	existing map[string]bool
	upserted []*domain.Order
}

func (f *fakeOrderWriter) Upsert(_ context.Context, o *domain.Order) (bool, error) {
	f.upserted = append(f.upserted, o)
	return !f.existing[o.ExternalID], nil
}

type fakeWatermarks struct {
	ts *time.Time
}

func (f *fakeWatermarks) LastSuccessfulSyncTime(context.Context, uuid.UUID, domain.ResourceType) (*time.Time, error) {
	return f.ts, nil
}

func TestEngine_Sync_FullCustomers(t *testing.T) {
	now := time.Now()
	client := platform.NewMockClient()
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		client.Customers = append(client.Customers, platform.Customer{
			ID: id, Email: id + "@example.com", CreatedAt: now, UpdatedAt: now,
		})
	}

	customers := &fakeCustomerWriter{
		existing: map[string]bool{"c2": true},
		failIDs:  map[string]bool{"c4": true},
	}

	engine := NewEngine(client, customers, &fakeOrderWriter{}, &fakeWatermarks{})

	var reports []int
	result, err := engine.Sync(context.Background(), Request{
		TenantID:     uuid.New(),
		ResourceType: domain.ResourceCustomers,
		Mode:         domain.SyncFull,
		BatchSize:    2,
		OnProgress: func(processed int, total *int) {
			require.Nil(t, total)
			reports = append(reports, processed)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, result.TotalProcessed)
	assert.Equal(t, 3, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, []int{2, 4, 5}, reports)
}

func TestEngine_Sync_IncrementalFiltersByWatermark(t *testing.T) {
	watermark := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	client := platform.NewMockClient()
	client.Customers = []platform.Customer{
		{ID: "old", UpdatedAt: watermark.Add(-time.Hour)},
		{ID: "boundary", UpdatedAt: watermark},
		{ID: "fresh", UpdatedAt: watermark.Add(time.Hour)},
	}

	customers := &fakeCustomerWriter{}
	engine := NewEngine(client, customers, &fakeOrderWriter{}, &fakeWatermarks{ts: &watermark})

	result, err := engine.Sync(context.Background(), Request{
		TenantID:     uuid.New(),
		ResourceType: domain.ResourceCustomers,
		Mode:         domain.SyncIncremental,
		BatchSize:    10,
	})
	require.NoError(t, err)

	// All records are fetched and counted; only the strictly newer one
	// is persisted.
	assert.Equal(t, 3, result.TotalProcessed)
	assert.Equal(t, []string{"fresh"}, customers.upserted)
}

func TestEngine_Sync_OrdersMapping(t *testing.T) {
	processed := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	created := processed.Add(-3 * time.Hour)

	client := platform.NewMockClient()
	client.Orders = []platform.Order{
		{
			ID:              "o1",
			CustomerID:      "c1",
			TotalPrice:      "149.95",
			FinancialStatus: "paid",
			LineItems:       []platform.LineItem{{Title: "Mug", Quantity: 2, Price: "74.975"}},
			ProcessedAt:     &processed,
			CreatedAt:       created,
			UpdatedAt:       processed,
		},
		{
			ID:              "o2",
			TotalPrice:      "not-a-number",
			FinancialStatus: "paid",
			CreatedAt:       created,
			UpdatedAt:       processed,
		},
		{
			ID:              "o3",
			TotalPrice:      "10.00",
			FinancialStatus: "something-new",
			CreatedAt:       created,
			UpdatedAt:       processed,
		},
	}

	orders := &fakeOrderWriter{}
	engine := NewEngine(client, &fakeCustomerWriter{}, orders, &fakeWatermarks{})

	result, err := engine.Sync(context.Background(), Request{
		TenantID:     uuid.New(),
		ResourceType: domain.ResourceOrders,
		Mode:         domain.SyncFull,
		BatchSize:    10,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalProcessed)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 2, result.Errors)

	require.Len(t, orders.upserted, 1)
	o := orders.upserted[0]
	assert.Equal(t, "o1", o.ExternalID)
	assert.Equal(t, domain.FinancialPaid, o.FinancialStatus)
	assert.Equal(t, processed, o.OrderDate)
	assert.Equal(t, "149.95", o.TotalPrice.String())
	require.Len(t, o.LineItems, 1)
}

func TestEngine_Sync_Validation(t *testing.T) {
	engine := NewEngine(platform.NewMockClient(), &fakeCustomerWriter{}, &fakeOrderWriter{}, &fakeWatermarks{})

	_, err := engine.Sync(context.Background(), Request{ResourceType: "products", BatchSize: 10})
	require.Error(t, err)

	_, err = engine.Sync(context.Background(), Request{ResourceType: domain.ResourceCustomers})
	require.Error(t, err)
}

func TestEngine_Sync_PageFetchErrorAborts(t *testing.T) {
	client := platform.NewMockClient()
	client.Err = assert.AnError

	engine := NewEngine(client, &fakeCustomerWriter{}, &fakeOrderWriter{}, &fakeWatermarks{})
	_, err := engine.Sync(context.Background(), Request{
		TenantID:     uuid.New(),
		ResourceType: domain.ResourceCustomers,
		Mode:         domain.SyncFull,
		BatchSize:    10,
	})
	require.Error(t, err)
}
