package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseFinancialStatus(t *testing.T) {
	cases := []struct {
		in      string
		want    FinancialStatus
		wantErr bool
	}{
		{"paid", FinancialPaid, false},
		{"PAID", FinancialPaid, false},
		{"partially_refunded", FinancialPartiallyRefunded, false},
		{"voided", FinancialVoided, false},
		{"void", FinancialVoided, false},
		{"", "", true},
		{"mystery", "", true},
	}

	for _, tc := range cases {
		got, err := ParseFinancialStatus(tc.in)
		if tc.wantErr {
			require.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestOrder_CountsTowardStats(t *testing.T) {
	now := time.Now()

	order := Order{FinancialStatus: FinancialPaid}
	require.True(t, order.CountsTowardStats())

	order.FinancialStatus = FinancialVoided
	require.False(t, order.CountsTowardStats())

	order.FinancialStatus = FinancialPaid
	order.CancelledAt = &now
	require.False(t, order.CountsTowardStats())

	order = Order{FinancialStatus: FinancialRefunded}
	require.True(t, order.CountsTowardStats())
}

func TestCustomer_RFMEligible(t *testing.T) {
	c := Customer{}
	require.False(t, c.RFMEligible())

	last := time.Now().AddDate(0, 0, -10)
	c.OrdersCount = 3
	require.False(t, c.RFMEligible())

	c.LastOrderDate = &last
	require.True(t, c.RFMEligible())
}

func TestRFMSegment_Valid(t *testing.T) {
	for _, s := range AllRFMSegments {
		require.True(t, s.Valid(), "segment %s", s)
	}
	require.False(t, RFMSegment("VIP").Valid())
	require.Len(t, AllRFMSegments, 11)
}

func TestFilterGroup_Empty(t *testing.T) {
	require.True(t, FilterGroup{Logic: FilterAnd}.Empty())
	require.True(t, FilterGroup{
		Logic:  FilterAnd,
		Groups: []FilterGroup{{Logic: FilterOr}},
	}.Empty())

	g := FilterGroup{
		Logic: FilterAnd,
		Groups: []FilterGroup{{
			Logic: FilterOr,
			Conditions: []FilterCondition{
				{Field: "total_spent", Operator: OpGte, Value: 100},
			},
		}},
	}
	require.False(t, g.Empty())
}

func TestSyncStatus_Terminal(t *testing.T) {
	require.False(t, SyncPending.Terminal())
	require.False(t, SyncRunning.Terminal())
	require.True(t, SyncCompleted.Terminal())
	require.True(t, SyncFailed.Terminal())
}

func TestSyncEventPayload_ToJSON(t *testing.T) {
	payload := SyncEventPayload{
		RunID:            "run-42",
		ResourceType:     ResourceOrders,
		Mode:             SyncIncremental,
		RecordsProcessed: 120,
		RecordsCreated:   30,
		RecordsUpdated:   88,
		RecordsFailed:    2,
	}

	data, err := payload.ToJSON()
	require.NoError(t, err)

	var decoded SyncEventPayload
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, payload, decoded)
}

func TestNewDomainEvent(t *testing.T) {
	tenantID := uuid.New()
	payload, err := SegmentEventPayload{SegmentID: "seg-1", CustomerCount: 7, Added: 3, Removed: 1}.ToJSON()
	require.NoError(t, err)

	ev := NewDomainEvent(EventSegmentUpdated, tenantID, payload)
	require.NotEmpty(t, ev.EventID)
	require.Equal(t, EventSegmentUpdated, ev.EventType)
	require.Equal(t, tenantID, ev.TenantID)
	require.WithinDuration(t, time.Now().UTC(), ev.CreatedAt, time.Minute)
}

func TestSegmentMemberSnapshot(t *testing.T) {
	member := SegmentMember{
		SegmentID:          uuid.New(),
		CustomerID:         uuid.New(),
		TotalSpentSnapshot: decimal.RequireFromString("149.90"),
		RFMSegmentSnapshot: SegmentChampions,
		AddedAt:            time.Now(),
	}
	require.True(t, member.TotalSpentSnapshot.Equal(decimal.RequireFromString("149.9")))
}
