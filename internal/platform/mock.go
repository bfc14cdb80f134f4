package platform

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// MockClient is an in-memory Client for tests. Pages are served in
// slice order with synthetic cursors.
type MockClient struct {
	mu        sync.Mutex
	Customers []Customer
	Orders    []Order

	// Err, when set, is returned by every call.
	Err error

	// Calls counts list invocations per resource.
	Calls map[string]int
}

// NewMockClient builds an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{Calls: make(map[string]int)}
}

// ListCustomers serves customers from the in-memory slice.
func (m *MockClient) ListCustomers(_ context.Context, _ Credentials, cursor string, pageSize int) (*CustomerPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["customers"]++
	if m.Err != nil {
		return nil, m.Err
	}

	start, end, next, hasMore := pageWindow(cursor, pageSize, len(m.Customers))
	return &CustomerPage{
		Items:      m.Customers[start:end],
		NextCursor: next,
		HasMore:    hasMore,
	}, nil
}

// ListOrders serves orders from the in-memory slice.
func (m *MockClient) ListOrders(_ context.Context, _ Credentials, cursor string, pageSize int) (*OrderPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["orders"]++
	if m.Err != nil {
		return nil, m.Err
	}

	start, end, next, hasMore := pageWindow(cursor, pageSize, len(m.Orders))
	return &OrderPage{
		Items:      m.Orders[start:end],
		NextCursor: next,
		HasMore:    hasMore,
	}, nil
}

func pageWindow(cursor string, pageSize, total int) (start, end int, next string, hasMore bool) {
	start = decodeCursor(cursor)
	if start > total {
		start = total
	}
	end = start + pageSize
	if end >= total {
		return start, total, "", false
	}
	return start, end, encodeCursor(end), true
}

func encodeCursor(offset int) string { return "cur-" + strconv.Itoa(offset) }

func decodeCursor(cursor string) int {
	if !strings.HasPrefix(cursor, "cur-") {
		return 0
	}
	n, err := strconv.Atoi(cursor[len("cur-"):])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
