package services

import (
	"context"
	"sync"
	"time"

	"ShopCheckout/internal/events"
	"ShopCheckout/internal/gateway"
	"ShopCheckout/internal/models"
	"ShopCheckout/internal/store"
)

// mockLedger reproduces the store's compare-and-set semantics in memory so
// settlement races can be exercised without a database.
type mockLedger struct {
	mu      sync.Mutex
	entries map[string]*models.LedgerEntry

	settleCalls int
}

func newMockLedger() *mockLedger {
	return &mockLedger{entries: make(map[string]*models.LedgerEntry)}
}

func (m *mockLedger) put(entry *models.LedgerEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.entries[entry.OrderID] = &cp
}

func (m *mockLedger) get(orderID string) *models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[orderID]; ok {
		cp := *e
		return &cp
	}
	return nil
}

func (m *mockLedger) CreatePending(ctx context.Context, entry *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[entry.OrderID]; ok && existing.Status == models.OrderPaid {
		return store.ErrAlreadySettled
	}
	cp := *entry
	cp.Status = models.OrderPending
	m.entries[entry.OrderID] = &cp
	return nil
}

func (m *mockLedger) GetByOrderID(ctx context.Context, orderID string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockLedger) GetByPaymentRef(ctx context.Context, paymentRef string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.PaymentRef != "" && e.PaymentRef == paymentRef {
			cp := *e
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockLedger) Settle(ctx context.Context, orderID string, status models.OrderStatus, paidAt *time.Time, paymentRef string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleCalls++
	e, ok := m.entries[orderID]
	if !ok || e.Status != models.OrderPending {
		return 0, nil
	}
	e.Status = status
	e.PaidAt = paidAt
	if paymentRef != "" {
		e.PaymentRef = paymentRef
	}
	return 1, nil
}

func (m *mockLedger) SetCustomerEmail(ctx context.Context, orderID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[orderID]; ok && e.CustomerEmail == "" {
		e.CustomerEmail = email
	}
	return nil
}

func (m *mockLedger) ListByUser(ctx context.Context, userID string) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockLedger) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.Status == models.OrderPending && e.CreatedAt.Before(cutoff) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockCarts struct {
	mu       sync.Mutex
	lines    map[string][]models.CartLine
	linesErr error
	clearErr error

	clearCalls int
}

func newMockCarts() *mockCarts {
	return &mockCarts{lines: make(map[string][]models.CartLine)}
}

func (m *mockCarts) Lines(ctx context.Context, userID string) ([]models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.linesErr != nil {
		return nil, m.linesErr
	}
	return append([]models.CartLine(nil), m.lines[userID]...), nil
}

func (m *mockCarts) Clear(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearCalls++
	if m.clearErr != nil {
		return 0, m.clearErr
	}
	n := int64(len(m.lines[userID]))
	delete(m.lines, userID)
	return n, nil
}

type mockOrders struct {
	mu        sync.Mutex
	err       error
	snapshots []models.OrderSnapshot
}

func (m *mockOrders) CreateOrders(ctx context.Context, snapshot models.OrderSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.snapshots = append(m.snapshots, snapshot)
	return nil
}

type mockNotifier struct {
	mu    sync.Mutex
	err   error
	calls []models.OrderConfirmation
}

func (m *mockNotifier) SendOrderConfirmation(ctx context.Context, msg models.OrderConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, msg)
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockFulfiller struct {
	mu     sync.Mutex
	report models.FulfillmentReport
	err    error
	calls  int
}

func (m *mockFulfiller) Fulfill(ctx context.Context, entry *models.LedgerEntry) (models.FulfillmentReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.report, m.err
}

func (m *mockFulfiller) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockPublisher struct {
	mu     sync.Mutex
	err    error
	events []events.SettlementEvent
}

func (m *mockPublisher) PublishSettlement(ctx context.Context, ev events.SettlementEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

type mockGateway struct {
	mu          sync.Mutex
	createErr   error
	retrieveErr error
	session     *gateway.Session
	retrieved   *gateway.Session

	createCalls int
}

func (m *mockGateway) CreateSession(ctx context.Context, req gateway.CreateSessionRequest) (*gateway.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return nil, m.createErr
	}
	if m.session != nil {
		cp := *m.session
		return &cp, nil
	}
	return &gateway.Session{
		ID:                "cs_test_1",
		URL:               "https://gateway.example.com/pay/cs_test_1",
		Status:            "open",
		PaymentStatus:     "unpaid",
		ClientReferenceID: req.OrderID,
		Currency:          req.Currency,
	}, nil
}

func (m *mockGateway) RetrieveSession(ctx context.Context, sessionID string) (*gateway.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retrieveErr != nil {
		return nil, m.retrieveErr
	}
	if m.retrieved != nil {
		cp := *m.retrieved
		return &cp, nil
	}
	return &gateway.Session{ID: sessionID, Status: "open", PaymentStatus: "unpaid"}, nil
}
