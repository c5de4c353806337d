package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ShopCheckout/internal/gateway"
	"ShopCheckout/internal/models"
	"ShopCheckout/internal/services"
	"ShopCheckout/internal/store"

	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test"

type memLedger struct {
	mu      sync.Mutex
	entries map[string]*models.LedgerEntry
}

func newMemLedger() *memLedger {
	return &memLedger{entries: map[string]*models.LedgerEntry{}}
}

func (m *memLedger) CreatePending(_ context.Context, entry *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.entries[entry.OrderID] = &cp
	return nil
}

func (m *memLedger) GetByOrderID(_ context.Context, orderID string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (m *memLedger) GetByPaymentRef(_ context.Context, ref string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries {
		if entry.PaymentRef == ref && ref != "" {
			cp := *entry
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memLedger) Settle(_ context.Context, orderID string, status models.OrderStatus, paidAt *time.Time, paymentRef string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[orderID]
	if !ok || entry.Status != models.OrderPending {
		return 0, nil
	}
	entry.Status = status
	entry.PaidAt = paidAt
	if paymentRef != "" {
		entry.PaymentRef = paymentRef
	}
	return 1, nil
}

func (m *memLedger) SetCustomerEmail(_ context.Context, orderID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[orderID]; ok && entry.CustomerEmail == "" {
		entry.CustomerEmail = email
	}
	return nil
}

func (m *memLedger) ListByUser(_ context.Context, userID string) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, entry := range m.entries {
		if entry.UserID == userID {
			cp := *entry
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memLedger) ListPendingBefore(_ context.Context, _ time.Time) ([]*models.LedgerEntry, error) {
	return nil, nil
}

type memCarts struct {
	lines map[string][]models.CartLine
}

func (m *memCarts) Lines(_ context.Context, userID string) ([]models.CartLine, error) {
	return m.lines[userID], nil
}

func (m *memCarts) Clear(_ context.Context, userID string) (int64, error) {
	n := int64(len(m.lines[userID]))
	delete(m.lines, userID)
	return n, nil
}

type stubGateway struct {
	session     *gateway.Session
	retrieved   *gateway.Session
	retrieveErr error
}

func (g *stubGateway) CreateSession(_ context.Context, req gateway.CreateSessionRequest) (*gateway.Session, error) {
	if g.session != nil {
		return g.session, nil
	}
	return &gateway.Session{
		ID:                "cs_test_1",
		URL:               "https://gateway.example.com/pay/cs_test_1",
		Status:            "open",
		PaymentStatus:     "unpaid",
		ClientReferenceID: req.OrderID,
	}, nil
}

func (g *stubGateway) RetrieveSession(_ context.Context, _ string) (*gateway.Session, error) {
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	if g.retrieved != nil {
		return g.retrieved, nil
	}
	return &gateway.Session{ID: "cs_test_1", Status: "complete", PaymentStatus: "paid", PaymentIntent: "pi_test"}, nil
}

type stubFulfiller struct {
	mu     sync.Mutex
	calls  int
	report models.FulfillmentReport
	err    error
}

func (f *stubFulfiller) Fulfill(_ context.Context, _ *models.LedgerEntry) (models.FulfillmentReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.report, f.err
}

func (f *stubFulfiller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	ledger    *memLedger
	carts     *memCarts
	gw        *stubGateway
	fulfiller *stubFulfiller
	router    http.Handler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		ledger:    newMemLedger(),
		carts:     &memCarts{lines: map[string][]models.CartLine{}},
		gw:        &stubGateway{},
		fulfiller: &stubFulfiller{report: models.FulfillmentReport{ItemsCleared: 2, OrdersCreated: true, OrderCount: 1, EmailSent: true}},
	}
	logger := zap.NewNop()
	settlement := &services.Settlement{Ledger: env.ledger, Fulfiller: env.fulfiller, Logger: logger}
	checkout := &services.Checkout{
		Ledger:          env.ledger,
		Carts:           env.carts,
		Gateway:         env.gw,
		Settlement:      settlement,
		DefaultCurrency: "usd",
		Logger:          logger,
	}
	handler := &Handler{
		Checkout:   checkout,
		Settlement: settlement,
		Sessions:   env.gw,
		Decoder:    gateway.NewClient(gateway.Config{WebhookSecret: testWebhookSecret}),
		Logger:     logger,
	}
	env.router = NewServer(handler, nil).Router
	return env
}

func (env *testEnv) seedPending(orderID string) {
	env.ledger.CreatePending(context.Background(), &models.LedgerEntry{
		OrderID:   orderID,
		UserID:    "u1",
		Amount:    2500,
		Currency:  "usd",
		Status:    models.OrderPending,
		SessionID: "cs_test_1",
	})
}

func signWebhook(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func completedEvent(orderID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"payment_status": "paid",
			"payment_intent": "pi_test",
			"client_reference_id": %q
		}}
	}`, orderID))
}

func (env *testEnv) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv()
	env.seedPending("ORD-1")

	payload := completedEvent("ORD-1")
	rec := env.do(http.MethodPost, "/payments/webhook", payload,
		map[string]string{gateway.SignatureHeader: "t=123,v1=deadbeef"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.fulfiller.count() != 0 {
		t.Error("fulfillment must not run for rejected webhooks")
	}
}

func TestWebhookSettlesOrder(t *testing.T) {
	env := newTestEnv()
	env.seedPending("ORD-1")

	payload := completedEvent("ORD-1")
	rec := env.do(http.MethodPost, "/payments/webhook", payload,
		map[string]string{gateway.SignatureHeader: signWebhook(payload)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]bool
	json.NewDecoder(rec.Body).Decode(&resp)
	if !resp["received"] {
		t.Error("expected received:true")
	}

	entry, _ := env.ledger.GetByOrderID(context.Background(), "ORD-1")
	if entry.Status != models.OrderPaid {
		t.Errorf("ledger status = %s, want paid", entry.Status)
	}
	if entry.PaymentRef != "pi_test" {
		t.Errorf("payment ref = %q", entry.PaymentRef)
	}
	if env.fulfiller.count() != 1 {
		t.Errorf("fulfiller calls = %d, want 1", env.fulfiller.count())
	}
}

func TestWebhookDuplicateDeliveryIsNoOp(t *testing.T) {
	env := newTestEnv()
	env.seedPending("ORD-1")

	payload := completedEvent("ORD-1")
	for i := 0; i < 3; i++ {
		rec := env.do(http.MethodPost, "/payments/webhook", payload,
			map[string]string{gateway.SignatureHeader: signWebhook(payload)})
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d", i, rec.Code)
		}
	}
	if env.fulfiller.count() != 1 {
		t.Errorf("fulfiller calls = %d, want exactly 1", env.fulfiller.count())
	}
}

func TestWebhookUnknownOrderStillAcknowledged(t *testing.T) {
	env := newTestEnv()

	payload := completedEvent("ORD-missing")
	rec := env.do(http.MethodPost, "/payments/webhook", payload,
		map[string]string{gateway.SignatureHeader: signWebhook(payload)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookIgnoresIrrelevantEventTypes(t *testing.T) {
	env := newTestEnv()
	env.seedPending("ORD-1")

	payload := []byte(`{"id":"evt_2","type":"payment_intent.created","data":{"object":{"client_reference_id":"ORD-1"}}}`)
	rec := env.do(http.MethodPost, "/payments/webhook", payload,
		map[string]string{gateway.SignatureHeader: signWebhook(payload)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	entry, _ := env.ledger.GetByOrderID(context.Background(), "ORD-1")
	if entry.Status != models.OrderPending {
		t.Errorf("ledger status = %s, want pending", entry.Status)
	}
}

func TestInitiateCheckoutEmptyCart(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/checkout/u1", []byte(`{}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cart is empty") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestInitiateCheckoutReturnsSession(t *testing.T) {
	env := newTestEnv()
	env.carts.lines["u1"] = []models.CartLine{
		{UserID: "u1", ItemID: "A", ShopID: "shop-1", Title: "Mug", Price: 1000, Quantity: 2},
	}

	rec := env.do(http.MethodPost, "/checkout/u1", []byte(`{"customerEmail":"buyer@example.com"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp initiateCheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionURL == "" || resp.SessionID != "cs_test_1" {
		t.Errorf("unexpected session fields: %+v", resp)
	}
	if resp.TotalAmount != 2000 {
		t.Errorf("total = %d, want 2000", resp.TotalAmount)
	}
	if !strings.HasPrefix(resp.OrderID, "ORD-") {
		t.Errorf("order id = %q", resp.OrderID)
	}
	if _, err := env.ledger.GetByOrderID(context.Background(), resp.OrderID); err != nil {
		t.Errorf("pending entry not recorded: %v", err)
	}
}

func TestPaymentSuccessMissingOrderID(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/checkout/payment-success", []byte(`{"sessionId":"cs_test_1"}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPaymentSuccessUnknownOrder(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/checkout/payment-success",
		[]byte(`{"orderId":"ORD-missing","sessionId":"cs_test_1"}`), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPaymentSuccessReportsPartialFulfillment(t *testing.T) {
	env := newTestEnv()
	env.seedPending("ORD-1")
	env.fulfiller.report = models.FulfillmentReport{ItemsCleared: 2, OrdersCreated: false}
	env.fulfiller.err = fmt.Errorf("order service down")

	rec := env.do(http.MethodPost, "/checkout/payment-success",
		[]byte(`{"orderId":"ORD-1","sessionId":"cs_test_1"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with in-band report", rec.Code)
	}

	var resp paymentSuccessResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "paid" {
		t.Errorf("status = %q, want paid", resp.Status)
	}
	if resp.ItemsCleared != 2 || resp.OrdersCreated {
		t.Errorf("report = %+v", resp)
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	env := newTestEnv()
	env.seedPending("ORD-1")

	rec := env.do(http.MethodPatch, "/payments/order/ORD-1/status",
		[]byte(`{"status":"paid","paidAt":"2020-01-01T00:00:00Z"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	entry, _ := env.ledger.GetByOrderID(context.Background(), "ORD-1")
	if entry.Status != models.OrderPaid {
		t.Errorf("ledger status = %s, want paid", entry.Status)
	}
	if entry.PaidAt == nil || entry.PaidAt.Year() == 2020 {
		t.Errorf("paid_at = %v, want reconciler-stamped time, not the client's", entry.PaidAt)
	}

	rec = env.do(http.MethodPatch, "/payments/order/ORD-1/status", []byte(`{"status":"shipped"}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown status", rec.Code)
	}
}

func TestGetOrderStatus(t *testing.T) {
	env := newTestEnv()
	env.seedPending("ORD-1")

	rec := env.do(http.MethodGet, "/payments/status/ORD-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp orderStatusResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "pending" || resp.Amount != 2500 {
		t.Errorf("response = %+v", resp)
	}

	rec = env.do(http.MethodGet, "/payments/status/ORD-missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListUserOrders(t *testing.T) {
	env := newTestEnv()
	env.seedPending("ORD-1")
	env.seedPending("ORD-2")
	env.ledger.CreatePending(context.Background(), &models.LedgerEntry{
		OrderID: "ORD-3", UserID: "u2", Amount: 900, Currency: "usd", Status: models.OrderPending,
	})

	rec := env.do(http.MethodGet, "/payments/orders?userId=u1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		UserID string                `json:"userId"`
		Orders []orderStatusResponse `json:"orders"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.UserID != "u1" || len(resp.Orders) != 2 {
		t.Errorf("response = %+v, want 2 orders for u1", resp)
	}
	for _, order := range resp.Orders {
		if order.OrderID != "ORD-1" && order.OrderID != "ORD-2" {
			t.Errorf("unexpected order %q in u1 history", order.OrderID)
		}
	}

	rec = env.do(http.MethodGet, "/payments/orders", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without userId", rec.Code)
	}

	rec = env.do(http.MethodGet, "/payments/orders?userId=u3", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for empty history", rec.Code)
	}
}

func TestVerifySession(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodGet, "/payments/verify", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without sessionId", rec.Code)
	}

	env.gw.retrieveErr = gateway.ErrUnavailable
	rec = env.do(http.MethodGet, "/payments/verify?sessionId=cs_test_1", nil, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	env.gw.retrieveErr = nil
	env.seedPending("ORD-1")
	env.gw.retrieved = &gateway.Session{ID: "cs_test_1", Status: "complete", PaymentStatus: "paid", ClientReferenceID: "ORD-1"}
	rec = env.do(http.MethodGet, "/payments/verify?sessionId=cs_test_1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["paymentStatus"] != "paid" || resp["ledgerStatus"] != "pending" {
		t.Errorf("response = %v", resp)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
