package models

import "time"

type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
	OrderFailed  OrderStatus = "failed"
)

// Terminal reports whether no further settlement transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderFailed
}

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// LedgerEntry is one checkout attempt: the single source of truth for the
// payment status of a business order id. Rows are never deleted.
type LedgerEntry struct {
	OrderID       string
	UserID        string
	Amount        int64
	Currency      string
	Status        OrderStatus
	SessionID     string
	PaymentRef    string
	CustomerEmail string
	CustomerName  string
	SellerID      string
	Metadata      map[string]string
	PaidAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CartLine is owned by the cart service; this core reads lines at checkout
// time and bulk-deletes them after settlement.
type CartLine struct {
	UserID   string `json:"userId"`
	ItemID   string `json:"itemId"`
	ShopID   string `json:"shopId"`
	Title    string `json:"title"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

func (l CartLine) Subtotal() int64 {
	return l.Price * int64(l.Quantity)
}

type SnapshotLine struct {
	ItemID   string `json:"itemId"`
	Title    string `json:"title"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type ShopOrder struct {
	ShopID   string         `json:"shopId"`
	Lines    []SnapshotLine `json:"lines"`
	Subtotal int64          `json:"subtotal"`
}

// OrderSnapshot is the flattened cart handed to the order-creation service,
// grouped per shop, with the gateway payment reference attached.
type OrderSnapshot struct {
	OrderID    string      `json:"orderId"`
	UserID     string      `json:"userId"`
	PaymentRef string      `json:"paymentReference"`
	Currency   string      `json:"currency"`
	Total      int64       `json:"total"`
	Shops      []ShopOrder `json:"shops"`
}

type OrderConfirmation struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// FulfillmentReport is a best-effort account of the side effects taken for a
// settled order, not a guarantee that each succeeded.
type FulfillmentReport struct {
	ItemsCleared  int  `json:"itemsCleared"`
	OrdersCreated bool `json:"ordersCreated"`
	OrderCount    int  `json:"orderCount"`
	EmailSent     bool `json:"emailSent"`
}
