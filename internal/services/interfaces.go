package services

import (
	"context"
	"time"

	"ShopCheckout/internal/events"
	"ShopCheckout/internal/gateway"
	"ShopCheckout/internal/models"
)

// Ledger is the repository behind the order ledger. The pgx implementation
// lives in internal/store; tests substitute an in-memory one.
type Ledger interface {
	CreatePending(ctx context.Context, entry *models.LedgerEntry) error
	GetByOrderID(ctx context.Context, orderID string) (*models.LedgerEntry, error)
	GetByPaymentRef(ctx context.Context, paymentRef string) (*models.LedgerEntry, error)
	Settle(ctx context.Context, orderID string, status models.OrderStatus, paidAt *time.Time, paymentRef string) (int64, error)
	SetCustomerEmail(ctx context.Context, orderID, email string) error
	ListByUser(ctx context.Context, userID string) ([]*models.LedgerEntry, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.LedgerEntry, error)
}

type CartStore interface {
	Lines(ctx context.Context, userID string) ([]models.CartLine, error)
	Clear(ctx context.Context, userID string) (int64, error)
}

type Gateway interface {
	CreateSession(ctx context.Context, req gateway.CreateSessionRequest) (*gateway.Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*gateway.Session, error)
}

type OrderCreator interface {
	CreateOrders(ctx context.Context, snapshot models.OrderSnapshot) error
}

type Notifier interface {
	SendOrderConfirmation(ctx context.Context, msg models.OrderConfirmation) error
}

type SettlementPublisher interface {
	PublishSettlement(ctx context.Context, ev events.SettlementEvent) error
}
