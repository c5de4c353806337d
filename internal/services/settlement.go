package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ShopCheckout/internal/events"
	"ShopCheckout/internal/models"
	"ShopCheckout/internal/store"

	"go.uber.org/zap"
)

var ErrOrderNotFound = errors.New("order not found")

// SettleResult reports whether this invocation won the terminal transition.
// Only the winning caller carries a fulfillment report; every other caller
// sees the already-terminal status and an empty report.
type SettleResult struct {
	Transitioned bool
	Status       models.OrderStatus
	Report       models.FulfillmentReport
}

// Settlement is the idempotent state-transition function both the webhook
// path and the client-confirmation path converge on. It is the sole writer
// of terminal ledger status.
type Settlement struct {
	Ledger    Ledger
	Fulfiller Fulfiller
	Events    SettlementPublisher
	Logger    *zap.Logger
}

type Fulfiller interface {
	Fulfill(ctx context.Context, entry *models.LedgerEntry) (models.FulfillmentReport, error)
}

// Settle loads the ledger entry (by order id, falling back to the payment
// reference), then attempts the single atomic pending→terminal transition.
// Duplicate signals, regardless of transport, land on an already-terminal
// row and return it unchanged. Fulfillment fires only when this call is the
// one that transitioned the row to paid.
func (s *Settlement) Settle(ctx context.Context, orderID, paymentRef string, outcome models.Outcome) (SettleResult, error) {
	entry, err := s.lookup(ctx, orderID, paymentRef)
	if err != nil {
		return SettleResult{}, err
	}

	if entry.Status.Terminal() {
		s.Logger.Info("duplicate settlement signal, ledger already terminal",
			zap.String("order_id", entry.OrderID),
			zap.String("status", string(entry.Status)))
		return SettleResult{Transitioned: false, Status: entry.Status}, nil
	}

	newStatus := models.OrderFailed
	var paidAt *time.Time
	if outcome == models.OutcomeSucceeded {
		newStatus = models.OrderPaid
		now := time.Now().UTC()
		paidAt = &now
	}

	affected, err := s.Ledger.Settle(ctx, entry.OrderID, newStatus, paidAt, paymentRef)
	if err != nil {
		return SettleResult{}, fmt.Errorf("settle order %s: %w", entry.OrderID, err)
	}
	if affected == 0 {
		// Lost the race to a concurrent signal; report whatever won.
		current, err := s.Ledger.GetByOrderID(ctx, entry.OrderID)
		if err != nil {
			return SettleResult{}, fmt.Errorf("reload order %s after settle race: %w", entry.OrderID, err)
		}
		s.Logger.Info("settlement race lost, returning winning status",
			zap.String("order_id", entry.OrderID),
			zap.String("status", string(current.Status)))
		return SettleResult{Transitioned: false, Status: current.Status}, nil
	}

	entry.Status = newStatus
	entry.PaidAt = paidAt
	if paymentRef != "" {
		entry.PaymentRef = paymentRef
	}

	s.Logger.Info("order settled",
		zap.String("order_id", entry.OrderID),
		zap.String("status", string(newStatus)),
		zap.String("payment_ref", entry.PaymentRef))

	s.publish(ctx, entry)

	result := SettleResult{Transitioned: true, Status: newStatus}
	if newStatus == models.OrderPaid && s.Fulfiller != nil {
		report, err := s.Fulfiller.Fulfill(ctx, entry)
		if err != nil {
			// Fulfillment problems never unwind a settled payment.
			s.Logger.Error("fulfillment incomplete after settlement",
				zap.String("order_id", entry.OrderID),
				zap.Error(err))
		}
		result.Report = report
	}
	return result, nil
}

// Status is the read-only ledger lookup behind the status endpoints.
func (s *Settlement) Status(ctx context.Context, orderID string) (*models.LedgerEntry, error) {
	entry, err := s.Ledger.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return entry, nil
}

// OrdersForUser returns the user's checkout history for audit and status
// queries; read-only like Status.
func (s *Settlement) OrdersForUser(ctx context.Context, userID string) ([]*models.LedgerEntry, error) {
	return s.Ledger.ListByUser(ctx, userID)
}

func (s *Settlement) lookup(ctx context.Context, orderID, paymentRef string) (*models.LedgerEntry, error) {
	if orderID != "" {
		entry, err := s.Ledger.GetByOrderID(ctx, orderID)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if paymentRef != "" {
		entry, err := s.Ledger.GetByPaymentRef(ctx, paymentRef)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: order_id=%q payment_ref=%q", ErrOrderNotFound, orderID, paymentRef)
}

func (s *Settlement) publish(ctx context.Context, entry *models.LedgerEntry) {
	if s.Events == nil {
		return
	}
	ev := events.SettlementEvent{
		OrderID:    entry.OrderID,
		UserID:     entry.UserID,
		Status:     entry.Status,
		Amount:     entry.Amount,
		Currency:   entry.Currency,
		PaymentRef: entry.PaymentRef,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.Events.PublishSettlement(ctx, ev); err != nil {
		s.Logger.Warn("settlement event publish failed",
			zap.String("order_id", entry.OrderID),
			zap.Error(err))
	}
}
