package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ShopCheckout/internal/gateway"
	"ShopCheckout/internal/models"
	"ShopCheckout/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrMissingUserID  = errors.New("missing user id")
	ErrEmptyCart      = errors.New("cart is empty")
	ErrMissingOrderID = errors.New("missing order id")
)

// Checkout drives the front half of the pipeline: cart → hosted session →
// pending ledger entry → redirect URL. Confirm is the client-driven
// completion path invoked after the buyer returns from the gateway's hosted
// page.
type Checkout struct {
	Ledger          Ledger
	Carts           CartStore
	Gateway         Gateway
	Settlement      *Settlement
	DefaultCurrency string
	Logger          *zap.Logger

	// newOrderID overrides order id derivation; nil means deriveOrderID.
	newOrderID func(userID string) string
}

type CheckoutResult struct {
	OrderID     string
	SessionID   string
	SessionURL  string
	TotalAmount int64
	Currency    string
	Items       []models.CartLine
}

type ConfirmResult struct {
	OrderID      string
	Status       models.OrderStatus
	Transitioned bool
	Report       models.FulfillmentReport
}

// Initiate reads the user's cart, opens a hosted payment session and records
// a pending ledger entry carrying the serialized cart snapshot. An empty
// cart is rejected before anything is written.
func (c *Checkout) Initiate(ctx context.Context, userID, customerEmail, customerName, currency string) (*CheckoutResult, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	lines, err := c.Carts.Lines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read cart for user %s: %w", userID, err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	var total int64
	for _, line := range lines {
		total += line.Subtotal()
	}
	if currency == "" {
		currency = c.DefaultCurrency
	}

	derive := c.newOrderID
	if derive == nil {
		derive = deriveOrderID
	}
	orderID := derive(userID)

	// CreatePending enforces the paid guard atomically; checking here first
	// keeps a settled order from opening a second gateway session.
	if existing, err := c.Ledger.GetByOrderID(ctx, orderID); err == nil {
		if existing.Status == models.OrderPaid {
			return nil, fmt.Errorf("order %s: %w", orderID, store.ErrAlreadySettled)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check order %s: %w", orderID, err)
	}

	cartJSON, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("serialize cart snapshot: %w", err)
	}
	metadata := map[string]string{"cart": string(cartJSON)}

	sess, err := c.Gateway.CreateSession(ctx, gateway.CreateSessionRequest{
		OrderID:       orderID,
		Currency:      currency,
		CustomerEmail: customerEmail,
		CustomerName:  customerName,
		Lines:         lines,
		Metadata:      map[string]string{"user_id": userID},
	})
	if err != nil {
		return nil, fmt.Errorf("create payment session for order %s: %w", orderID, err)
	}

	entry := &models.LedgerEntry{
		OrderID:       orderID,
		UserID:        userID,
		Amount:        total,
		Currency:      currency,
		Status:        models.OrderPending,
		SessionID:     sess.ID,
		CustomerEmail: customerEmail,
		CustomerName:  customerName,
		SellerID:      soleSeller(lines),
		Metadata:      metadata,
	}
	if err := c.Ledger.CreatePending(ctx, entry); err != nil {
		return nil, fmt.Errorf("record pending order %s: %w", orderID, err)
	}

	c.Logger.Info("checkout initiated",
		zap.String("order_id", orderID),
		zap.String("user_id", userID),
		zap.String("session_id", sess.ID),
		zap.Int64("amount", total),
		zap.String("currency", currency))

	return &CheckoutResult{
		OrderID:     orderID,
		SessionID:   sess.ID,
		SessionURL:  sess.URL,
		TotalAmount: total,
		Currency:    currency,
		Items:       lines,
	}, nil
}

// Confirm is the post-redirect completion call. The user's report is a hint:
// when the gateway is reachable the session state is corroborated first, and
// either way the real guarantee is the reconciler's atomic check against
// ledger state. Webhook delivery racing this call is safe for the same
// reason.
func (c *Checkout) Confirm(ctx context.Context, sessionID, orderID, customerEmail string) (*ConfirmResult, error) {
	if orderID == "" {
		return nil, ErrMissingOrderID
	}

	if customerEmail != "" {
		if err := c.Ledger.SetCustomerEmail(ctx, orderID, customerEmail); err != nil {
			c.Logger.Warn("customer email backfill failed",
				zap.String("order_id", orderID), zap.Error(err))
		}
	}

	outcome := models.OutcomeSucceeded
	paymentRef := ""
	if sessionID != "" {
		sess, err := c.Gateway.RetrieveSession(ctx, sessionID)
		switch {
		case err != nil:
			// Gateway unreachable: proceed optimistically, the ledger CAS
			// still decides.
			c.Logger.Warn("session corroboration unavailable",
				zap.String("order_id", orderID),
				zap.String("session_id", sessionID),
				zap.Error(err))
		case sess.Paid():
			paymentRef = sess.PaymentIntent
		case sess.Expired():
			outcome = models.OutcomeFailed
		default:
			// Session still open and unpaid: nothing to settle, report the
			// current ledger state.
			entry, err := c.Settlement.Status(ctx, orderID)
			if err != nil {
				return nil, err
			}
			c.Logger.Info("confirmation for unpaid session ignored",
				zap.String("order_id", orderID),
				zap.String("session_id", sessionID))
			return &ConfirmResult{OrderID: orderID, Status: entry.Status}, nil
		}
	}

	result, err := c.Settlement.Settle(ctx, orderID, paymentRef, outcome)
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{
		OrderID:      orderID,
		Status:       result.Status,
		Transitioned: result.Transitioned,
		Report:       result.Report,
	}, nil
}

// deriveOrderID keeps order ids human-traceable: timestamp and user, plus a
// short random suffix so re-checkout within the same second cannot collide.
func deriveOrderID(userID string) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("ORD-%d-%s-%s", time.Now().Unix(), userID, suffix)
}

func soleSeller(lines []models.CartLine) string {
	if len(lines) == 0 {
		return ""
	}
	shop := lines[0].ShopID
	for _, line := range lines[1:] {
		if line.ShopID != shop {
			return ""
		}
	}
	return shop
}
