package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"ShopCheckout/internal/gateway"
	"ShopCheckout/internal/models"
	"ShopCheckout/internal/services"
	"ShopCheckout/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// EventDecoder validates and parses raw gateway webhook payloads.
type EventDecoder interface {
	DecodeEvent(payload []byte, sigHeader string) (*gateway.Event, error)
}

type Handler struct {
	Checkout   *services.Checkout
	Settlement *services.Settlement
	Sessions   services.Gateway
	Decoder    EventDecoder

	// RequireVerified rejects webhook events that parsed without a
	// signature check (no webhook secret configured).
	RequireVerified bool

	Logger *zap.Logger
}

type initiateCheckoutRequest struct {
	CustomerEmail string `json:"customerEmail"`
	CustomerName  string `json:"customerName"`
	Currency      string `json:"currency"`
}

type initiateCheckoutResponse struct {
	OrderID     string            `json:"orderId"`
	SessionID   string            `json:"sessionId"`
	SessionURL  string            `json:"sessionUrl"`
	TotalAmount int64             `json:"totalAmount"`
	Currency    string            `json:"currency"`
	Items       []models.CartLine `json:"items"`
}

func (h *Handler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var req initiateCheckoutRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	result, err := h.Checkout.Initiate(r.Context(), userID, req.CustomerEmail, req.CustomerName, req.Currency)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMissingUserID):
			writeError(w, http.StatusBadRequest, "missing user id")
		case errors.Is(err, services.ErrEmptyCart):
			writeError(w, http.StatusBadRequest, "cart is empty")
		case errors.Is(err, store.ErrAlreadySettled):
			writeError(w, http.StatusConflict, "order already settled")
		case errors.Is(err, gateway.ErrUnavailable):
			h.Logger.Error("payment gateway unreachable", zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusBadGateway, "payment gateway unavailable")
		default:
			h.Logger.Error("checkout failed", zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "checkout failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, initiateCheckoutResponse{
		OrderID:     result.OrderID,
		SessionID:   result.SessionID,
		SessionURL:  result.SessionURL,
		TotalAmount: result.TotalAmount,
		Currency:    result.Currency,
		Items:       result.Items,
	})
}

type paymentSuccessRequest struct {
	SessionID     string `json:"sessionId"`
	OrderID       string `json:"orderId"`
	CustomerEmail string `json:"customerEmail"`
}

type paymentSuccessResponse struct {
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	ItemsCleared  int    `json:"itemsCleared"`
	OrdersCreated bool   `json:"ordersCreated"`
	OrderCount    int    `json:"orderCount"`
	EmailSent     bool   `json:"emailSent"`
}

// PaymentSuccess is the client-confirmation path. Downstream failures are
// reported in-band with HTTP 200; only unknown orders and malformed requests
// get an error status.
func (h *Handler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	var req paymentSuccessRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	result, err := h.Checkout.Confirm(r.Context(), req.SessionID, req.OrderID, req.CustomerEmail)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		default:
			h.Logger.Error("payment confirmation failed", zap.String("order_id", req.OrderID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "payment confirmation failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, paymentSuccessResponse{
		OrderID:       result.OrderID,
		Status:        string(result.Status),
		ItemsCleared:  result.Report.ItemsCleared,
		OrdersCreated: result.Report.OrdersCreated,
		OrderCount:    result.Report.OrderCount,
		EmailSent:     result.Report.EmailSent,
	})
}

// Webhook handles the gateway's asynchronous notifications. A duplicate
// delivery settles as a no-op and still gets 200 so the gateway stops
// redelivering; only signature failures are rejected.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ev, err := h.Decoder.DecodeEvent(payload, r.Header.Get(gateway.SignatureHeader))
	if err != nil {
		h.Logger.Warn("webhook rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	if ev.Unverified && h.RequireVerified {
		h.Logger.Warn("unverified webhook rejected", zap.String("event_id", ev.ID))
		writeError(w, http.StatusBadRequest, "unverified event")
		return
	}

	outcome, relevant := ev.Outcome()
	if !relevant {
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	_, err = h.Settlement.Settle(r.Context(), ev.OrderID(), ev.Data.Object.PaymentIntent, outcome)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			// Logged and dropped: redelivery cannot help an unknown order.
			h.Logger.Error("webhook for unknown order dropped",
				zap.String("event_id", ev.ID),
				zap.String("order_id", ev.OrderID()))
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		h.Logger.Error("webhook settlement failed", zap.String("event_id", ev.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "settlement failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type updateStatusRequest struct {
	Status string `json:"status"`
	// PaidAt is accepted on the wire but ignored: the reconciler stamps the
	// settlement time itself, as the sole writer of terminal state.
	PaidAt *time.Time `json:"paidAt"`
}

// UpdateOrderStatus is the direct ledger mutation path. It routes through
// the same atomic check-and-set as the webhook, never a raw overwrite.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var req updateStatusRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	var outcome models.Outcome
	switch models.OrderStatus(req.Status) {
	case models.OrderPaid:
		outcome = models.OutcomeSucceeded
	case models.OrderFailed:
		outcome = models.OutcomeFailed
	default:
		writeError(w, http.StatusBadRequest, "status must be paid or failed")
		return
	}

	result, err := h.Settlement.Settle(r.Context(), orderID, "", outcome)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.Logger.Error("status update failed", zap.String("order_id", orderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "status update failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orderId":      orderID,
		"status":       result.Status,
		"transitioned": result.Transitioned,
	})
}

type orderStatusResponse struct {
	OrderID    string `json:"orderId"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	SessionID  string `json:"sessionId,omitempty"`
	PaymentRef string `json:"paymentReference,omitempty"`
	PaidAt     string `json:"paidAt,omitempty"`
}

func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	entry, err := h.Settlement.Status(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.Logger.Error("status lookup failed", zap.String("order_id", orderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}

	resp := orderStatusResponse{
		OrderID:    entry.OrderID,
		Status:     string(entry.Status),
		Amount:     entry.Amount,
		Currency:   entry.Currency,
		SessionID:  entry.SessionID,
		PaymentRef: entry.PaymentRef,
	}
	if entry.PaidAt != nil {
		resp.PaidAt = entry.PaidAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListUserOrders returns the user's checkout history, newest first.
func (h *Handler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}

	entries, err := h.Settlement.OrdersForUser(r.Context(), userID)
	if err != nil {
		h.Logger.Error("order history lookup failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "order history lookup failed")
		return
	}

	orders := make([]orderStatusResponse, 0, len(entries))
	for _, entry := range entries {
		item := orderStatusResponse{
			OrderID:    entry.OrderID,
			Status:     string(entry.Status),
			Amount:     entry.Amount,
			Currency:   entry.Currency,
			SessionID:  entry.SessionID,
			PaymentRef: entry.PaymentRef,
		}
		if entry.PaidAt != nil {
			item.PaidAt = entry.PaidAt.Format(time.RFC3339)
		}
		orders = append(orders, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId": userID,
		"orders": orders,
	})
}

// VerifySession reports the gateway-side and ledger-side views of a session
// without touching either.
func (h *Handler) VerifySession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing sessionId")
		return
	}

	sess, err := h.Sessions.RetrieveSession(r.Context(), sessionID)
	if err != nil {
		h.Logger.Error("session retrieval failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "payment gateway unavailable")
		return
	}

	resp := map[string]any{
		"sessionId":     sess.ID,
		"sessionStatus": sess.Status,
		"paymentStatus": sess.PaymentStatus,
		"orderId":       sess.ClientReferenceID,
	}
	if sess.ClientReferenceID != "" {
		if entry, err := h.Settlement.Status(r.Context(), sess.ClientReferenceID); err == nil {
			resp["ledgerStatus"] = string(entry.Status)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
