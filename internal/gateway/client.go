package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ShopCheckout/internal/models"
)

// ErrUnavailable wraps any transport or non-2xx failure talking to the
// hosted gateway; the HTTP layer maps it to 502.
var ErrUnavailable = errors.New("payment gateway unavailable")

// Client talks to the hosted-checkout API of the payment gateway. Session
// creation and retrieval follow the gateway's REST surface; webhook decoding
// lives in webhook.go.
type Client struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	client        *http.Client
}

type Config struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// Session mirrors the gateway-side view of a hosted checkout session.
type Session struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Status            string            `json:"status"`         // open | complete | expired
	PaymentStatus     string            `json:"payment_status"` // unpaid | paid | no_payment_required
	PaymentIntent     string            `json:"payment_intent"`
	ClientReferenceID string            `json:"client_reference_id"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	CustomerEmail     string            `json:"customer_email"`
	Metadata          map[string]string `json:"metadata"`
}

// Paid reports whether the gateway considers the session settled.
func (s *Session) Paid() bool {
	return s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required"
}

func (s *Session) Expired() bool {
	return s.Status == "expired"
}

type CreateSessionRequest struct {
	OrderID       string
	Currency      string
	CustomerEmail string
	CustomerName  string
	Lines         []models.CartLine
	Metadata      map[string]string
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.OrderID)
	form.Set("success_url", c.successURL)
	form.Set("cancel_url", c.cancelURL)
	if req.CustomerEmail != "" {
		form.Set("customer_email", req.CustomerEmail)
	}
	for i, line := range req.Lines {
		prefix := "line_items[" + strconv.Itoa(i) + "]"
		form.Set(prefix+"[price_data][currency]", req.Currency)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(line.Price, 10))
		form.Set(prefix+"[price_data][product_data][name]", line.Title)
		form.Set(prefix+"[quantity]", strconv.Itoa(line.Quantity))
	}
	form.Set("metadata[order_id]", req.OrderID)
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var sess Session
	if err := c.postForm(ctx, "/v1/checkout/sessions", form, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Client) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrUnavailable)
	}
	var sess Session
	if err := c.getJSON(ctx, "/v1/checkout/sessions/"+url.PathEscape(sessionID), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("%w: http status %d: %s", ErrUnavailable, resp.StatusCode, msg)
		}
		return fmt.Errorf("%w: http status %d", ErrUnavailable, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
