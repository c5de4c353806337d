package downstream

import (
	"context"
	"net/http"
	"strings"
	"time"

	"ShopCheckout/internal/models"
)

// NotifierClient asks the notification service to send the order
// confirmation email. Delivery is best effort; the caller logs failures and
// moves on.
type NotifierClient struct {
	baseURL string
	client  *http.Client
}

func NewNotifierClient(baseURL string) *NotifierClient {
	return &NotifierClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *NotifierClient) SendOrderConfirmation(ctx context.Context, msg models.OrderConfirmation) error {
	return postJSON(ctx, c.client, c.baseURL+"/internal/notifications/order-confirmation", msg)
}
