package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ShopCheckout/internal/models"
)

// OrdersClient calls the order-creation service with the flattened cart
// snapshot of a settled checkout. The service is an external collaborator;
// only the request/response contract lives here.
type OrdersClient struct {
	baseURL string
	client  *http.Client
}

func NewOrdersClient(baseURL string) *OrdersClient {
	return &OrdersClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *OrdersClient) CreateOrders(ctx context.Context, snapshot models.OrderSnapshot) error {
	return postJSON(ctx, c.client, c.baseURL+"/internal/orders", snapshot)
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		text := strings.TrimSpace(string(msg))
		if text != "" {
			return fmt.Errorf("http status %d: %s", resp.StatusCode, text)
		}
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	return nil
}
