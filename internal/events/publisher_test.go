package events

import (
	"context"
	"testing"
	"time"

	"ShopCheckout/internal/models"
)

func TestDisabledPublisherIsNoOp(t *testing.T) {
	for _, p := range []*Publisher{
		NewPublisher(nil, "checkout.settlements"),
		NewPublisher([]string{"broker:9092"}, ""),
	} {
		if p.Enabled() {
			t.Error("publisher should be disabled")
		}
		err := p.PublishSettlement(context.Background(), SettlementEvent{
			OrderID:    "ORD-1",
			Status:     models.OrderPaid,
			OccurredAt: time.Now(),
		})
		if err != nil {
			t.Errorf("disabled publish returned error: %v", err)
		}
		if err := p.Close(); err != nil {
			t.Errorf("close returned error: %v", err)
		}
	}
}

func TestEnabledPublisherHasWriter(t *testing.T) {
	p := NewPublisher([]string{"broker:9092"}, "checkout.settlements")
	if !p.Enabled() {
		t.Fatal("publisher should be enabled")
	}
	if err := p.Close(); err != nil {
		t.Errorf("close returned error: %v", err)
	}
}
