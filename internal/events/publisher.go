package events

import (
	"context"
	"encoding/json"
	"time"

	"ShopCheckout/internal/models"

	"github.com/segmentio/kafka-go"
)

// SettlementEvent announces a terminal ledger transition to the rest of the
// platform. Consumers (dashboards, analytics) are outside this core.
type SettlementEvent struct {
	OrderID    string             `json:"orderId"`
	UserID     string             `json:"userId"`
	Status     models.OrderStatus `json:"status"`
	Amount     int64              `json:"amount"`
	Currency   string             `json:"currency"`
	PaymentRef string             `json:"paymentReference"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// Publisher writes settlement events to Kafka, keyed by order id. With no
// brokers configured it is disabled and every publish is a no-op; publish
// failures never block settlement.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	if len(brokers) == 0 || topic == "" {
		return &Publisher{}
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *Publisher) Enabled() bool {
	return p.writer != nil
}

func (p *Publisher) PublishSettlement(ctx context.Context, ev SettlementEvent) error {
	if !p.Enabled() {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: data,
		Time:  ev.OccurredAt,
	})
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
