package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"ShopCheckout/internal/config"
	"ShopCheckout/internal/db"
	"ShopCheckout/internal/downstream"
	"ShopCheckout/internal/events"
	"ShopCheckout/internal/gateway"
	"ShopCheckout/internal/services"
	"ShopCheckout/internal/store"
	"ShopCheckout/internal/worker"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	ledger := store.NewLedger(pool)
	carts := store.NewCarts(pool)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		SecretKey:     cfg.Gateway.SecretKey,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		SuccessURL:    cfg.Gateway.SuccessURL,
		CancelURL:     cfg.Gateway.CancelURL,
	})

	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	fulfillment := &services.Fulfillment{
		Carts:    carts,
		Orders:   downstream.NewOrdersClient(cfg.Downstream.OrdersURL),
		Notifier: downstream.NewNotifierClient(cfg.Downstream.NotificationsURL),
		Logger:   logger.With(zap.String("component", "fulfillment")),
	}
	settlement := &services.Settlement{
		Ledger:    ledger,
		Fulfiller: fulfillment,
		Events:    publisher,
		Logger:    logger.With(zap.String("component", "settlement")),
	}

	sweeper := &worker.Sweeper{
		Ledger:     ledger,
		Gateway:    gw,
		Settlement: settlement,
		Interval:   time.Duration(cfg.Sweeper.IntervalSeconds) * time.Second,
		MinAge:     time.Duration(cfg.Sweeper.MinAgeSeconds) * time.Second,
		Logger:     logger.With(zap.String("component", "sweeper")),
	}

	logger.Info("sweeper started",
		zap.Duration("interval", sweeper.Interval),
		zap.Duration("min_age", sweeper.MinAge))
	sweeper.Run(ctx)
}
