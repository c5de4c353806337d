package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ShopCheckout/internal/config"
	"ShopCheckout/internal/db"
	"ShopCheckout/internal/downstream"
	"ShopCheckout/internal/events"
	"ShopCheckout/internal/gateway"
	internalhttp "ShopCheckout/internal/http"
	"ShopCheckout/internal/metrics"
	"ShopCheckout/internal/services"
	"ShopCheckout/internal/store"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger()
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
	if publisher.Enabled() {
		logger.Info("settlement event publisher enabled", zap.String("topic", cfg.Kafka.Topic))
	}

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
	checkout := &services.Checkout{
		Ledger:          ledger,
		Carts:           carts,
		Gateway:         gw,
		Settlement:      settlement,
		DefaultCurrency: cfg.Checkout.Currency,
		Logger:          logger.With(zap.String("component", "checkout")),
	}

	handler := &internalhttp.Handler{
		Checkout:        checkout,
		Settlement:      settlement,
		Sessions:        gw,
		Decoder:         gw,
		RequireVerified: cfg.Gateway.RequireVerified,
		Logger:          logger.With(zap.String("component", "http")),
	}
	srv := internalhttp.NewServer(handler, metrics.NewServerMetrics())

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}

func newLogger() (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	return zapConfig.Build()
}
