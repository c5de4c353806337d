package services

import (
	"context"
	"fmt"
	"sort"

	"ShopCheckout/internal/models"

	"go.uber.org/zap"
)

// Fulfillment runs the side effects of a settled order: order creation, cart
// clearing, confirmation email. Each step tolerates the others failing; a
// paid order must never leave the cart re-payable, so clearing runs
// regardless of how order creation went. There is no compensating
// transaction; operators reconcile paid-but-uncreated orders out of band.
type Fulfillment struct {
	Carts    CartStore
	Orders   OrderCreator
	Notifier Notifier
	Logger   *zap.Logger
}

func (f *Fulfillment) Fulfill(ctx context.Context, entry *models.LedgerEntry) (models.FulfillmentReport, error) {
	var report models.FulfillmentReport

	lines, err := f.Carts.Lines(ctx, entry.UserID)
	if err != nil {
		return report, fmt.Errorf("read cart for user %s: %w", entry.UserID, err)
	}
	if len(lines) == 0 {
		// Already fulfilled (or nothing to do); a retry must not error.
		f.Logger.Info("cart already empty, fulfillment is a no-op",
			zap.String("order_id", entry.OrderID),
			zap.String("user_id", entry.UserID))
		return report, nil
	}

	snapshot := buildSnapshot(entry, lines)
	if err := f.Orders.CreateOrders(ctx, snapshot); err != nil {
		f.Logger.Error("order creation failed, continuing with cart clear",
			zap.String("order_id", entry.OrderID),
			zap.Error(err))
	} else {
		report.OrdersCreated = true
		report.OrderCount = len(snapshot.Shops)
	}

	cleared, err := f.Carts.Clear(ctx, entry.UserID)
	if err != nil {
		f.Logger.Error("cart clear failed",
			zap.String("order_id", entry.OrderID),
			zap.String("user_id", entry.UserID),
			zap.Error(err))
	} else {
		report.ItemsCleared = int(cleared)
	}

	if entry.CustomerEmail != "" {
		msg := models.OrderConfirmation{
			Email:    entry.CustomerEmail,
			Name:     entry.CustomerName,
			OrderID:  entry.OrderID,
			Amount:   entry.Amount,
			Currency: entry.Currency,
		}
		if err := f.Notifier.SendOrderConfirmation(ctx, msg); err != nil {
			f.Logger.Error("confirmation email failed",
				zap.String("order_id", entry.OrderID),
				zap.Error(err))
		} else {
			report.EmailSent = true
		}
	}

	return report, nil
}

// buildSnapshot flattens cart lines into per-shop orders with the gateway
// payment reference attached. Shops are sorted for deterministic payloads.
func buildSnapshot(entry *models.LedgerEntry, lines []models.CartLine) models.OrderSnapshot {
	byShop := make(map[string]*models.ShopOrder)
	var total int64
	for _, line := range lines {
		shop, ok := byShop[line.ShopID]
		if !ok {
			shop = &models.ShopOrder{ShopID: line.ShopID}
			byShop[line.ShopID] = shop
		}
		shop.Lines = append(shop.Lines, models.SnapshotLine{
			ItemID:   line.ItemID,
			Title:    line.Title,
			Price:    line.Price,
			Quantity: line.Quantity,
		})
		shop.Subtotal += line.Subtotal()
		total += line.Subtotal()
	}

	shopIDs := make([]string, 0, len(byShop))
	for id := range byShop {
		shopIDs = append(shopIDs, id)
	}
	sort.Strings(shopIDs)

	shops := make([]models.ShopOrder, 0, len(shopIDs))
	for _, id := range shopIDs {
		shops = append(shops, *byShop[id])
	}

	return models.OrderSnapshot{
		OrderID:    entry.OrderID,
		UserID:     entry.UserID,
		PaymentRef: entry.PaymentRef,
		Currency:   entry.Currency,
		Total:      total,
		Shops:      shops,
	}
}
