package worker

import (
	"context"
	"time"

	"ShopCheckout/internal/models"
	"ShopCheckout/internal/services"

	"go.uber.org/zap"
)

// Sweeper reconciles pending ledger entries whose webhook never arrived (or
// arrived before the entry existed). It asks the gateway for the session's
// current state and feeds the answer through the same idempotent settlement
// path as the webhook and confirmation handlers, so a late webhook racing a
// sweep is harmless.
type Sweeper struct {
	Ledger     services.Ledger
	Gateway    services.Gateway
	Settlement *services.Settlement
	Interval   time.Duration
	MinAge     time.Duration
	Logger     *zap.Logger
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		if err := s.SweepOnce(ctx); err != nil {
			s.Logger.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.MinAge)
	entries, err := s.Ledger.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	s.Logger.Info("sweeping stale pending orders", zap.Int("count", len(entries)))

	for _, entry := range entries {
		if err := s.sweepOrder(ctx, entry); err != nil {
			s.Logger.Error("sweep order failed",
				zap.String("order_id", entry.OrderID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Sweeper) sweepOrder(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.SessionID == "" {
		return nil
	}
	sess, err := s.Gateway.RetrieveSession(ctx, entry.SessionID)
	if err != nil {
		return err
	}

	var outcome models.Outcome
	switch {
	case sess.Paid():
		outcome = models.OutcomeSucceeded
	case sess.Expired():
		outcome = models.OutcomeFailed
	default:
		// Still open at the gateway; leave it for the next sweep.
		return nil
	}

	result, err := s.Settlement.Settle(ctx, entry.OrderID, sess.PaymentIntent, outcome)
	if err != nil {
		return err
	}
	if result.Transitioned {
		s.Logger.Info("swept order settled",
			zap.String("order_id", entry.OrderID),
			zap.String("status", string(result.Status)))
	}
	return nil
}
