package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ShopCheckout/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound       = errors.New("ledger entry not found")
	ErrAlreadySettled = errors.New("order already settled")
)

type Ledger struct {
	Pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{Pool: pool}
}

const ledgerColumns = `order_id, user_id, amount, currency, status, session_id,
	payment_ref, customer_email, customer_name, seller_id, metadata,
	paid_at, created_at, updated_at`

// CreatePending upserts a pending ledger entry for the order id. A prior
// pending or failed row for the same id is overwritten (re-checkout); a paid
// row is left untouched and ErrAlreadySettled is returned.
func (s *Ledger) CreatePending(ctx context.Context, entry *models.LedgerEntry) error {
	meta, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	res, err := s.Pool.Exec(ctx, `
		INSERT INTO checkout_orders (
			order_id, user_id, amount, currency, status, session_id,
			payment_ref, customer_email, customer_name, seller_id, metadata
		) VALUES ($1,$2,$3,$4,'pending',$5,'',$6,$7,$8,$9)
		ON CONFLICT (order_id) DO UPDATE SET
			amount=EXCLUDED.amount,
			currency=EXCLUDED.currency,
			status='pending',
			session_id=EXCLUDED.session_id,
			payment_ref='',
			customer_email=EXCLUDED.customer_email,
			customer_name=EXCLUDED.customer_name,
			seller_id=EXCLUDED.seller_id,
			metadata=EXCLUDED.metadata,
			paid_at=NULL,
			updated_at=now()
		WHERE checkout_orders.status <> 'paid'
	`,
		entry.OrderID,
		entry.UserID,
		entry.Amount,
		entry.Currency,
		entry.SessionID,
		entry.CustomerEmail,
		entry.CustomerName,
		entry.SellerID,
		meta,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrAlreadySettled
	}
	return nil
}

func (s *Ledger) GetByOrderID(ctx context.Context, orderID string) (*models.LedgerEntry, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM checkout_orders WHERE order_id=$1
	`, orderID)
	return scanEntry(row)
}

// GetByPaymentRef is the fallback lookup for settlement signals that carry
// only the gateway payment reference.
func (s *Ledger) GetByPaymentRef(ctx context.Context, paymentRef string) (*models.LedgerEntry, error) {
	if paymentRef == "" {
		return nil, ErrNotFound
	}
	row := s.Pool.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM checkout_orders WHERE payment_ref=$1
	`, paymentRef)
	return scanEntry(row)
}

// Settle is the atomic check-and-set behind the settlement reconciler: the
// terminal status is written only if the row is still pending, and the number
// of affected rows tells the caller whether this invocation won the
// transition. Concurrent signals for the same order id cannot both observe
// pending.
func (s *Ledger) Settle(ctx context.Context, orderID string, status models.OrderStatus, paidAt *time.Time, paymentRef string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE checkout_orders
		SET status=$2,
			paid_at=$3,
			payment_ref=CASE WHEN $4 <> '' THEN $4 ELSE payment_ref END,
			updated_at=now()
		WHERE order_id=$1 AND status='pending'
	`, orderID, status, paidAt, paymentRef)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

// SetCustomerEmail backfills an email reported on the confirmation path;
// an email already on the entry is never overwritten.
func (s *Ledger) SetCustomerEmail(ctx context.Context, orderID, email string) error {
	if email == "" {
		return nil
	}
	_, err := s.Pool.Exec(ctx, `
		UPDATE checkout_orders
		SET customer_email=$2, updated_at=now()
		WHERE order_id=$1 AND customer_email=''
	`, orderID, email)
	return err
}

// ListByUser returns the user's checkout history, newest first.
func (s *Ledger) ListByUser(ctx context.Context, userID string) ([]*models.LedgerEntry, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM checkout_orders
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListPendingBefore returns pending entries created before the cutoff, for
// the reconciliation sweeper.
func (s *Ledger) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.LedgerEntry, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM checkout_orders
		WHERE status='pending' AND created_at < $1
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var meta string
	var paidAt *time.Time

	err := row.Scan(
		&entry.OrderID,
		&entry.UserID,
		&entry.Amount,
		&entry.Currency,
		&entry.Status,
		&entry.SessionID,
		&entry.PaymentRef,
		&entry.CustomerEmail,
		&entry.CustomerName,
		&entry.SellerID,
		&meta,
		&paidAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entry.PaidAt = paidAt
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &entry.Metadata); err != nil {
			return nil, err
		}
	}
	return &entry, nil
}

func encodeMetadata(meta map[string]string) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
