package store

import (
	"context"

	"ShopCheckout/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Carts reads and clears per-user cart lines. The cart service owns the
// table; this core only reads at checkout time and bulk-deletes after
// settlement.
type Carts struct {
	Pool *pgxpool.Pool
}

func NewCarts(pool *pgxpool.Pool) *Carts {
	return &Carts{Pool: pool}
}

func (s *Carts) Lines(ctx context.Context, userID string) ([]models.CartLine, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT user_id, item_id, shop_id, title, price, quantity
		FROM cart_items
		WHERE user_id=$1
		ORDER BY item_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []models.CartLine
	for rows.Next() {
		var line models.CartLine
		if err := rows.Scan(
			&line.UserID,
			&line.ItemID,
			&line.ShopID,
			&line.Title,
			&line.Price,
			&line.Quantity,
		); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Clear bulk-deletes the user's cart and returns the number of lines removed.
// Clearing an already-empty cart is a no-op.
func (s *Carts) Clear(ctx context.Context, userID string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}
