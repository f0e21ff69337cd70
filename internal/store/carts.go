package store

import (
	"context"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CartSnapshot reads the user's cart lines joined with current catalog price
// and stock, ordered by product id. The snapshot is taken once per checkout
// attempt; cart edits made afterwards do not affect the attempt.
func (s *Store) CartSnapshot(ctx context.Context, userID int64) ([]models.CartLine, error) {
	query := `
		SELECT ci.user_id,
		       ci.product_id,
		       ci.quantity,
		       p.name  AS product_name,
		       p.price AS unit_price,
		       p.stock_quantity AS stock
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.user_id = $1
		ORDER BY ci.product_id`

	var lines []models.CartLine
	err := s.db.SelectContext(ctx, &lines, query, userID)
	return lines, err
}

// clearCartTx deletes every cart line for a user inside an open transaction.
func clearCartTx(ctx context.Context, tx *sqlx.Tx, userID int64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID)
	return err
}
