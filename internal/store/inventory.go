package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/lib/pq"
)

// AvailableStock computes the reservable quantity for a product: current
// stock minus the sum of unexpired holds. Used to seed the Redis counters.
func (s *Store) AvailableStock(ctx context.Context, productID int64) (int, error) {
	var available int
	err := s.db.GetContext(ctx, &available, `
		SELECT p.stock_quantity - COALESCE(
			(SELECT SUM(h.quantity) FROM stock_holds h
			 WHERE h.product_id = p.id AND h.expires_at > NOW()), 0)
		FROM products p WHERE p.id = $1`, productID)
	return available, err
}

// ReserveHoldTx is the database reservation path: it locks the product row,
// checks stock net of unexpired holds and records a new hold, as one atomic
// step. Returns ErrInsufficientStock when the quantity is not available.
func (s *Store) ReserveHoldTx(ctx context.Context, attemptID string, productID int64, quantity int, ttl time.Duration, counterDebited bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stock int
	err = tx.GetContext(ctx, &stock,
		"SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE", productID)
	if err != nil {
		return fmt.Errorf("failed to lock product %d: %w", productID, err)
	}

	var held int
	err = tx.GetContext(ctx, &held, `
		SELECT COALESCE(SUM(quantity), 0) FROM stock_holds
		WHERE product_id = $1 AND expires_at > NOW()`, productID)
	if err != nil {
		return fmt.Errorf("failed to sum holds for product %d: %w", productID, err)
	}

	if stock-held < quantity {
		return ErrInsufficientStock
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_holds (attempt_id, product_id, quantity, counter_debited, expires_at)
		VALUES ($1, $2, $3, $4, NOW() + $5 * INTERVAL '1 second')`,
		attemptID, productID, quantity, counterDebited, int(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to record hold: %w", err)
	}

	return tx.Commit()
}

// InsertHold records a hold whose stock counter decrement (if any) already
// happened; counterDebited says whether releasing it must credit the counter.
func (s *Store) InsertHold(ctx context.Context, attemptID string, productID int64, quantity int, ttl time.Duration, counterDebited bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_holds (attempt_id, product_id, quantity, counter_debited, expires_at)
		VALUES ($1, $2, $3, $4, NOW() + $5 * INTERVAL '1 second')`,
		attemptID, productID, quantity, counterDebited, int(ttl.Seconds()))
	return err
}

// ReleaseHolds deletes every hold of a checkout attempt and returns what was
// actually deleted, so the caller credits the stock counters exactly once
// even when racing the reaper.
func (s *Store) ReleaseHolds(ctx context.Context, attemptID string) ([]models.StockHold, error) {
	var released []models.StockHold
	err := s.db.SelectContext(ctx, &released,
		"DELETE FROM stock_holds WHERE attempt_id = $1 RETURNING *", attemptID)
	return released, err
}

// ReapExpiredHolds deletes all expired holds and returns them for counter
// reconciliation.
func (s *Store) ReapExpiredHolds(ctx context.Context) ([]models.StockHold, error) {
	var reaped []models.StockHold
	err := s.db.SelectContext(ctx, &reaped,
		"DELETE FROM stock_holds WHERE expires_at <= NOW() RETURNING *")
	return reaped, err
}

// IsRetryableSerializationErr reports whether err is a transient Postgres
// serialization or deadlock failure worth retrying.
func IsRetryableSerializationErr(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}
