package store

import (
	"context"

	"checkout-service/internal/models"
)

// InsertRecovery persists an approved-but-uncommitted checkout for later
// reconciliation. This row is the only durable trace of the charge until the
// commit is replayed, so it is written before the coordinator returns.
func (s *Store) InsertRecovery(ctx context.Context, rec *models.CheckoutRecovery) error {
	query := `
		INSERT INTO checkout_recovery
			(id, attempt_id, user_id, total_amount, shipping_address,
			 payment_method, payment_ref, card_last4, lines, status, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, rec, query,
		rec.ID, rec.AttemptID, rec.UserID, rec.TotalAmount, rec.ShippingAddress,
		rec.PaymentMethod, rec.PaymentRef, rec.CardLast4, rec.LinesJSON,
		rec.Status, rec.Attempts)
}

// PendingRecoveries lists recovery rows still awaiting a successful replay.
func (s *Store) PendingRecoveries(ctx context.Context, limit int) ([]models.CheckoutRecovery, error) {
	var recs []models.CheckoutRecovery
	err := s.db.SelectContext(ctx, &recs, `
		SELECT * FROM checkout_recovery
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`, models.RecoveryStatusPending, limit)
	return recs, err
}

// CountPendingRecoveries returns the number of recoveries awaiting replay.
func (s *Store) CountPendingRecoveries(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM checkout_recovery WHERE status = $1",
		models.RecoveryStatusPending)
	return count, err
}

// UpdateRecovery records the outcome of a replay attempt.
func (s *Store) UpdateRecovery(ctx context.Context, id, status string, attempts int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE checkout_recovery SET status = $1, attempts = $2, updated_at = NOW() WHERE id = $3",
		status, attempts, id)
	return err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
