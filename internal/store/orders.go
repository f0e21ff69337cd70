package store

import (
	"context"
	"database/sql"
	"fmt"

	"checkout-service/internal/models"
)

// CreateOrderTx performs the post-approval commit as one transaction: the
// order and its lines are written with status pending, held stock becomes a
// permanent decrement, the holds are consumed and, when ClearCart is set, the
// cart is emptied. If any step fails nothing is applied and the caller
// escalates to recovery.
func (s *Store) CreateOrderTx(ctx context.Context, commit *models.OrderCommit) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, `
		INSERT INTO orders (user_id, total_amount, status, shipping_address, payment_ref)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *`,
		commit.UserID, commit.TotalAmount, models.OrderStatusPending,
		commit.ShippingAddress, commit.PaymentRef)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	for _, line := range commit.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, price_at_time)
			VALUES ($1, $2, $3, $4, $5)`,
			order.ID, line.ProductID, line.ProductName, line.Quantity, line.PriceAtTime)
		if err != nil {
			return nil, fmt.Errorf("failed to insert order line: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE products SET stock_quantity = stock_quantity - $1
			WHERE id = $2 AND stock_quantity >= $1`,
			line.Quantity, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to decrement stock: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("product %d: %w", line.ProductID, ErrInsufficientStock)
		}
	}

	if _, err = tx.ExecContext(ctx,
		"DELETE FROM stock_holds WHERE attempt_id = $1", commit.AttemptID); err != nil {
		return nil, fmt.Errorf("failed to consume holds: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO payments (order_id, method, card_last4, status, provider_ref, amount)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		order.ID, commit.PaymentMethod, commit.CardLast4,
		models.PaymentStatusCaptured, commit.PaymentRef, commit.TotalAmount); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	if commit.ClearCart {
		if err = clearCartTx(ctx, tx, commit.UserID); err != nil {
			return nil, fmt.Errorf("failed to clear cart: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderLines retrieves all lines for an order
func (s *Store) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return lines, err
}

// ListOrders retrieves a page of a user's orders, newest first, optionally
// filtered by status. Returns the page and the total match count.
func (s *Store) ListOrders(ctx context.Context, userID int64, status string, limit, offset int) ([]models.Order, int, error) {
	countQuery := "SELECT COUNT(*) FROM orders WHERE user_id = $1"
	listQuery := "SELECT * FROM orders WHERE user_id = $1"
	args := []interface{}{userID}

	if status != "" {
		countQuery += " AND status = $2"
		listQuery += " AND status = $2"
		args = append(args, status)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	listQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, offset)
	var orders []models.Order
	if err := s.db.SelectContext(ctx, &orders, listQuery, args...); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// UpdateOrderStatus applies a forward status transition, enforcing the state
// machine under a row lock, and reports the status the order held at the
// moment of the transition. Cancellation must go through CancelOrderTx so
// stock is restored atomically with the status change.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, newStatus string) (*models.Order, string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, "", err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, "", ErrOrderNotFound
	}
	if err != nil {
		return nil, "", err
	}
	prevStatus := order.Status

	if !models.CanTransition(order.Status, newStatus) {
		return nil, "", &models.InvalidTransitionError{From: order.Status, To: newStatus}
	}

	err = tx.GetContext(ctx, &order,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING *",
		newStatus, orderID)
	if err != nil {
		return nil, "", err
	}

	if err = tx.Commit(); err != nil {
		return nil, "", err
	}
	return &order, prevStatus, nil
}

// CancelOrderTx cancels an order and restores stock for every line as one
// atomic unit. A cancel that restocks without persisting the status change
// (or vice versa) must never happen, hence the single transaction. Returns
// the updated order and its lines so callers can reconcile fast-path stock
// counters after commit.
func (s *Store) CancelOrderTx(ctx context.Context, orderID int64) (*models.Order, []models.OrderLine, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	if !models.Cancellable(order.Status) {
		return nil, nil, &models.InvalidTransitionError{From: order.Status, To: models.OrderStatusCancelled}
	}

	var lines []models.OrderLine
	err = tx.SelectContext(ctx, &lines,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, nil, err
	}

	for _, line := range lines {
		_, err = tx.ExecContext(ctx,
			"UPDATE products SET stock_quantity = stock_quantity + $1 WHERE id = $2",
			line.Quantity, line.ProductID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to restore stock for product %d: %w", line.ProductID, err)
		}
	}

	err = tx.GetContext(ctx, &order,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING *",
		models.OrderStatusCancelled, orderID)
	if err != nil {
		return nil, nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &order, lines, nil
}
