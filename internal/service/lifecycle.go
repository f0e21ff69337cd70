package service

import (
	"context"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// LifecycleLedger is the order read/transition contract for post-creation
// management.
type LifecycleLedger interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	ListOrders(ctx context.Context, userID int64, status string, limit, offset int) ([]models.Order, int, error)
	CancelOrderTx(ctx context.Context, orderID int64) (*models.Order, []models.OrderLine, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, newStatus string) (*models.Order, string, error)
}

// StockRestorer returns cancelled quantities to the fast-path stock counters.
type StockRestorer interface {
	Restore(ctx context.Context, productID int64, quantity int) error
}

// LifecycleEvents publishes post-creation order events.
type LifecycleEvents interface {
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// OrderDetail is an order with its immutable lines.
type OrderDetail struct {
	Order *models.Order      `json:"order"`
	Lines []models.OrderLine `json:"items"`
}

// OrderLifecycleManager handles everything after an order exists: reads,
// cancellation with restock, and forward status transitions.
type OrderLifecycleManager struct {
	ledger    LifecycleLedger
	inventory StockRestorer
	events    LifecycleEvents
	logger    *zap.Logger
}

// NewOrderLifecycleManager creates a new lifecycle manager
func NewOrderLifecycleManager(ledger LifecycleLedger, inventory StockRestorer, events LifecycleEvents) *OrderLifecycleManager {
	return &OrderLifecycleManager{
		ledger:    ledger,
		inventory: inventory,
		events:    events,
		logger:    util.GetLogger(),
	}
}

// GetOrder returns an order with its lines. Non-admin actors only see their
// own orders; anyone else's order reads as not found.
func (lm *OrderLifecycleManager) GetOrder(ctx context.Context, orderID, actorUserID int64, admin bool) (*OrderDetail, error) {
	order, err := lm.ledger.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !admin && order.UserID != actorUserID {
		return nil, ErrNotOrderOwner
	}

	lines, err := lm.ledger.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderDetail{Order: order, Lines: lines}, nil
}

// ListOrders returns a page of the actor's order history, newest first.
func (lm *OrderLifecycleManager) ListOrders(ctx context.Context, userID int64, status string, limit, offset int) ([]models.Order, int, error) {
	return lm.ledger.ListOrders(ctx, userID, status, limit, offset)
}

// Cancel cancels an order, restoring stock for every line. Restock and the
// status change commit as one atomic unit; the fast-path counters are then
// reconciled best effort (the durable restock already happened).
func (lm *OrderLifecycleManager) Cancel(ctx context.Context, orderID, actorUserID int64, admin bool) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderLifecycleManager.Cancel")
	defer span.End()

	order, err := lm.ledger.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !admin && order.UserID != actorUserID {
		return nil, ErrNotOrderOwner
	}

	order, lines, err := lm.ledger.CancelOrderTx(ctx, orderID)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		if err := lm.inventory.Restore(ctx, line.ProductID, line.Quantity); err != nil {
			lm.logger.Error("Failed to credit stock counter after cancel",
				zap.Int64("order_id", orderID),
				zap.Int64("product_id", line.ProductID),
				zap.Error(err))
		}
	}

	util.OrdersCancelledTotal.Inc()
	lm.logger.Info("Order cancelled and restocked",
		zap.Int64("order_id", orderID),
		zap.Int64("user_id", order.UserID))

	event := &models.OrderCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   orderID,
		UserID:    order.UserID,
		Reason:    "cancelled_by_user",
	}
	if err := lm.events.PublishOrderCancelled(ctx, event); err != nil {
		lm.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}

	return order, nil
}

// AdvanceStatus applies a forward, fulfillment-driven transition. Cancellation
// is not reachable through here: it must restock, so it goes through Cancel.
func (lm *OrderLifecycleManager) AdvanceStatus(ctx context.Context, orderID int64, newStatus string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderLifecycleManager.AdvanceStatus")
	defer span.End()

	if !models.ValidStatus(newStatus) {
		return nil, &ValidationError{Field: "status", Reason: "unknown status"}
	}
	if newStatus == models.OrderStatusCancelled {
		return nil, &ValidationError{Field: "status", Reason: "use the cancel operation"}
	}

	// The prior status comes from the same locked read that applied the
	// transition, so the published event can never carry a stale from-status.
	order, prevStatus, err := lm.ledger.UpdateOrderStatus(ctx, orderID, newStatus)
	if err != nil {
		return nil, err
	}

	event := &models.OrderStatusChangedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:    orderID,
		FromStatus: prevStatus,
		ToStatus:   newStatus,
	}
	if err := lm.events.PublishOrderStatusChanged(ctx, event); err != nil {
		lm.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	return order, nil
}
