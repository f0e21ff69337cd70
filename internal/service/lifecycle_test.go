package service

import (
	"context"
	"testing"

	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLifecycleLedger struct {
	orders map[int64]*models.Order
	lines  map[int64][]models.OrderLine
}

func (f *fakeLifecycleLedger) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (f *fakeLifecycleLedger) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	return f.lines[orderID], nil
}

func (f *fakeLifecycleLedger) ListOrders(ctx context.Context, userID int64, status string, limit, offset int) ([]models.Order, int, error) {
	var out []models.Order
	for _, order := range f.orders {
		if order.UserID == userID && (status == "" || order.Status == status) {
			out = append(out, *order)
		}
	}
	return out, len(out), nil
}

func (f *fakeLifecycleLedger) CancelOrderTx(ctx context.Context, orderID int64) (*models.Order, []models.OrderLine, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, nil, store.ErrOrderNotFound
	}
	if !models.Cancellable(order.Status) {
		return nil, nil, &models.InvalidTransitionError{From: order.Status, To: models.OrderStatusCancelled}
	}
	order.Status = models.OrderStatusCancelled
	cp := *order
	return &cp, f.lines[orderID], nil
}

func (f *fakeLifecycleLedger) UpdateOrderStatus(ctx context.Context, orderID int64, newStatus string) (*models.Order, string, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, "", store.ErrOrderNotFound
	}
	if !models.CanTransition(order.Status, newStatus) {
		return nil, "", &models.InvalidTransitionError{From: order.Status, To: newStatus}
	}
	prev := order.Status
	order.Status = newStatus
	cp := *order
	return &cp, prev, nil
}

type fakeRestorer struct {
	restored map[int64]int
}

func (f *fakeRestorer) Restore(ctx context.Context, productID int64, quantity int) error {
	if f.restored == nil {
		f.restored = make(map[int64]int)
	}
	f.restored[productID] += quantity
	return nil
}

type fakeLifecycleEvents struct {
	cancelled     []*models.OrderCancelledEvent
	statusChanged []*models.OrderStatusChangedEvent
}

func (f *fakeLifecycleEvents) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	f.cancelled = append(f.cancelled, event)
	return nil
}

func (f *fakeLifecycleEvents) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	f.statusChanged = append(f.statusChanged, event)
	return nil
}

func lifecycleFixture(status string) (*OrderLifecycleManager, *fakeLifecycleLedger, *fakeRestorer, *fakeLifecycleEvents) {
	ledger := &fakeLifecycleLedger{
		orders: map[int64]*models.Order{
			10: {ID: 10, UserID: 42, TotalAmount: 2500, Status: status},
		},
		lines: map[int64][]models.OrderLine{
			10: {
				{OrderID: 10, ProductID: 1, ProductName: "Widget A", Quantity: 2, PriceAtTime: 1000},
				{OrderID: 10, ProductID: 2, ProductName: "Widget B", Quantity: 1, PriceAtTime: 500},
			},
		},
	}
	restorer := &fakeRestorer{}
	events := &fakeLifecycleEvents{}
	return NewOrderLifecycleManager(ledger, restorer, events), ledger, restorer, events
}

func TestCancelPendingRestocksEveryLine(t *testing.T) {
	lm, ledger, restorer, events := lifecycleFixture(models.OrderStatusPending)

	order, err := lm.Cancel(context.Background(), 10, 42, false)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, models.OrderStatusCancelled, ledger.orders[10].Status)
	assert.Equal(t, map[int64]int{1: 2, 2: 1}, restorer.restored)
	require.Len(t, events.cancelled, 1)
	assert.Equal(t, int64(10), events.cancelled[0].OrderID)
}

func TestCancelProcessingAllowed(t *testing.T) {
	lm, _, _, _ := lifecycleFixture(models.OrderStatusProcessing)

	order, err := lm.Cancel(context.Background(), 10, 42, false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
}

func TestCancelDeliveredRejectedWithoutMutation(t *testing.T) {
	lm, ledger, restorer, events := lifecycleFixture(models.OrderStatusDelivered)

	_, err := lm.Cancel(context.Background(), 10, 42, false)

	var transitionErr *models.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, models.OrderStatusDelivered, transitionErr.From)

	assert.Equal(t, models.OrderStatusDelivered, ledger.orders[10].Status)
	assert.Empty(t, restorer.restored)
	assert.Empty(t, events.cancelled)
}

func TestCancelShippedRejected(t *testing.T) {
	lm, _, restorer, _ := lifecycleFixture(models.OrderStatusShipped)

	_, err := lm.Cancel(context.Background(), 10, 42, false)

	var transitionErr *models.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Empty(t, restorer.restored)
}

func TestCancelByOtherUserForbidden(t *testing.T) {
	lm, ledger, restorer, _ := lifecycleFixture(models.OrderStatusPending)

	_, err := lm.Cancel(context.Background(), 10, 99, false)
	assert.ErrorIs(t, err, ErrNotOrderOwner)
	assert.Equal(t, models.OrderStatusPending, ledger.orders[10].Status)
	assert.Empty(t, restorer.restored)
}

func TestCancelByAdminAllowed(t *testing.T) {
	lm, _, _, _ := lifecycleFixture(models.OrderStatusPending)

	order, err := lm.Cancel(context.Background(), 10, 99, true)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
}

func TestGetOrderOwnership(t *testing.T) {
	lm, _, _, _ := lifecycleFixture(models.OrderStatusPending)

	detail, err := lm.GetOrder(context.Background(), 10, 42, false)
	require.NoError(t, err)
	assert.Len(t, detail.Lines, 2)

	_, err = lm.GetOrder(context.Background(), 10, 99, false)
	assert.ErrorIs(t, err, ErrNotOrderOwner)

	_, err = lm.GetOrder(context.Background(), 10, 99, true)
	assert.NoError(t, err)

	_, err = lm.GetOrder(context.Background(), 404, 42, false)
	assert.ErrorIs(t, err, store.ErrOrderNotFound)
}

func TestAdvanceStatusForwardChain(t *testing.T) {
	lm, ledger, _, events := lifecycleFixture(models.OrderStatusPending)

	order, err := lm.AdvanceStatus(context.Background(), 10, models.OrderStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)

	_, err = lm.AdvanceStatus(context.Background(), 10, models.OrderStatusShipped)
	require.NoError(t, err)
	_, err = lm.AdvanceStatus(context.Background(), 10, models.OrderStatusDelivered)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusDelivered, ledger.orders[10].Status)
	require.Len(t, events.statusChanged, 3)
	assert.Equal(t, models.OrderStatusPending, events.statusChanged[0].FromStatus)
	assert.Equal(t, models.OrderStatusProcessing, events.statusChanged[0].ToStatus)
}

// staleReadLedger simulates a concurrent transition landing between any
// unlocked read and the status update: reads always report pending while the
// stored order has moved on.
type staleReadLedger struct {
	fakeLifecycleLedger
}

func (f *staleReadLedger) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	order, err := f.fakeLifecycleLedger.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Status = models.OrderStatusPending
	return order, nil
}

func TestAdvanceStatusEventUsesLockedFromStatus(t *testing.T) {
	ledger := &staleReadLedger{fakeLifecycleLedger{
		orders: map[int64]*models.Order{
			10: {ID: 10, UserID: 42, Status: models.OrderStatusProcessing},
		},
	}}
	events := &fakeLifecycleEvents{}
	lm := NewOrderLifecycleManager(ledger, &fakeRestorer{}, events)

	_, err := lm.AdvanceStatus(context.Background(), 10, models.OrderStatusShipped)
	require.NoError(t, err)

	require.Len(t, events.statusChanged, 1)
	assert.Equal(t, models.OrderStatusProcessing, events.statusChanged[0].FromStatus)
	assert.Equal(t, models.OrderStatusShipped, events.statusChanged[0].ToStatus)
}

func TestAdvanceStatusRejectsSkips(t *testing.T) {
	lm, _, _, _ := lifecycleFixture(models.OrderStatusPending)

	_, err := lm.AdvanceStatus(context.Background(), 10, models.OrderStatusDelivered)

	var transitionErr *models.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestAdvanceStatusRejectsCancellation(t *testing.T) {
	lm, _, _, _ := lifecycleFixture(models.OrderStatusPending)

	_, err := lm.AdvanceStatus(context.Background(), 10, models.OrderStatusCancelled)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestAdvanceStatusRejectsUnknown(t *testing.T) {
	lm, _, _, _ := lifecycleFixture(models.OrderStatusPending)

	_, err := lm.AdvanceStatus(context.Background(), 10, "teleported")

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}
