package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// FulfillmentWorker consumes OrderPlaced events and moves fresh orders from
// pending to processing, the first fulfillment-driven transition.
type FulfillmentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	lifecycle    *service.OrderLifecycleManager
	store        *store.Store
	logger       *zap.Logger
}

// NewFulfillmentWorker creates a new fulfillment worker
func NewFulfillmentWorker(consumer *broker.Consumer, lifecycle *service.OrderLifecycleManager, st *store.Store) *FulfillmentWorker {
	w := &FulfillmentWorker{
		consumer:  consumer,
		lifecycle: lifecycle,
		store:     st,
		logger:    util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	w.eventHandler = eventHandler

	return w
}

func (w *FulfillmentWorker) handleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		return nil
	}

	if _, err := w.lifecycle.AdvanceStatus(ctx, event.OrderID, models.OrderStatusProcessing); err != nil {
		// A transition error means the order already moved on (or was
		// cancelled before fulfillment picked it up); nothing to redo.
		var transitionErr *models.InvalidTransitionError
		if !errors.As(err, &transitionErr) {
			return err
		}
		w.logger.Info("Order not advanced to processing",
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
	}

	if err := w.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		w.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// Start starts the worker
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting fulfillment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *FulfillmentWorker) Stop() error {
	return w.consumer.Close()
}

// RecoveryWorker replays post-payment commits that failed after the charge
// was approved, using the stored payment reference. It never re-authorizes.
type RecoveryWorker struct {
	store       *store.Store
	inventory   *service.InventoryService
	events      *broker.EventPublisher
	interval    time.Duration
	maxAttempts int
	logger      *zap.Logger
}

// NewRecoveryWorker creates a new recovery worker
func NewRecoveryWorker(st *store.Store, inventory *service.InventoryService, events *broker.EventPublisher, interval time.Duration, maxAttempts int) *RecoveryWorker {
	return &RecoveryWorker{
		store:       st,
		inventory:   inventory,
		events:      events,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      util.GetLogger(),
	}
}

// Start runs the recovery loop until the context is cancelled.
func (rw *RecoveryWorker) Start(ctx context.Context) error {
	rw.logger.Info("Starting recovery worker", zap.Duration("interval", rw.interval))

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rw.runOnce(ctx)
		}
	}
}

func (rw *RecoveryWorker) runOnce(ctx context.Context) {
	if count, err := rw.store.CountPendingRecoveries(ctx); err == nil {
		util.CommitRecoveriesPending.Set(float64(count))
	}

	recs, err := rw.store.PendingRecoveries(ctx, 10)
	if err != nil {
		rw.logger.Error("Failed to list pending recoveries", zap.Error(err))
		return
	}

	for _, rec := range recs {
		rw.replay(ctx, &rec)
	}
}

func (rw *RecoveryWorker) replay(ctx context.Context, rec *models.CheckoutRecovery) {
	var lines []models.OrderLineData
	if err := json.Unmarshal(rec.LinesJSON, &lines); err != nil {
		rw.logger.Error("Recovery record has unreadable lines, needs manual reconciliation",
			zap.String("recovery_id", rec.ID),
			zap.Error(err))
		_ = rw.store.UpdateRecovery(ctx, rec.ID, models.RecoveryStatusExhausted, rec.Attempts)
		return
	}

	order, err := rw.store.CreateOrderTx(ctx, buildRecoveryCommit(rec, lines))
	if err != nil {
		util.CommitRecoveryRetries.WithLabelValues("failed").Inc()
		attempts := rec.Attempts + 1
		status := models.RecoveryStatusPending
		if attempts >= rw.maxAttempts {
			status = models.RecoveryStatusExhausted
			rw.logger.Error("Recovery attempts exhausted, needs manual reconciliation",
				zap.String("recovery_id", rec.ID),
				zap.String("payment_ref", rec.PaymentRef))
		}
		if uerr := rw.store.UpdateRecovery(ctx, rec.ID, status, attempts); uerr != nil {
			rw.logger.Error("Failed to update recovery record", zap.Error(uerr))
		}
		return
	}

	util.CommitRecoveryRetries.WithLabelValues("recovered").Inc()
	util.OrdersPlacedTotal.Inc()
	rw.logger.Info("Recovered order from failed commit",
		zap.String("recovery_id", rec.ID),
		zap.Int64("order_id", order.ID),
		zap.String("payment_ref", rec.PaymentRef))

	if err := rw.store.UpdateRecovery(ctx, rec.ID, models.RecoveryStatusRecovered, rec.Attempts+1); err != nil {
		rw.logger.Error("Failed to mark recovery recovered", zap.Error(err))
	}

	// The replay decremented durable stock outside the usual reserve path,
	// so re-seed the fast-path counters.
	if err := rw.inventory.SyncCounters(ctx); err != nil {
		rw.logger.Error("Failed to resync stock counters after recovery", zap.Error(err))
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   rec.ID,
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		PaymentRef:  rec.PaymentRef,
		Lines:       lines,
	}
	if err := rw.events.PublishOrderPlaced(ctx, event); err != nil {
		rw.logger.Error("Failed to publish OrderPlaced after recovery", zap.Error(err))
	}
}

// buildRecoveryCommit rebuilds the commit payload from a recovery record. The
// stored payment reference is reused and the cart is left untouched: the user
// may have filled it again since the failed attempt.
func buildRecoveryCommit(rec *models.CheckoutRecovery, lines []models.OrderLineData) *models.OrderCommit {
	return &models.OrderCommit{
		AttemptID:       rec.AttemptID,
		UserID:          rec.UserID,
		TotalAmount:     rec.TotalAmount,
		ShippingAddress: rec.ShippingAddress,
		PaymentMethod:   rec.PaymentMethod,
		PaymentRef:      rec.PaymentRef,
		CardLast4:       rec.CardLast4,
		Lines:           lines,
		ClearCart:       false,
	}
}

// HoldReaper enforces the maximum lifetime of stock holds independently of
// the coordinator, releasing holds left behind by crashed attempts.
type HoldReaper struct {
	inventory *service.InventoryService
	interval  time.Duration
	logger    *zap.Logger
}

// NewHoldReaper creates a new hold reaper
func NewHoldReaper(inventory *service.InventoryService, interval time.Duration) *HoldReaper {
	return &HoldReaper{
		inventory: inventory,
		interval:  interval,
		logger:    util.GetLogger(),
	}
}

// Start runs the reaper loop until the context is cancelled.
func (hr *HoldReaper) Start(ctx context.Context) error {
	hr.logger.Info("Starting hold reaper", zap.Duration("interval", hr.interval))

	ticker := time.NewTicker(hr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := hr.inventory.ReapExpired(ctx); err != nil {
				hr.logger.Error("Hold reap failed", zap.Error(err))
			} else if n > 0 {
				hr.logger.Info("Reaped expired holds", zap.Int("count", n))
			}
		}
	}
}
