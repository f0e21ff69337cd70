package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// HoldStore is the durable hold ledger backing reservations.
type HoldStore interface {
	InsertHold(ctx context.Context, attemptID string, productID int64, quantity int, ttl time.Duration, counterDebited bool) error
	ReserveHoldTx(ctx context.Context, attemptID string, productID int64, quantity int, ttl time.Duration, counterDebited bool) error
	ReleaseHolds(ctx context.Context, attemptID string) ([]models.StockHold, error)
	ReapExpiredHolds(ctx context.Context) ([]models.StockHold, error)
	GetProducts(ctx context.Context) ([]models.Product, error)
	AvailableStock(ctx context.Context, productID int64) (int, error)
}

// StockCounter is the fast-path per-product counter.
type StockCounter interface {
	TryReserve(ctx context.Context, productID int64, quantity int) (bool, error)
	CreditStock(ctx context.Context, productID int64, quantity int) error
	DebitStock(ctx context.Context, productID int64, quantity int) (bool, error)
	InitStock(ctx context.Context, productID int64, available int) error
}

// InventoryService implements the atomic reserve/restore contract over a
// Redis fast path with a Postgres fallback. Redis is the linearization point
// for reservations: two concurrent reservations on the same product can never
// together exceed available stock. Holds are recorded in Postgres with an
// expiry so a crashed coordinator cannot leak them forever. Every hold records
// whether it debited the counter, so releases credit exactly what was taken.
type InventoryService struct {
	store          HoldStore
	counter        StockCounter
	holdTTL        time.Duration
	reserveRetries int
	reserveBackoff time.Duration
	logger         *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(st HoldStore, counter StockCounter, holdTTL time.Duration, retries int, backoff time.Duration) *InventoryService {
	return &InventoryService{
		store:          st,
		counter:        counter,
		holdTTL:        holdTTL,
		reserveRetries: retries,
		reserveBackoff: backoff,
		logger:         util.GetLogger(),
	}
}

// Reserve places a time-bounded hold on stock for one product. Returns false
// when stock is insufficient; that is an expected outcome, not an error.
func (inv *InventoryService) Reserve(ctx context.Context, attemptID string, productID int64, quantity int) (bool, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	ok, err := inv.counter.TryReserve(ctx, productID, quantity)
	if err != nil {
		inv.logger.Warn("Redis reservation failed, falling back to DB",
			zap.Int64("product_id", productID),
			zap.Error(err))
		return inv.reserveDB(ctx, attemptID, productID, quantity)
	}

	if !ok {
		util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		return false, nil
	}

	if err := inv.store.InsertHold(ctx, attemptID, productID, quantity, inv.holdTTL, true); err != nil {
		// Undo the counter decrement so the units are not stranded.
		if cerr := inv.counter.CreditStock(ctx, productID, quantity); cerr != nil {
			inv.logger.Error("Failed to credit stock after hold insert failure",
				zap.Int64("product_id", productID),
				zap.Error(cerr))
		}
		util.StockReservationsFailed.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to record hold for product %d: %w", productID, err)
	}

	return true, nil
}

// reserveDB reserves via the database row lock, retrying transient
// serialization failures a bounded number of times with backoff. The counter
// is debited first, best effort, so the fast path stays in step with the
// durable hold; if the debit did not land the hold is marked accordingly and
// releasing it will not credit the counter.
func (inv *InventoryService) reserveDB(ctx context.Context, attemptID string, productID int64, quantity int) (bool, error) {
	debited, derr := inv.counter.DebitStock(ctx, productID, quantity)
	if derr != nil {
		debited = false
	}

	var err error
	for attempt := 0; attempt <= inv.reserveRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				inv.creditIfDebited(ctx, debited, productID, quantity)
				return false, ctx.Err()
			case <-time.After(inv.reserveBackoff * time.Duration(attempt)):
			}
		}

		err = inv.store.ReserveHoldTx(ctx, attemptID, productID, quantity, inv.holdTTL, debited)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, store.ErrInsufficientStock) {
			inv.creditIfDebited(ctx, debited, productID, quantity)
			util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			return false, nil
		}
		if !store.IsRetryableSerializationErr(err) {
			break
		}
	}

	inv.creditIfDebited(ctx, debited, productID, quantity)
	util.StockReservationsFailed.WithLabelValues("error").Inc()
	return false, fmt.Errorf("failed to reserve stock for product %d: %w", productID, err)
}

func (inv *InventoryService) creditIfDebited(ctx context.Context, debited bool, productID int64, quantity int) {
	if !debited {
		return
	}
	if err := inv.counter.CreditStock(ctx, productID, quantity); err != nil {
		inv.logger.Error("Failed to credit stock after reservation failure",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
}

// Release drops every hold of a checkout attempt and returns the units to the
// stock counters. Safe to call when no holds exist; releasing is idempotent
// because only rows actually deleted are credited, and only those that
// debited the counter when they were taken.
func (inv *InventoryService) Release(ctx context.Context, attemptID string) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Release")
	defer span.End()

	released, err := inv.store.ReleaseHolds(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("failed to release holds for attempt %s: %w", attemptID, err)
	}

	for _, hold := range released {
		if !hold.CounterDebited {
			continue
		}
		if err := inv.counter.CreditStock(ctx, hold.ProductID, hold.Quantity); err != nil {
			inv.logger.Error("Failed to credit stock on hold release",
				zap.Int64("product_id", hold.ProductID),
				zap.Error(err))
		}
	}
	return nil
}

// Restore returns quantity to a product's fast-path counter after the durable
// restock already committed (order cancellation). Unconditional and safe.
func (inv *InventoryService) Restore(ctx context.Context, productID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Restore")
	defer span.End()

	return inv.counter.CreditStock(ctx, productID, quantity)
}

// ReapExpired releases all expired holds. A hold's lifetime is enforced here
// independently of the coordinator, as a safety net against a crashed one.
func (inv *InventoryService) ReapExpired(ctx context.Context) (int, error) {
	reaped, err := inv.store.ReapExpiredHolds(ctx)
	if err != nil {
		return 0, err
	}

	for _, hold := range reaped {
		util.StockHoldsReaped.Inc()
		inv.logger.Warn("Released expired stock hold",
			zap.String("attempt_id", hold.AttemptID),
			zap.Int64("product_id", hold.ProductID),
			zap.Int("quantity", hold.Quantity))
		if !hold.CounterDebited {
			continue
		}
		if err := inv.counter.CreditStock(ctx, hold.ProductID, hold.Quantity); err != nil {
			inv.logger.Error("Failed to credit stock for reaped hold",
				zap.Int64("product_id", hold.ProductID),
				zap.Error(err))
		}
	}
	return len(reaped), nil
}

// SyncCounters seeds the Redis stock counters from the database: stock net
// of unexpired holds. Run at startup before serving checkouts.
func (inv *InventoryService) SyncCounters(ctx context.Context) error {
	inv.logger.Info("Syncing stock counters to Redis")

	products, err := inv.store.GetProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}

	for _, product := range products {
		available, err := inv.store.AvailableStock(ctx, product.ID)
		if err != nil {
			inv.logger.Error("Failed to compute available stock",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
			continue
		}
		if err := inv.counter.InitStock(ctx, product.ID, available); err != nil {
			inv.logger.Error("Failed to seed stock counter",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
		}
	}

	inv.logger.Info("Stock counter sync completed", zap.Int("count", len(products)))
	return nil
}
