package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartReader provides the consistent cart view a checkout attempt starts from.
type CartReader interface {
	CartSnapshot(ctx context.Context, userID int64) ([]models.CartLine, error)
}

// StockReserver is the atomic reserve/release contract the coordinator needs.
type StockReserver interface {
	Reserve(ctx context.Context, attemptID string, productID int64, quantity int) (bool, error)
	Release(ctx context.Context, attemptID string) error
}

// OrderLedger commits orders durably and persists recovery records.
type OrderLedger interface {
	CreateOrderTx(ctx context.Context, commit *models.OrderCommit) (*models.Order, error)
	InsertRecovery(ctx context.Context, rec *models.CheckoutRecovery) error
}

// Authorizer validates instruments and authorizes charges.
type Authorizer interface {
	ValidateInstrument(card CardDetails) error
	Authorize(ctx context.Context, amount int64, card CardDetails) (AuthResult, error)
}

// EventSink publishes checkout domain events.
type EventSink interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error
	PublishCheckoutFailed(ctx context.Context, event *models.CheckoutFailedEvent) error
}

// CheckoutRequest is one checkout attempt's input.
type CheckoutRequest struct {
	UserID          int64
	ShippingAddress string
	Payment         CardDetails
}

// CheckoutResult is returned on success.
type CheckoutResult struct {
	Order      *models.Order
	PaymentRef string
}

// CheckoutCoordinator turns a cart into a confirmed order: snapshot, reserve,
// price, authorize, commit, clear — with every pre-commit failure releasing
// all holds, and post-approval commit failures escalated to recovery instead
// of losing the charge.
type CheckoutCoordinator struct {
	carts          CartReader
	inventory      StockReserver
	ledger         OrderLedger
	authorizer     Authorizer
	events         EventSink
	paymentTimeout time.Duration
	logger         *zap.Logger
}

// NewCheckoutCoordinator creates a new checkout coordinator
func NewCheckoutCoordinator(
	carts CartReader,
	inventory StockReserver,
	ledger OrderLedger,
	authorizer Authorizer,
	events EventSink,
	paymentTimeout time.Duration,
) *CheckoutCoordinator {
	return &CheckoutCoordinator{
		carts:          carts,
		inventory:      inventory,
		ledger:         ledger,
		authorizer:     authorizer,
		events:         events,
		paymentTimeout: paymentTimeout,
		logger:         util.GetLogger(),
	}
}

// Checkout runs one checkout attempt end to end.
func (cc *CheckoutCoordinator) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutCoordinator.Checkout")
	defer span.End()

	util.CheckoutAttemptsTotal.Inc()

	// Instrument shape is rejected before any reservation is attempted.
	if req.ShippingAddress == "" {
		util.CheckoutFailedTotal.WithLabelValues("validation").Inc()
		return nil, &ValidationError{Field: "shipping_address", Reason: "is required"}
	}
	if err := cc.authorizer.ValidateInstrument(req.Payment); err != nil {
		util.CheckoutFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	lines, err := cc.carts.CartSnapshot(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot cart: %w", err)
	}
	if len(lines) == 0 {
		util.CheckoutFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, ErrEmptyCart
	}
	for _, line := range lines {
		if line.Quantity < 1 {
			util.CheckoutFailedTotal.WithLabelValues("validation").Inc()
			return nil, &ValidationError{
				Field:  "quantity",
				Reason: fmt.Sprintf("product %d: must be at least 1", line.ProductID),
			}
		}
	}

	attemptID := uuid.New().String()

	if err := cc.reserveAll(ctx, attemptID, req.UserID, lines); err != nil {
		return nil, err
	}

	total := OrderTotal(lines)

	// Authorization runs while only short-lived holds are outstanding, never
	// a database lock: provider latency must not queue other checkouts.
	auth, err := cc.authorize(ctx, attemptID, req.UserID, total, req.Payment)
	if err != nil {
		return nil, err
	}

	commit := &models.OrderCommit{
		AttemptID:       attemptID,
		UserID:          req.UserID,
		TotalAmount:     total,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.Payment.Method,
		PaymentRef:      auth.Reference,
		CardLast4:       req.Payment.Last4(),
		Lines:           commitLines(lines),
		ClearCart:       true,
	}

	order, err := cc.ledger.CreateOrderTx(ctx, commit)
	if err != nil {
		return nil, cc.escalateCommitFailure(ctx, commit, err)
	}

	util.OrdersPlacedTotal.Inc()
	cc.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("total", order.TotalAmount),
		zap.String("payment_ref", auth.Reference))

	event := &models.OrderPlacedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderPlaced),
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		PaymentRef:  auth.Reference,
		Lines:       commit.Lines,
	}
	if err := cc.events.PublishOrderPlaced(ctx, event); err != nil {
		cc.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}

	captured := &models.PaymentCapturedEvent{
		BaseEvent:  newBaseEvent(models.EventTypePaymentCaptured),
		OrderID:    order.ID,
		UserID:     order.UserID,
		Amount:     order.TotalAmount,
		PaymentRef: auth.Reference,
	}
	if err := cc.events.PublishPaymentCaptured(ctx, captured); err != nil {
		cc.logger.Error("Failed to publish PaymentCaptured event", zap.Error(err))
	}

	return &CheckoutResult{Order: order, PaymentRef: auth.Reference}, nil
}

// reserveAll attempts every line in ascending product id order (the snapshot
// is already sorted) so concurrent checkouts over overlapping product sets
// acquire in the same order. On any failure every acquired hold is released
// and stock is exactly as before the attempt.
func (cc *CheckoutCoordinator) reserveAll(ctx context.Context, attemptID string, userID int64, lines []models.CartLine) error {
	sorted := make([]models.CartLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	var short []string
	for _, line := range sorted {
		ok, err := cc.inventory.Reserve(ctx, attemptID, line.ProductID, line.Quantity)
		if err != nil {
			cc.releaseAll(ctx, attemptID)
			util.CheckoutFailedTotal.WithLabelValues("reservation_error").Inc()
			return fmt.Errorf("reservation failed for product %d: %w", line.ProductID, err)
		}
		if !ok {
			short = append(short, line.ProductName)
		}
	}

	if len(short) > 0 {
		cc.releaseAll(ctx, attemptID)
		util.CheckoutFailedTotal.WithLabelValues("insufficient_stock").Inc()
		cc.publishFailure(ctx, attemptID, userID, "insufficient_stock")
		return &InsufficientStockError{Products: short}
	}
	return nil
}

// authorize bounds the provider call with the payment timeout. A deadline hit
// is declined-equivalent: holds are released and no order is created.
func (cc *CheckoutCoordinator) authorize(ctx context.Context, attemptID string, userID int64, total int64, card CardDetails) (AuthResult, error) {
	authCtx, cancel := context.WithTimeout(ctx, cc.paymentTimeout)
	defer cancel()

	auth, err := cc.authorizer.Authorize(authCtx, total, card)
	if err != nil {
		cc.releaseAll(ctx, attemptID)
		if errors.Is(err, context.DeadlineExceeded) {
			util.CheckoutFailedTotal.WithLabelValues("payment_timeout").Inc()
			cc.publishFailure(ctx, attemptID, userID, "payment_timeout")
			return AuthResult{}, &PaymentDeclinedError{Reason: "authorization timed out"}
		}
		return AuthResult{}, fmt.Errorf("payment authorization failed: %w", err)
	}

	if !auth.Approved {
		cc.releaseAll(ctx, attemptID)
		util.CheckoutFailedTotal.WithLabelValues("payment_declined").Inc()
		cc.publishFailure(ctx, attemptID, userID, "payment_declined")
		return AuthResult{}, &PaymentDeclinedError{Reason: auth.DeclineReason}
	}

	return auth, nil
}

// escalateCommitFailure handles the payment-approved-but-commit-failed edge:
// the approved reference and full commit payload are persisted for the
// recovery worker, which replays the commit without re-authorizing.
func (cc *CheckoutCoordinator) escalateCommitFailure(ctx context.Context, commit *models.OrderCommit, commitErr error) error {
	util.CheckoutFailedTotal.WithLabelValues("commit_failed").Inc()

	linesJSON, err := json.Marshal(commit.Lines)
	if err != nil {
		linesJSON = []byte("[]")
	}

	rec := &models.CheckoutRecovery{
		ID:              uuid.New().String(),
		AttemptID:       commit.AttemptID,
		UserID:          commit.UserID,
		TotalAmount:     commit.TotalAmount,
		ShippingAddress: commit.ShippingAddress,
		PaymentMethod:   commit.PaymentMethod,
		PaymentRef:      commit.PaymentRef,
		CardLast4:       commit.CardLast4,
		LinesJSON:       linesJSON,
		Status:          models.RecoveryStatusPending,
		Attempts:        0,
	}

	// The request context may already be cancelled (client disconnects are a
	// likely cause of the commit failure itself); the recovery row must still
	// land, so it is written on a detached context.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := cc.ledger.InsertRecovery(recCtx, rec); err != nil {
		// The recovery row is the durable trace of the charge; if even that
		// write fails, log the complete payload so operators can reconcile.
		cc.logger.Error("CRITICAL: captured payment with no durable order or recovery record",
			zap.String("attempt_id", commit.AttemptID),
			zap.String("payment_ref", commit.PaymentRef),
			zap.Int64("user_id", commit.UserID),
			zap.Int64("total", commit.TotalAmount),
			zap.ByteString("lines", linesJSON),
			zap.Error(err))
	}

	cc.logger.Error("Post-payment commit failed, escalated to recovery",
		zap.String("recovery_id", rec.ID),
		zap.String("payment_ref", commit.PaymentRef),
		zap.Error(commitErr))

	return &PostPaymentCommitError{
		RecoveryID: rec.ID,
		PaymentRef: commit.PaymentRef,
		Err:        commitErr,
	}
}

func (cc *CheckoutCoordinator) releaseAll(ctx context.Context, attemptID string) {
	if err := cc.inventory.Release(ctx, attemptID); err != nil {
		cc.logger.Error("Failed to release holds",
			zap.String("attempt_id", attemptID),
			zap.Error(err))
	}
}

func (cc *CheckoutCoordinator) publishFailure(ctx context.Context, attemptID string, userID int64, reason string) {
	event := &models.CheckoutFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypeCheckoutFailed),
		AttemptID: attemptID,
		UserID:    userID,
		Reason:    reason,
	}
	if err := cc.events.PublishCheckoutFailed(ctx, event); err != nil {
		cc.logger.Error("Failed to publish CheckoutFailed event", zap.Error(err))
	}
}

func commitLines(lines []models.CartLine) []models.OrderLineData {
	out := make([]models.OrderLineData, 0, len(lines))
	for _, line := range lines {
		out = append(out, models.OrderLineData{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			PriceAtTime: line.UnitPrice,
		})
	}
	return out
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
