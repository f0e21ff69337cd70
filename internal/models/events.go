package models

import "time"

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentCaptured    = "PAYMENT_CAPTURED"
	EventTypeCheckoutFailed     = "CHECKOUT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published after a checkout commits an order
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	UserID      int64           `json:"user_id"`
	TotalAmount int64           `json:"total_amount"`
	PaymentRef  string          `json:"payment_ref"`
	Lines       []OrderLineData `json:"lines"`
}

// OrderCancelledEvent published when an order is cancelled and restocked
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	UserID  int64  `json:"user_id"`
	Reason  string `json:"reason"`
}

// OrderStatusChangedEvent published on forward status transitions
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

// PaymentCapturedEvent published when an authorization is approved
type PaymentCapturedEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	UserID     int64  `json:"user_id"`
	Amount     int64  `json:"amount"`
	PaymentRef string `json:"payment_ref"`
}

// CheckoutFailedEvent published when a checkout attempt fails pre-commit
type CheckoutFailedEvent struct {
	BaseEvent
	AttemptID string `json:"attempt_id"`
	UserID    int64  `json:"user_id"`
	Reason    string `json:"reason"`
}
