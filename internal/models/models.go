package models

import "time"

// Product represents a product in the catalog. Prices are stored in minor
// currency units (cents); stock_quantity never goes below zero.
type Product struct {
	ID            int64     `db:"id" json:"id"`
	SKU           string    `db:"sku" json:"sku"`
	Name          string    `db:"name" json:"name"`
	Price         int64     `db:"price" json:"price"`
	StockQuantity int       `db:"stock_quantity" json:"stock_quantity"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// CartLine is one line of a user's cart joined with current catalog data.
// The join happens once, at the start of a checkout attempt; later catalog
// changes do not affect an in-flight checkout.
type CartLine struct {
	UserID      int64  `db:"user_id" json:"user_id"`
	ProductID   int64  `db:"product_id" json:"product_id"`
	ProductName string `db:"product_name" json:"product_name"`
	Quantity    int    `db:"quantity" json:"quantity"`
	UnitPrice   int64  `db:"unit_price" json:"unit_price"`
	Stock       int    `db:"stock" json:"stock"`
}

// Order represents a customer order. Status is the only field mutated after
// creation.
type Order struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	TotalAmount     int64     `db:"total_amount" json:"total_amount"`
	Status          string    `db:"status" json:"status"`
	ShippingAddress string    `db:"shipping_address" json:"shipping_address"`
	PaymentRef      string    `db:"payment_ref" json:"payment_ref,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// OrderLine captures one purchased line. PriceAtTime is the catalog price at
// the moment of purchase and never changes afterwards.
type OrderLine struct {
	ID          int64  `db:"id" json:"id"`
	OrderID     int64  `db:"order_id" json:"order_id"`
	ProductID   int64  `db:"product_id" json:"product_id"`
	ProductName string `db:"product_name" json:"product_name"`
	Quantity    int    `db:"quantity" json:"quantity"`
	PriceAtTime int64  `db:"price_at_time" json:"price_at_time"`
}

// Payment records one payment attempt against an order.
type Payment struct {
	ID          int64     `db:"id" json:"id"`
	OrderID     int64     `db:"order_id" json:"order_id"`
	Method      string    `db:"method" json:"method"`
	CardLast4   string    `db:"card_last4" json:"card_last4"`
	Status      string    `db:"status" json:"status"`
	ProviderRef string    `db:"provider_ref" json:"provider_ref,omitempty"`
	Amount      int64     `db:"amount" json:"amount"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// StockHold is a time-bounded claim on stock held while a checkout attempt
// awaits payment authorization. Expired holds are reclaimed by the reaper.
// CounterDebited records whether the Redis counter was decremented for this
// hold; only such holds credit the counter back on release.
type StockHold struct {
	ID             int64     `db:"id" json:"id"`
	AttemptID      string    `db:"attempt_id" json:"attempt_id"`
	ProductID      int64     `db:"product_id" json:"product_id"`
	Quantity       int       `db:"quantity" json:"quantity"`
	CounterDebited bool      `db:"counter_debited" json:"counter_debited"`
	ExpiresAt      time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// CheckoutRecovery holds everything needed to replay the post-payment commit
// of a checkout whose payment was approved but whose commit did not complete.
// The stored payment reference is reused; the charge is never re-authorized.
type CheckoutRecovery struct {
	ID              string    `db:"id" json:"id"`
	AttemptID       string    `db:"attempt_id" json:"attempt_id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	TotalAmount     int64     `db:"total_amount" json:"total_amount"`
	ShippingAddress string    `db:"shipping_address" json:"shipping_address"`
	PaymentMethod   string    `db:"payment_method" json:"payment_method"`
	PaymentRef      string    `db:"payment_ref" json:"payment_ref"`
	CardLast4       string    `db:"card_last4" json:"card_last4"`
	LinesJSON       []byte    `db:"lines" json:"-"`
	Status          string    `db:"status" json:"status"`
	Attempts        int       `db:"attempts" json:"attempts"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// OrderCommit is the payload for the atomic post-approval commit: order plus
// lines are written, reserved stock becomes a permanent decrement and, for a
// live checkout, the user's cart is cleared, all in one transaction. Recovery
// replays leave the cart alone: by replay time it may hold new lines.
type OrderCommit struct {
	AttemptID       string          `json:"attempt_id"`
	UserID          int64           `json:"user_id"`
	TotalAmount     int64           `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentRef      string          `json:"payment_ref"`
	CardLast4       string          `json:"card_last4"`
	Lines           []OrderLineData `json:"lines"`
	ClearCart       bool            `json:"-"`
}

// OrderLineData is the storage shape of an order line before it has an id.
type OrderLineData struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	PriceAtTime int64  `json:"price_at_time"`
}

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Payment statuses
const (
	PaymentStatusCaptured = "captured"
	PaymentStatusDeclined = "declined"
)

// Recovery statuses
const (
	RecoveryStatusPending   = "pending"
	RecoveryStatusRecovered = "recovered"
	RecoveryStatusExhausted = "exhausted"
)

// statusTransitions is the order status state machine. Forward transitions
// are fulfillment-driven; cancellation is allowed until goods ship.
var statusTransitions = map[string][]string{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

// ValidStatus reports whether s is a known order status.
func ValidStatus(s string) bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether an order in the given status may be cancelled.
func Cancellable(status string) bool {
	return CanTransition(status, OrderStatusCancelled)
}

// ProcessedEvent for consumer-side idempotency.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
