package service

import (
	"errors"
	"fmt"
	"strings"
)

// Business outcomes of a checkout or lifecycle operation. These are data for
// the caller, not system faults; the HTTP layer maps them to status codes.
var (
	// ErrEmptyCart means the user had nothing to check out.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrNotOrderOwner means the actor may not operate on this order.
	ErrNotOrderOwner = errors.New("order belongs to another user")
)

// ValidationError reports malformed input rejected before any reservation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InsufficientStockError names every product whose reservation failed. Stock
// and cart are untouched when it is returned.
type InsufficientStockError struct {
	Products []string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for: %s", strings.Join(e.Products, ", "))
}

// PaymentDeclinedError reports a declined (or timed-out) authorization. All
// reservations are released before it is returned; no order exists.
type PaymentDeclinedError struct {
	Reason string
}

func (e *PaymentDeclinedError) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}

// PostPaymentCommitError means payment was captured but the order commit did
// not complete. The approved payment reference is already persisted in the
// recovery table under RecoveryID; the charge is never silently dropped.
type PostPaymentCommitError struct {
	RecoveryID string
	PaymentRef string
	Err        error
}

func (e *PostPaymentCommitError) Error() string {
	return fmt.Sprintf("payment %s captured but order commit failed (recovery %s): %v",
		e.PaymentRef, e.RecoveryID, e.Err)
}

func (e *PostPaymentCommitError) Unwrap() error { return e.Err }
