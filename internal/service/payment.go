package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode"

	"checkout-service/internal/util"

	"github.com/google/uuid"
)

// CardDetails is the payment instrument presented at checkout. The full card
// number never leaves this package; only the last four digits are persisted.
type CardDetails struct {
	Method      string
	Number      string
	ExpiryMonth int
	ExpiryYear  int
	CVV         string
}

// Last4 returns the masked tail of the card number.
func (c CardDetails) Last4() string {
	digits := digitsOnly(c.Number)
	if len(digits) < 4 {
		return digits
	}
	return digits[len(digits)-4:]
}

// AuthResult is the outcome of an authorization attempt. A decline is data,
// not an error.
type AuthResult struct {
	Approved      bool
	Reference     string
	DeclineReason string
}

// PaymentAuthorizer validates the instrument and authorizes a charge against
// a simulated provider. The provider call respects the caller's context
// deadline; authorization latency is externally controlled and must never be
// awaited while inventory locks are held.
type PaymentAuthorizer struct {
	declineRate float64
	minLatency  time.Duration
	maxLatency  time.Duration
	now         func() time.Time
}

// NewPaymentAuthorizer creates an authorizer with a 10% simulated decline rate.
func NewPaymentAuthorizer() *PaymentAuthorizer {
	return &PaymentAuthorizer{
		declineRate: 0.1,
		minLatency:  100 * time.Millisecond,
		maxLatency:  500 * time.Millisecond,
		now:         time.Now,
	}
}

// ValidateInstrument checks the instrument shape before any provider call:
// Luhn checksum, future expiry, 3-4 digit CVV.
func (pa *PaymentAuthorizer) ValidateInstrument(card CardDetails) error {
	number := digitsOnly(card.Number)
	if len(number) < 12 || len(number) > 19 {
		return &ValidationError{Field: "card_number", Reason: "must be 12-19 digits"}
	}
	if !luhnValid(number) {
		return &ValidationError{Field: "card_number", Reason: "failed checksum"}
	}

	if card.ExpiryMonth < 1 || card.ExpiryMonth > 12 {
		return &ValidationError{Field: "expiry_month", Reason: "must be 1-12"}
	}
	// The card is valid through the last instant of its expiry month.
	expiry := time.Date(card.ExpiryYear, time.Month(card.ExpiryMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	if !pa.clock().Before(expiry) {
		return &ValidationError{Field: "expiry", Reason: "card is expired"}
	}

	cvv := digitsOnly(card.CVV)
	if len(cvv) != len(card.CVV) || len(cvv) < 3 || len(cvv) > 4 {
		return &ValidationError{Field: "cvv", Reason: "must be 3-4 digits"}
	}

	return nil
}

// Authorize charges the amount against the simulated provider. Callers bound
// the call with a context deadline; a deadline hit is returned as ctx.Err()
// and treated as declined-equivalent upstream.
func (pa *PaymentAuthorizer) Authorize(ctx context.Context, amount int64, card CardDetails) (AuthResult, error) {
	util.PaymentAuthTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentAuthLatency.Observe(time.Since(start).Seconds())
	}()

	if amount <= 0 {
		return AuthResult{}, fmt.Errorf("authorization amount must be positive, got %d", amount)
	}

	latency := pa.minLatency
	if pa.maxLatency > pa.minLatency {
		latency += time.Duration(rand.Int63n(int64(pa.maxLatency - pa.minLatency)))
	}

	select {
	case <-ctx.Done():
		return AuthResult{}, ctx.Err()
	case <-time.After(latency):
	}

	if rand.Float64() < pa.declineRate {
		util.PaymentDeclinedTotal.WithLabelValues("card_declined").Inc()
		return AuthResult{Approved: false, DeclineReason: "card_declined"}, nil
	}

	ref := fmt.Sprintf("AUTH-%s", strings.ToUpper(uuid.New().String()[:8]))
	return AuthResult{Approved: true, Reference: ref}, nil
}

func (pa *PaymentAuthorizer) clock() time.Time {
	if pa.now != nil {
		return pa.now()
	}
	return time.Now()
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// luhnValid reports whether a digit string passes the Luhn checksum.
func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
