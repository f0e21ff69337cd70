package service

import (
	"context"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type holdRecord struct {
	attemptID      string
	productID      int64
	quantity       int
	counterDebited bool
}

type fakeHoldStore struct {
	holds         []holdRecord
	insertErr     error
	reserveTxErr  error
	releaseReturn []models.StockHold
	reapReturn    []models.StockHold
}

func (f *fakeHoldStore) InsertHold(ctx context.Context, attemptID string, productID int64, quantity int, ttl time.Duration, counterDebited bool) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.holds = append(f.holds, holdRecord{attemptID, productID, quantity, counterDebited})
	return nil
}

func (f *fakeHoldStore) ReserveHoldTx(ctx context.Context, attemptID string, productID int64, quantity int, ttl time.Duration, counterDebited bool) error {
	if f.reserveTxErr != nil {
		return f.reserveTxErr
	}
	f.holds = append(f.holds, holdRecord{attemptID, productID, quantity, counterDebited})
	return nil
}

func (f *fakeHoldStore) ReleaseHolds(ctx context.Context, attemptID string) ([]models.StockHold, error) {
	return f.releaseReturn, nil
}

func (f *fakeHoldStore) ReapExpiredHolds(ctx context.Context) ([]models.StockHold, error) {
	return f.reapReturn, nil
}

func (f *fakeHoldStore) GetProducts(ctx context.Context) ([]models.Product, error) {
	return nil, nil
}

func (f *fakeHoldStore) AvailableStock(ctx context.Context, productID int64) (int, error) {
	return 0, nil
}

type fakeCounter struct {
	reserveOK   bool
	reserveErr  error
	debitOK     bool
	debitErr    error
	credits     map[int64]int
	debits      map[int64]int
	creditCalls int
}

func (f *fakeCounter) TryReserve(ctx context.Context, productID int64, quantity int) (bool, error) {
	return f.reserveOK, f.reserveErr
}

func (f *fakeCounter) CreditStock(ctx context.Context, productID int64, quantity int) error {
	if f.credits == nil {
		f.credits = make(map[int64]int)
	}
	f.credits[productID] += quantity
	f.creditCalls++
	return nil
}

func (f *fakeCounter) DebitStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	if f.debits == nil {
		f.debits = make(map[int64]int)
	}
	if f.debitErr == nil && f.debitOK {
		f.debits[productID] += quantity
	}
	return f.debitOK, f.debitErr
}

func (f *fakeCounter) InitStock(ctx context.Context, productID int64, available int) error {
	return nil
}

func inventoryFixture(st *fakeHoldStore, counter *fakeCounter) *InventoryService {
	return NewInventoryService(st, counter, time.Minute, 1, time.Millisecond)
}

func TestReserveFastPathMarksHoldDebited(t *testing.T) {
	st := &fakeHoldStore{}
	counter := &fakeCounter{reserveOK: true}
	inv := inventoryFixture(st, counter)

	ok, err := inv.Reserve(context.Background(), "attempt-1", 9, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, st.holds, 1)
	assert.True(t, st.holds[0].counterDebited)
}

func TestReserveFallbackDebitsCounter(t *testing.T) {
	// Redis errored on the fast path but recovers for the debit: the hold must
	// carry the decrement so the counter stays in step with durable stock.
	st := &fakeHoldStore{}
	counter := &fakeCounter{reserveErr: assert.AnError, debitOK: true}
	inv := inventoryFixture(st, counter)

	ok, err := inv.Reserve(context.Background(), "attempt-1", 9, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, map[int64]int{9: 2}, counter.debits)
	require.Len(t, st.holds, 1)
	assert.True(t, st.holds[0].counterDebited)
}

func TestReserveFallbackWithoutCounterMarksHoldUndebited(t *testing.T) {
	st := &fakeHoldStore{}
	counter := &fakeCounter{reserveErr: assert.AnError, debitErr: assert.AnError}
	inv := inventoryFixture(st, counter)

	ok, err := inv.Reserve(context.Background(), "attempt-1", 9, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, st.holds, 1)
	assert.False(t, st.holds[0].counterDebited)
}

func TestReserveFallbackCreditsBackOnInsufficientStock(t *testing.T) {
	st := &fakeHoldStore{reserveTxErr: store.ErrInsufficientStock}
	counter := &fakeCounter{reserveErr: assert.AnError, debitOK: true}
	inv := inventoryFixture(st, counter)

	ok, err := inv.Reserve(context.Background(), "attempt-1", 9, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	// The speculative debit is undone when the durable check says no
	assert.Equal(t, map[int64]int{9: 2}, counter.debits)
	assert.Equal(t, map[int64]int{9: 2}, counter.credits)
}

func TestReserveFastPathCreditsBackOnHoldInsertFailure(t *testing.T) {
	st := &fakeHoldStore{insertErr: assert.AnError}
	counter := &fakeCounter{reserveOK: true}
	inv := inventoryFixture(st, counter)

	_, err := inv.Reserve(context.Background(), "attempt-1", 9, 2)
	require.Error(t, err)
	assert.Equal(t, map[int64]int{9: 2}, counter.credits)
}

func TestReleaseCreditsOnlyDebitedHolds(t *testing.T) {
	st := &fakeHoldStore{releaseReturn: []models.StockHold{
		{AttemptID: "attempt-1", ProductID: 9, Quantity: 2, CounterDebited: true},
		{AttemptID: "attempt-1", ProductID: 10, Quantity: 1, CounterDebited: false},
	}}
	counter := &fakeCounter{}
	inv := inventoryFixture(st, counter)

	require.NoError(t, inv.Release(context.Background(), "attempt-1"))

	// A hold taken without debiting the counter must not credit it back,
	// otherwise the fast path drifts above real stock.
	assert.Equal(t, map[int64]int{9: 2}, counter.credits)
	assert.Equal(t, 1, counter.creditCalls)
}

func TestReapExpiredCreditsOnlyDebitedHolds(t *testing.T) {
	st := &fakeHoldStore{reapReturn: []models.StockHold{
		{AttemptID: "a", ProductID: 9, Quantity: 2, CounterDebited: true},
		{AttemptID: "b", ProductID: 10, Quantity: 3, CounterDebited: false},
	}}
	counter := &fakeCounter{}
	inv := inventoryFixture(st, counter)

	n, err := inv.ReapExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[int64]int{9: 2}, counter.credits)
}
