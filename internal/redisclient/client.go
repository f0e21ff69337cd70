package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/credit_stock.lua
var creditStockScript string

//go:embed scripts/debit_stock.lua
var debitStockScript string

// ErrStockUnknown is returned when the stock counter for a product has not
// been seeded; callers should fall back to the database reservation path.
var ErrStockUnknown = fmt.Errorf("stock counter not initialized")

type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	creditScript  *redis.Script
	debitScript   *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		creditScript:  redis.NewScript(creditStockScript),
		debitScript:   redis.NewScript(debitStockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// TryReserve atomically reserves stock units for a product.
// Returns true if the reservation succeeded, false on insufficient stock.
func (c *Client) TryReserve(ctx context.Context, productID int64, quantity int) (bool, error) {
	result, err := c.reserveScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity).Result()
	if err != nil {
		return false, fmt.Errorf("reserve stock script failed: %w", err)
	}

	outcome, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	switch outcome {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrStockUnknown
	}
}

// CreditStock returns reserved units to the counter (hold release or restock).
func (c *Client) CreditStock(ctx context.Context, productID int64, quantity int) error {
	_, err := c.creditScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity).Result()
	if err != nil {
		return fmt.Errorf("credit stock script failed: %w", err)
	}
	return nil
}

// DebitStock decrements the counter without a sufficiency check, after the
// database path already verified availability. Reports whether the counter
// existed and was actually debited.
func (c *Client) DebitStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	result, err := c.debitScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity).Result()
	if err != nil {
		return false, fmt.Errorf("debit stock script failed: %w", err)
	}
	outcome, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return outcome == 1, nil
}

// InitStock seeds the stock counter for a product
func (c *Client) InitStock(ctx context.Context, productID int64, available int) error {
	return c.rdb.Set(ctx, stockKey(productID), available, 0).Err()
}

// GetStock retrieves the current stock counter for a product
func (c *Client) GetStock(ctx context.Context, productID int64) (int, error) {
	val, err := c.rdb.Get(ctx, stockKey(productID)).Int()
	if err == redis.Nil {
		return 0, ErrStockUnknown
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}
