package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/release_stock.lua
var releaseStockScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

// ErrCacheMiss is returned when a product has no cached stock entry
var ErrCacheMiss = errors.New("inventory not cached")

type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
	unlockScript  *redis.Script
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

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		releaseScript: redis.NewScript(releaseStockScript),
		unlockScript:  redis.NewScript(releaseLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func inventoryKey(productID int64) string {
	return fmt.Sprintf("inventory:%d", productID)
}

func stockArgs(quantities map[int64]int, ids []int64) ([]string, []interface{}) {
	keys := make([]string, 0, len(ids))
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, inventoryKey(id))
		args = append(args, quantities[id])
	}
	return keys, args
}

// ReserveStock atomically decrements cached stock for every product, or for
// none. It returns the id of the first product short of stock, zero when all
// were reserved, and ErrCacheMiss when any product is not cached.
func (c *Client) ReserveStock(ctx context.Context, quantities map[int64]int, ids []int64) (int64, error) {
	keys, args := stockArgs(quantities, ids)

	result, err := c.reserveScript.Run(ctx, c.rdb, keys, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("reserve stock script failed: %w", err)
	}

	switch {
	case result == 0:
		return 0, nil
	case result < 0:
		return 0, ErrCacheMiss
	case int(result) <= len(ids):
		return ids[result-1], nil
	}
	return 0, fmt.Errorf("unexpected reserve stock result %d", result)
}

// ReleaseStock atomically returns quantities to the cache (compensation and restock)
func (c *Client) ReleaseStock(ctx context.Context, quantities map[int64]int, ids []int64) error {
	keys, args := stockArgs(quantities, ids)

	if _, err := c.releaseScript.Run(ctx, c.rdb, keys, args...).Result(); err != nil {
		return fmt.Errorf("release stock script failed: %w", err)
	}
	return nil
}

// InitInventory sets the cached stock of a product
func (c *Client) InitInventory(ctx context.Context, productID int64, available int) error {
	return c.rdb.HSet(ctx, inventoryKey(productID), "available", available).Err()
}

// GetInventory retrieves the cached stock of a product
func (c *Client) GetInventory(ctx context.Context, productID int64) (int, error) {
	value, err := c.rdb.HGet(ctx, inventoryKey(productID), "available").Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrCacheMiss
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// AcquireLock takes a distributed lock and returns the token that releases
// it. ok is false when somebody else holds the lock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = c.rdb.SetNX(ctx, "lock:"+lockKey, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	return c.unlockScript.Run(ctx, c.rdb, []string{"lock:" + lockKey}, token).Err()
}
