package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-payment-service/internal/models"
	"order-payment-service/internal/redisclient"
	"order-payment-service/internal/util"

	"go.uber.org/zap"
)

// InventoryClient fronts the authoritative inventory table with the Redis
// stock counter. The cache only rejects early; the order transaction has the
// final word.
type InventoryClient struct {
	repo   OrderRepository
	cache  StockCache
	logger *zap.Logger
}

// NewInventoryClient creates a new inventory client. cache may be nil.
func NewInventoryClient(repo OrderRepository, cache StockCache) *InventoryClient {
	return &InventoryClient{
		repo:   repo,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Reserve takes the items' quantities from the cache. It returns an
// InsufficientStockError when the cache knows the stock is short; cache
// misses and Redis failures fall through to the database check.
func (ic *InventoryClient) Reserve(ctx context.Context, items []models.OrderItem) (bool, error) {
	if ic.cache == nil {
		return false, nil
	}

	ctx, span := util.StartSpan(ctx, "InventoryClient.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	wanted, ids := models.QuantitiesByProduct(items)
	short, err := ic.cache.ReserveStock(ctx, wanted, ids)
	if err != nil {
		if !errors.Is(err, redisclient.ErrCacheMiss) {
			util.InventoryReservationsFailed.WithLabelValues("cache_error").Inc()
			ic.logger.Warn("Redis reservation failed, falling back to DB", zap.Error(err))
		}
		return false, nil
	}

	if short != 0 {
		util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		available, err := ic.cache.GetInventory(ctx, short)
		if err != nil {
			available = 0
		}
		return false, &models.InsufficientStockError{ProductID: short, Available: available, Requested: wanted[short]}
	}
	return true, nil
}

// Release returns the items' quantities to the cache (compensation and restock)
func (ic *InventoryClient) Release(ctx context.Context, orderID int64, items []models.OrderItem) {
	if ic.cache == nil || len(items) == 0 {
		return
	}

	ctx, span := util.StartSpan(ctx, "InventoryClient.Release")
	defer span.End()

	wanted, ids := models.QuantitiesByProduct(items)
	if err := ic.cache.ReleaseStock(ctx, wanted, ids); err != nil {
		ic.logger.Error("Failed to release stock in Redis",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}

// SyncInventoryToCache copies database stock into Redis
func (ic *InventoryClient) SyncInventoryToCache(ctx context.Context) error {
	if ic.cache == nil {
		return nil
	}
	ic.logger.Info("Starting inventory sync to Redis")

	rows, err := ic.repo.ListInventory(ctx)
	if err != nil {
		return fmt.Errorf("failed to list inventory: %w", err)
	}

	for _, inv := range rows {
		if err := ic.cache.InitInventory(ctx, inv.ProductID, inv.Available); err != nil {
			ic.logger.Error("Failed to init Redis inventory",
				zap.Int64("product_id", inv.ProductID),
				zap.Error(err))
		}
	}

	ic.logger.Info("Inventory sync completed", zap.Int("count", len(rows)))
	return nil
}
