package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"order-payment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrderTx checks and decrements stock, then inserts the order, its
// items, the initial history row and the event built by outbox, all in one
// transaction. outbox may be nil.
func (s *Store) CreateOrderTx(
	ctx context.Context,
	order *models.Order,
	items []models.OrderItem,
	actor string,
	outbox models.OutboxBuilder,
) error {
	wanted, ids := models.QuantitiesByProduct(items)

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockAndDecrementStock(ctx, tx, wanted, ids); err != nil {
			return err
		}

		err := tx.QueryRowxContext(ctx, `
			INSERT INTO orders (user_id, status, payment_method, payment_status, subtotal, shipping_fee,
				discount_amount, total_amount, shipping_address_id, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at`,
			order.UserID, order.Status, order.PaymentMethod, order.PaymentStatus, order.Subtotal,
			order.ShippingFee, order.DiscountAmount, order.TotalAmount, order.ShippingAddressID,
			order.IdempotencyKey,
		).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
		if isUniqueViolation(err) {
			return models.ErrDuplicateRequest
		}
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		order.OrderNumber = models.FormatOrderNumber(order.ID)
		if _, err := tx.ExecContext(ctx,
			"UPDATE orders SET order_number = $1 WHERE id = $2", order.OrderNumber, order.ID); err != nil {
			return fmt.Errorf("failed to set order number: %w", err)
		}

		for i := range items {
			items[i].OrderID = order.ID
			err := tx.GetContext(ctx, &items[i].ID, `
				INSERT INTO order_items (order_id, product_id, quantity, unit_price, line_total)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING id`,
				items[i].OrderID, items[i].ProductID, items[i].Quantity, items[i].UnitPrice, items[i].LineTotal)
			if err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}

		err = insertHistory(ctx, tx, &models.OrderStatusHistory{
			OrderID:   order.ID,
			ToStatus:  order.Status,
			Actor:     actor,
			CreatedAt: order.CreatedAt,
		})
		if err != nil || outbox == nil {
			return err
		}

		msg, err := outbox(order)
		if err != nil {
			return err
		}
		return insertOutbox(ctx, tx, msg)
	})
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves a user's order by idempotency key, or nil
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE user_id = $1 AND idempotency_key = $2", userID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetOrderHistory returns the status history of an order, oldest first
func (s *Store) GetOrderHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	var history []models.OrderStatusHistory
	err := s.db.SelectContext(ctx, &history,
		"SELECT * FROM order_status_history WHERE order_id = $1 ORDER BY id", orderID)
	return history, err
}

// UpdateOrderLocked locks the order row, lets fn decide on a change and
// applies it in the same transaction.
func (s *Store) UpdateOrderLocked(ctx context.Context, id int64, fn models.OrderMutator) (*models.Order, error) {
	var order models.Order
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockOrder(ctx, tx, id, &order); err != nil {
			return err
		}

		change, err := fn(&order)
		if err != nil || change == nil {
			return err
		}
		return s.applyOrderChange(ctx, tx, &order, change)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func lockOrder(ctx context.Context, tx *sqlx.Tx, id int64, order *models.Order) error {
	err := tx.GetContext(ctx, order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}
	return nil
}

func (s *Store) applyOrderChange(ctx context.Context, tx *sqlx.Tx, order *models.Order, change *models.OrderChange) error {
	history := change.Apply(order, s.now())

	_, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, payment_status = $2, payment_method = $3, updated_at = $4
		WHERE id = $5`,
		order.Status, order.PaymentStatus, order.PaymentMethod, order.UpdatedAt, order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	if history != nil {
		if err := insertHistory(ctx, tx, history); err != nil {
			return err
		}
	}
	if err := insertOutbox(ctx, tx, change.Outbox...); err != nil {
		return err
	}
	if change.Restock {
		return restockTx(ctx, tx, order.ID)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, h *models.OrderStatusHistory) error {
	err := tx.GetContext(ctx, &h.ID, `
		INSERT INTO order_status_history (order_id, from_status, to_status, actor, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		h.OrderID, h.FromStatus, h.ToStatus, h.Actor, h.Note, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert status history: %w", err)
	}
	return nil
}
