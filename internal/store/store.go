package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"order-payment-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreFromDB(db), nil
}

// NewStoreFromDB wraps an already opened connection pool
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction, committing only when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// GetProductsByIDs retrieves multiple products by IDs, keyed by id
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	products := make(map[int64]*models.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var rows []models.Product
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	for i := range rows {
		products[rows[i].ID] = &rows[i]
	}
	return products, nil
}

// GetInventory retrieves inventory for a product
func (s *Store) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.db.GetContext(ctx, &inv, "SELECT * FROM inventory WHERE product_id = $1", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("inventory not found for product: %d", productID)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListInventory returns every inventory row, used to warm the stock cache
func (s *Store) ListInventory(ctx context.Context) ([]models.Inventory, error) {
	var rows []models.Inventory
	err := s.db.SelectContext(ctx, &rows, "SELECT * FROM inventory ORDER BY product_id")
	return rows, err
}

// lockAndDecrementStock checks and decrements stock for every product under
// row locks taken in product id order.
func lockAndDecrementStock(ctx context.Context, tx *sqlx.Tx, wanted map[int64]int, ids []int64) error {
	for _, id := range ids {
		var available int
		err := tx.GetContext(ctx, &available,
			"SELECT available FROM inventory WHERE product_id = $1 FOR UPDATE", id)
		if errors.Is(err, sql.ErrNoRows) {
			available = 0
		} else if err != nil {
			return fmt.Errorf("failed to lock inventory: %w", err)
		}

		if available < wanted[id] {
			return &models.InsufficientStockError{ProductID: id, Available: available, Requested: wanted[id]}
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE inventory SET available = available - $1, updated_at = NOW() WHERE product_id = $2",
			wanted[id], id)
		if err != nil {
			return fmt.Errorf("failed to decrement stock: %w", err)
		}
	}
	return nil
}

// restockTx returns the quantities of an order's items to inventory
func restockTx(ctx context.Context, tx *sqlx.Tx, orderID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE inventory i
		SET available = i.available + oi.quantity, updated_at = NOW()
		FROM (
			SELECT product_id, SUM(quantity) AS quantity
			FROM order_items WHERE order_id = $1
			GROUP BY product_id
		) oi
		WHERE i.product_id = oi.product_id`, orderID)
	if err != nil {
		return fmt.Errorf("failed to restock items: %w", err)
	}
	return nil
}
