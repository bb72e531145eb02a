package service

import (
	"context"
	"time"

	"order-payment-service/internal/gateway"
	"order-payment-service/internal/models"

	"github.com/shopspring/decimal"
)

// OrderRepository is the persistence the order and payment flows need. Both
// the Postgres store and memstore implement it.
type OrderRepository interface {
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error)
	ListInventory(ctx context.Context) ([]models.Inventory, error)

	CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem, actor string, outbox models.OutboxBuilder) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetOrderHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error)
	UpdateOrderLocked(ctx context.Context, id int64, fn models.OrderMutator) (*models.Order, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentsByOrderID(ctx context.Context, orderID int64) ([]models.Payment, error)
	GetPaymentByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Payment, error)
	UpdatePaymentLocked(ctx context.Context, providerOrderID string, fn models.PaymentMutator) (*models.Order, *models.Payment, error)
	GetExpiredPendingPayments(ctx context.Context, now time.Time, limit int) ([]models.Payment, error)

	LogWebhook(ctx context.Context, entry *models.WebhookLog) error
}

// OutboxTrigger wakes the relay after events were committed to the outbox
type OutboxTrigger interface {
	Trigger()
}

// PaymentGateway is the wallet provider
type PaymentGateway interface {
	CreatePaymentSession(ctx context.Context, orderNumber string, amount decimal.Decimal, description string) (*gateway.Session, error)
	QueryTransaction(ctx context.Context, providerOrderID string) (*gateway.TransactionStatus, error)
	VerifyCallback(params map[string]any, sig string) bool
	PartnerCode() string
}

// StockCache is the fast-path stock counter in front of the inventory table
type StockCache interface {
	ReserveStock(ctx context.Context, quantities map[int64]int, ids []int64) (int64, error)
	ReleaseStock(ctx context.Context, quantities map[int64]int, ids []int64) error
	InitInventory(ctx context.Context, productID int64, available int) error
	GetInventory(ctx context.Context, productID int64) (int, error)
}

// Locker guards in-flight requests across processes
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}
