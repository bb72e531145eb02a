package models

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID        int64           `db:"id" json:"id"`
	SKU       string          `db:"sku" json:"sku"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Inventory represents product stock
type Inventory struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	Available int       `db:"available" json:"available"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type OrderStatus string

// Order statuses
const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Label is the customer-facing name of the status.
func (s OrderStatus) Label() string {
	switch s {
	case OrderStatusPending:
		return "Chờ xác nhận"
	case OrderStatusConfirmed:
		return "Đã xác nhận"
	case OrderStatusProcessing:
		return "Đang xử lý"
	case OrderStatusDelivered:
		return "Đã giao hàng"
	case OrderStatusCancelled:
		return "Đã hủy"
	}
	return string(s)
}

type PaymentMethod string

// Payment methods
const (
	PaymentMethodCOD         PaymentMethod = "CASH_ON_DELIVERY"
	PaymentMethodWallet      PaymentMethod = "WALLET_REDIRECT"
	PaymentMethodBankGateway PaymentMethod = "BANK_GATEWAY"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodWallet, PaymentMethodBankGateway:
		return true
	}
	return false
}

type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// Terminal reports whether the status can no longer change.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed
}

// Payment failure reasons
const (
	FailureReasonExpired        = "EXPIRED"
	FailureReasonDeclined       = "DECLINED"
	FailureReasonAmountMismatch = "AMOUNT_MISMATCH"
	FailureReasonAlreadyPaid    = "ORDER_ALREADY_PAID"
)

// Order represents a customer order
type Order struct {
	ID                int64           `db:"id" json:"id"`
	OrderNumber       string          `db:"order_number" json:"order_number"`
	UserID            int64           `db:"user_id" json:"user_id"`
	Status            OrderStatus     `db:"status" json:"status"`
	PaymentMethod     PaymentMethod   `db:"payment_method" json:"payment_method"`
	PaymentStatus     PaymentStatus   `db:"payment_status" json:"payment_status"`
	Subtotal          decimal.Decimal `db:"subtotal" json:"subtotal"`
	ShippingFee       decimal.Decimal `db:"shipping_fee" json:"shipping_fee"`
	DiscountAmount    decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TotalAmount       decimal.Decimal `db:"total_amount" json:"total_amount"`
	ShippingAddressID int64           `db:"shipping_address_id" json:"shipping_address_id"`
	IdempotencyKey    sql.NullString  `db:"idempotency_key" json:"-"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// FormatOrderNumber derives the human-readable order number from the numeric id.
func FormatOrderNumber(id int64) string {
	return fmt.Sprintf("ORD-%d", 1000+id)
}

// OrderItem represents items in an order
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// QuantitiesByProduct sums item quantities per product and returns the
// product ids in ascending order, the order in which stock rows are locked.
func QuantitiesByProduct(items []OrderItem) (map[int64]int, []int64) {
	wanted := make(map[int64]int, len(items))
	for _, item := range items {
		wanted[item.ProductID] += item.Quantity
	}
	ids := make([]int64, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return wanted, ids
}

// Payment represents one payment attempt against an order
type Payment struct {
	ID                int64           `db:"id" json:"id"`
	OrderID           int64           `db:"order_id" json:"order_id"`
	PaymentMethod     PaymentMethod   `db:"payment_method" json:"payment_method"`
	Status            PaymentStatus   `db:"status" json:"status"`
	ProviderOrderID   string          `db:"provider_order_id" json:"provider_order_id"`
	ProviderRequestID string          `db:"provider_request_id" json:"provider_request_id"`
	ProviderTransID   sql.NullString  `db:"provider_trans_id" json:"-"`
	PaymentURL        string          `db:"payment_url" json:"payment_url,omitempty"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	FailureReason     sql.NullString  `db:"failure_reason" json:"-"`
	PaidAt            *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	ExpiresAt         time.Time       `db:"expires_at" json:"expires_at"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the session TTL has passed at now.
func (p *Payment) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// OrderStatusHistory is an append-only audit row for one status transition
type OrderStatusHistory struct {
	ID         int64        `db:"id" json:"id"`
	OrderID    int64        `db:"order_id" json:"order_id"`
	FromStatus *OrderStatus `db:"from_status" json:"from_status"`
	ToStatus   OrderStatus  `db:"to_status" json:"to_status"`
	Actor      string       `db:"actor" json:"actor"`
	Note       string       `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// OrderChange describes a mutation applied to an order under its row lock.
// Empty fields are left untouched.
type OrderChange struct {
	ToStatus      OrderStatus
	PaymentStatus PaymentStatus
	PaymentMethod PaymentMethod
	Restock       bool
	Actor         string
	Note          string
	// Outbox holds events committed together with the change.
	Outbox []*OutboxMessage
}

// Apply mutates o in place and returns the history row to append, if the
// status moved.
func (c *OrderChange) Apply(o *Order, now time.Time) *OrderStatusHistory {
	var history *OrderStatusHistory
	if c.ToStatus != "" && c.ToStatus != o.Status {
		from := o.Status
		history = &OrderStatusHistory{
			OrderID:    o.ID,
			FromStatus: &from,
			ToStatus:   c.ToStatus,
			Actor:      c.Actor,
			Note:       c.Note,
			CreatedAt:  now,
		}
		o.Status = c.ToStatus
	}
	if c.PaymentStatus != "" {
		o.PaymentStatus = c.PaymentStatus
	}
	if c.PaymentMethod != "" {
		o.PaymentMethod = c.PaymentMethod
	}
	o.UpdatedAt = now
	return history
}

// PaymentChange describes a terminal transition of a payment and the
// matching order update, applied atomically.
type PaymentChange struct {
	Status          PaymentStatus
	PaidAt          *time.Time
	FailureReason   string
	ProviderTransID string
	Order           OrderChange
}

// Apply mutates p in place.
func (c *PaymentChange) Apply(p *Payment, now time.Time) {
	p.Status = c.Status
	if c.PaidAt != nil && p.PaidAt == nil {
		paidAt := *c.PaidAt
		p.PaidAt = &paidAt
	}
	if c.FailureReason != "" {
		p.FailureReason = sql.NullString{String: c.FailureReason, Valid: true}
	}
	if c.ProviderTransID != "" {
		p.ProviderTransID = sql.NullString{String: c.ProviderTransID, Valid: true}
	}
	p.UpdatedAt = now
}

// OrderMutator inspects a locked order and returns the change to apply, or
// nil to leave it untouched.
type OrderMutator func(order *Order) (*OrderChange, error)

// PaymentMutator inspects a locked payment and its order and returns the
// change to apply, or nil to leave both untouched.
type PaymentMutator func(order *Order, payment *Payment) (*PaymentChange, error)

type RecipientScope string

// Notification recipient scopes
const (
	RecipientUser              RecipientScope = "USER"
	RecipientAdminBroadcast    RecipientScope = "ADMIN_BROADCAST"
	RecipientCategoryBroadcast RecipientScope = "CATEGORY_BROADCAST"
)

type NotificationType string

// Notification types
const (
	NotificationOrderNew          NotificationType = "ORDER_NEW"
	NotificationOrderStatusUpdate NotificationType = "ORDER_STATUS_UPDATE"
	NotificationUserDeactivated   NotificationType = "USER_DEACTIVATED"
	NotificationCategoryChanged   NotificationType = "CATEGORY_CHANGED"
)

// Notification is a durable record of one fan-out event
type Notification struct {
	ID             int64            `db:"id" json:"id"`
	EventID        string           `db:"event_id" json:"event_id"`
	RecipientScope RecipientScope   `db:"recipient_scope" json:"recipient_scope"`
	RecipientID    *int64           `db:"recipient_id" json:"recipient_id,omitempty"`
	Type           NotificationType `db:"type" json:"type"`
	Title          string           `db:"title" json:"title"`
	Message        string           `db:"message" json:"message"`
	RelatedOrderID *int64           `db:"related_order_id" json:"related_order_id,omitempty"`
	IsRead         bool             `db:"is_read" json:"is_read"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter scopes notification queries to one recipient.
// Admins additionally see the admin broadcast rows.
type NotificationFilter struct {
	UserID       int64
	IncludeAdmin bool
}

// Visible reports whether n belongs to the recipient described by f.
func (f NotificationFilter) Visible(n *Notification) bool {
	switch n.RecipientScope {
	case RecipientUser:
		return n.RecipientID != nil && *n.RecipientID == f.UserID
	case RecipientAdminBroadcast:
		return f.IncludeAdmin
	}
	return false
}

// WebhookLog is the audit row of one provider callback
type WebhookLog struct {
	ID              int64     `db:"id" json:"id"`
	ProviderOrderID string    `db:"provider_order_id" json:"provider_order_id"`
	Payload         []byte    `db:"payload" json:"payload"`
	SignatureValid  bool      `db:"signature_valid" json:"signature_valid"`
	Outcome         string    `db:"outcome" json:"outcome"`
	Error           string    `db:"error" json:"error,omitempty"`
	ReceivedAt      time.Time `db:"received_at" json:"received_at"`
}
