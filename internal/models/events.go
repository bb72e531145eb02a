package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentRecorded    = "PAYMENT_RECORDED"
	EventTypeUserDeactivated    = "USER_DEACTIVATED"
	EventTypeCategoryChanged    = "CATEGORY_CHANGED"
)

// Category change actions
const (
	CategoryCreated = "created"
	CategoryUpdated = "updated"
	CategoryDeleted = "deleted"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Meta returns the common event fields. Every event embeds BaseEvent and so
// satisfies Event.
func (e BaseEvent) Meta() BaseEvent { return e }

type Event interface {
	Meta() BaseEvent
}

// OrderEventKey is the partition key of order events; all events of one
// order share it and stay in order.
func OrderEventKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// OutboxMessage is an event stored in the same transaction as the change it
// describes. A relay publishes it afterwards and stamps SentAt.
type OutboxMessage struct {
	ID        int64      `db:"id"`
	EventID   string     `db:"event_id"`
	EventType string     `db:"event_type"`
	Key       string     `db:"key"`
	Payload   []byte     `db:"payload"`
	Attempts  int        `db:"attempts"`
	CreatedAt time.Time  `db:"created_at"`
	SentAt    *time.Time `db:"sent_at"`
}

// NewOutboxMessage serializes event for the outbox
func NewOutboxMessage(key string, event Event) (*OutboxMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", event, err)
	}
	meta := event.Meta()
	return &OutboxMessage{
		EventID:   meta.EventID,
		EventType: meta.EventType,
		Key:       key,
		Payload:   payload,
		CreatedAt: meta.Timestamp,
	}, nil
}

// OutboxBuilder builds the event of a newly inserted order once its id and
// number are known.
type OutboxBuilder func(order *Order) (*OutboxMessage, error)

// OrderCreatedEvent published when order is created
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	UserID        int64           `json:"user_id"`
	TotalAmount   string          `json:"total_amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Items         []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published after every applied status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     int64       `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      int64       `json:"user_id"`
	FromStatus  OrderStatus `json:"from_status"`
	ToStatus    OrderStatus `json:"to_status"`
	Actor       string      `json:"actor"`
}

// PaymentRecordedEvent published when a payment reaches a terminal state
type PaymentRecordedEvent struct {
	BaseEvent
	OrderID         int64         `json:"order_id"`
	OrderNumber     string        `json:"order_number"`
	UserID          int64         `json:"user_id"`
	ProviderOrderID string        `json:"provider_order_id"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	OrderStatus     OrderStatus   `json:"order_status"`
	StatusChanged   bool          `json:"status_changed"`
}

// UserDeactivatedEvent published by the user administration service
type UserDeactivatedEvent struct {
	BaseEvent
	UserID int64  `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// CategoryChangedEvent published by the catalog service
type CategoryChangedEvent struct {
	BaseEvent
	CategoryID int64  `json:"category_id"`
	Name       string `json:"name"`
	Action     string `json:"action"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}
