package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"order-payment-service/internal/models"
	"order-payment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes account and catalog events. Order events go
// through the outbox.
type EventPublisher struct {
	writer MessageWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer MessageWriter) *EventPublisher {
	return &EventPublisher{writer: writer}
}

// PublishUserDeactivated publishes UserDeactivated event
func (ep *EventPublisher) PublishUserDeactivated(ctx context.Context, event *models.UserDeactivatedEvent) error {
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("user-%d", event.UserID), event)
}

// PublishCategoryChanged publishes CategoryChanged event
func (ep *EventPublisher) PublishCategoryChanged(ctx context.Context, event *models.CategoryChangedEvent) error {
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("category-%d", event.CategoryID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderCreated       func(context.Context, *models.OrderCreatedEvent) error
	onOrderStatusChanged func(context.Context, *models.OrderStatusChangedEvent) error
	onPaymentRecorded    func(context.Context, *models.PaymentRecordedEvent) error
	onUserDeactivated    func(context.Context, *models.UserDeactivatedEvent) error
	onCategoryChanged    func(context.Context, *models.CategoryChangedEvent) error
	logger               *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onOrderStatusChanged = handler
}

func (eh *EventHandler) OnPaymentRecorded(handler func(context.Context, *models.PaymentRecordedEvent) error) {
	eh.onPaymentRecorded = handler
}

func (eh *EventHandler) OnUserDeactivated(handler func(context.Context, *models.UserDeactivatedEvent) error) {
	eh.onUserDeactivated = handler
}

func (eh *EventHandler) OnCategoryChanged(handler func(context.Context, *models.CategoryChangedEvent) error) {
	eh.onCategoryChanged = handler
}

func dispatch[T any](ctx context.Context, value []byte, handler func(context.Context, *T) error) error {
	if handler == nil {
		return nil
	}
	var event T
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("%w: %T: %v", ErrMalformedEvent, event, err)
	}
	return handler(ctx, &event)
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: base event: %v", ErrMalformedEvent, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated:
		return dispatch(ctx, msg.Value, eh.onOrderCreated)
	case models.EventTypeOrderStatusChanged:
		return dispatch(ctx, msg.Value, eh.onOrderStatusChanged)
	case models.EventTypePaymentRecorded:
		return dispatch(ctx, msg.Value, eh.onPaymentRecorded)
	case models.EventTypeUserDeactivated:
		return dispatch(ctx, msg.Value, eh.onUserDeactivated)
	case models.EventTypeCategoryChanged:
		return dispatch(ctx, msg.Value, eh.onCategoryChanged)
	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
