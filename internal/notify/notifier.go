// Package notify persists notifications and pushes them to live connections.
package notify

import (
	"context"
	"fmt"
	"time"

	"order-payment-service/internal/models"
	"order-payment-service/internal/realtime"
	"order-payment-service/internal/util"

	"go.uber.org/zap"
)

// Repository is the durable side of the fan-out
type Repository interface {
	// CreateNotification inserts n unless a row with the same EventID exists.
	// It reports whether a row was inserted.
	CreateNotification(ctx context.Context, n *models.Notification) (bool, error)
	ListNotifications(ctx context.Context, f models.NotificationFilter, limit, offset int) ([]models.Notification, error)
	CountUnread(ctx context.Context, f models.NotificationFilter) (int, error)
	MarkNotificationRead(ctx context.Context, f models.NotificationFilter, id int64) error
	MarkAllNotificationsRead(ctx context.Context, f models.NotificationFilter) (int64, error)
	DeleteNotification(ctx context.Context, f models.NotificationFilter, id int64) error
}

// StatusUpdatePayload is pushed to the owning user on every order change
type StatusUpdatePayload struct {
	OrderID     int64  `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	StatusLabel string `json:"statusLabel"`
	Payment     string `json:"paymentStatus,omitempty"`
}

// NewOrderPayload is pushed to admins when an order is placed
type NewOrderPayload struct {
	OrderID       int64  `json:"orderId"`
	OrderNumber   string `json:"orderNumber"`
	UserID        int64  `json:"userId"`
	TotalAmount   string `json:"totalAmount"`
	PaymentMethod string `json:"paymentMethod"`
}

type delivery struct {
	notification *models.Notification
	room         string
	event        string
	payload      any
}

// Notifier turns domain events into notification rows and realtime pushes
type Notifier struct {
	repo   Repository
	pusher realtime.Publisher
	now    func() time.Time
	logger *zap.Logger
}

// NewNotifier creates a notifier. pusher is either a local registry or a relay.
func NewNotifier(repo Repository, pusher realtime.Publisher) *Notifier {
	return &Notifier{
		repo:   repo,
		pusher: pusher,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// OrderCreated notifies admins about a new order.
func (n *Notifier) OrderCreated(ctx context.Context, ev *models.OrderCreatedEvent) error {
	orderID := ev.OrderID
	return n.deliver(ctx, delivery{
		notification: &models.Notification{
			EventID:        ev.EventID,
			RecipientScope: models.RecipientAdminBroadcast,
			Type:           models.NotificationOrderNew,
			Title:          "Đơn hàng mới",
			Message:        fmt.Sprintf("Đơn hàng %s vừa được đặt, tổng %s", ev.OrderNumber, ev.TotalAmount),
			RelatedOrderID: &orderID,
		},
		room:  realtime.RoomAdmin,
		event: realtime.EventOrderNew,
		payload: NewOrderPayload{
			OrderID:       ev.OrderID,
			OrderNumber:   ev.OrderNumber,
			UserID:        ev.UserID,
			TotalAmount:   ev.TotalAmount,
			PaymentMethod: string(ev.PaymentMethod),
		},
	})
}

// OrderStatusChanged notifies the owning user about a status transition.
func (n *Notifier) OrderStatusChanged(ctx context.Context, ev *models.OrderStatusChangedEvent) error {
	status := ev.ToStatus
	return n.statusUpdate(ctx, ev.EventID, ev.UserID, ev.OrderID, ev.OrderNumber, status, "",
		fmt.Sprintf("Đơn hàng %s: %s", ev.OrderNumber, status.Label()))
}

// PaymentRecorded notifies the owning user about a payment outcome.
func (n *Notifier) PaymentRecorded(ctx context.Context, ev *models.PaymentRecordedEvent) error {
	status := ev.OrderStatus
	var message string
	if ev.PaymentStatus == models.PaymentStatusPaid {
		message = fmt.Sprintf("Đơn hàng %s đã được thanh toán: %s", ev.OrderNumber, status.Label())
	} else {
		message = fmt.Sprintf("Thanh toán đơn hàng %s không thành công", ev.OrderNumber)
	}
	return n.statusUpdate(ctx, ev.EventID, ev.UserID, ev.OrderID, ev.OrderNumber, status, string(ev.PaymentStatus), message)
}

func (n *Notifier) statusUpdate(ctx context.Context, eventID string, userID, orderID int64,
	orderNumber string, status models.OrderStatus, paymentStatus, message string,
) error {
	recipient := userID
	related := orderID
	return n.deliver(ctx, delivery{
		notification: &models.Notification{
			EventID:        eventID,
			RecipientScope: models.RecipientUser,
			RecipientID:    &recipient,
			Type:           models.NotificationOrderStatusUpdate,
			Title:          "Cập nhật đơn hàng",
			Message:        message,
			RelatedOrderID: &related,
		},
		room:  realtime.UserRoom(userID),
		event: realtime.EventOrderStatusUpdated,
		payload: StatusUpdatePayload{
			OrderID:     orderID,
			OrderNumber: orderNumber,
			Status:      string(status),
			StatusLabel: status.Label(),
			Payment:     paymentStatus,
		},
	})
}

// UserDeactivated tells the user's live sessions to end themselves.
func (n *Notifier) UserDeactivated(ctx context.Context, ev *models.UserDeactivatedEvent) error {
	recipient := ev.UserID
	return n.deliver(ctx, delivery{
		notification: &models.Notification{
			EventID:        ev.EventID,
			RecipientScope: models.RecipientUser,
			RecipientID:    &recipient,
			Type:           models.NotificationUserDeactivated,
			Title:          "Tài khoản bị vô hiệu hóa",
			Message:        ev.Reason,
		},
		room:    realtime.UserRoom(ev.UserID),
		event:   realtime.EventUserDeactivated,
		payload: map[string]any{"userId": ev.UserID, "reason": ev.Reason},
	})
}

// CategoryChanged broadcasts a catalog category change to everyone.
func (n *Notifier) CategoryChanged(ctx context.Context, ev *models.CategoryChangedEvent) error {
	return n.deliver(ctx, delivery{
		notification: &models.Notification{
			EventID:        ev.EventID,
			RecipientScope: models.RecipientCategoryBroadcast,
			Type:           models.NotificationCategoryChanged,
			Title:          "Danh mục thay đổi",
			Message:        fmt.Sprintf("%s: %s", ev.Action, ev.Name),
		},
		room:    realtime.RoomPublic,
		event:   realtime.EventCategoryPrefix + ev.Action,
		payload: map[string]any{"categoryId": ev.CategoryID, "name": ev.Name, "action": ev.Action},
	})
}

// deliver persists first and pushes only when the row is new, so a redelivered
// event neither duplicates the row nor re-pushes it.
func (n *Notifier) deliver(ctx context.Context, d delivery) error {
	ctx, span := util.StartSpan(ctx, "Notifier.Deliver")
	defer span.End()

	if d.notification.CreatedAt.IsZero() {
		d.notification.CreatedAt = n.now()
	}

	created, err := n.repo.CreateNotification(ctx, d.notification)
	if err != nil {
		n.logger.Error("Failed to persist notification",
			zap.String("event_id", d.notification.EventID),
			zap.String("type", string(d.notification.Type)),
			zap.Error(err))
		return fmt.Errorf("persist notification: %w", err)
	}
	if !created {
		n.logger.Debug("Notification already recorded, skipping push",
			zap.String("event_id", d.notification.EventID))
		return nil
	}
	util.NotificationsCreatedTotal.WithLabelValues(string(d.notification.Type)).Inc()

	if n.pusher == nil {
		return nil
	}
	delivered, err := n.pusher.Publish(ctx, d.room, d.event, d.payload)
	if err != nil {
		n.logger.Warn("Realtime push failed",
			zap.String("room", d.room),
			zap.String("event", d.event),
			zap.Error(err))
		return nil
	}
	n.logger.Debug("Notification pushed",
		zap.String("room", d.room),
		zap.String("event", d.event),
		zap.Int("receivers", delivered))
	return nil
}

// List returns the caller's notifications, newest first.
func (n *Notifier) List(ctx context.Context, f models.NotificationFilter, limit, offset int) ([]models.Notification, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	items, err := n.repo.ListNotifications(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	unread, err := n.repo.CountUnread(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return items, unread, nil
}

func (n *Notifier) UnreadCount(ctx context.Context, f models.NotificationFilter) (int, error) {
	return n.repo.CountUnread(ctx, f)
}

func (n *Notifier) MarkRead(ctx context.Context, f models.NotificationFilter, id int64) error {
	return n.repo.MarkNotificationRead(ctx, f, id)
}

func (n *Notifier) MarkAllRead(ctx context.Context, f models.NotificationFilter) (int64, error) {
	return n.repo.MarkAllNotificationsRead(ctx, f)
}

func (n *Notifier) Delete(ctx context.Context, f models.NotificationFilter, id int64) error {
	return n.repo.DeleteNotification(ctx, f, id)
}
