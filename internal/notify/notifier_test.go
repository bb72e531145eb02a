package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"order-payment-service/internal/models"
	"order-payment-service/internal/realtime"
	"order-payment-service/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type push struct {
	room    string
	event   string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	pushes []push
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, room, event string, payload any) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, push{room: room, event: event, payload: payload})
	return 1, nil
}

func base(id, typ string) models.BaseEvent {
	return models.BaseEvent{EventID: id, EventType: typ}
}

func TestRouting(t *testing.T) {
	repo := memstore.New()
	pub := &recordingPublisher{}
	n := NewNotifier(repo, pub)
	ctx := context.Background()

	require.NoError(t, n.OrderCreated(ctx, &models.OrderCreatedEvent{
		BaseEvent: base("e1", models.EventTypeOrderCreated), OrderID: 1, OrderNumber: "ORD-1001", UserID: 7,
		TotalAmount: "500000", PaymentMethod: models.PaymentMethodWallet,
	}))
	require.NoError(t, n.OrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
		BaseEvent: base("e2", models.EventTypeOrderStatusChanged), OrderID: 1, OrderNumber: "ORD-1001", UserID: 7,
		FromStatus: models.OrderStatusConfirmed, ToStatus: models.OrderStatusProcessing,
	}))
	require.NoError(t, n.UserDeactivated(ctx, &models.UserDeactivatedEvent{
		BaseEvent: base("e3", models.EventTypeUserDeactivated), UserID: 9, Reason: "fraud",
	}))
	require.NoError(t, n.CategoryChanged(ctx, &models.CategoryChangedEvent{
		BaseEvent: base("e4", models.EventTypeCategoryChanged), CategoryID: 3, Name: "Books", Action: models.CategoryDeleted,
	}))

	require.Len(t, pub.pushes, 4)
	assert.Equal(t, realtime.RoomAdmin, pub.pushes[0].room)
	assert.Equal(t, realtime.EventOrderNew, pub.pushes[0].event)
	assert.Equal(t, "user:7", pub.pushes[1].room)
	assert.Equal(t, realtime.EventOrderStatusUpdated, pub.pushes[1].event)
	assert.Equal(t, "Đang xử lý", pub.pushes[1].payload.(StatusUpdatePayload).StatusLabel)
	assert.Equal(t, "user:9", pub.pushes[2].room)
	assert.Equal(t, realtime.EventUserDeactivated, pub.pushes[2].event)
	assert.Equal(t, realtime.RoomPublic, pub.pushes[3].room)
	assert.Equal(t, "category:deleted", pub.pushes[3].event)

	owner, unread, err := n.List(ctx, models.NotificationFilter{UserID: 7}, 0, 0)
	require.NoError(t, err)
	require.Len(t, owner, 1)
	assert.Equal(t, 1, unread)
	assert.Equal(t, models.NotificationOrderStatusUpdate, owner[0].Type)

	other, _, err := n.List(ctx, models.NotificationFilter{UserID: 8}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, other)

	admin, _, err := n.List(ctx, models.NotificationFilter{UserID: 1, IncludeAdmin: true}, 0, 0)
	require.NoError(t, err)
	require.Len(t, admin, 1)
	assert.Equal(t, models.NotificationOrderNew, admin[0].Type)
}

func TestRedeliveredEventIsRecordedAndPushedOnce(t *testing.T) {
	repo := memstore.New()
	pub := &recordingPublisher{}
	n := NewNotifier(repo, pub)
	ctx := context.Background()

	ev := &models.PaymentRecordedEvent{
		BaseEvent: base("pay-1", models.EventTypePaymentRecorded), OrderID: 1, OrderNumber: "ORD-1001", UserID: 7,
		PaymentStatus: models.PaymentStatusPaid, OrderStatus: models.OrderStatusConfirmed, StatusChanged: true,
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, n.PaymentRecorded(ctx, ev))
	}

	assert.Len(t, pub.pushes, 1)
	count, err := n.UnreadCount(ctx, models.NotificationFilter{UserID: 7})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	payload := pub.pushes[0].payload.(StatusUpdatePayload)
	assert.Equal(t, "Đã xác nhận", payload.StatusLabel)
	assert.Equal(t, "ORD-1001", payload.OrderNumber)
}

func TestPushFailureKeepsNotification(t *testing.T) {
	repo := memstore.New()
	n := NewNotifier(repo, &recordingPublisher{err: errors.New("relay down")})
	ctx := context.Background()

	err := n.OrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
		BaseEvent: base("e1", models.EventTypeOrderStatusChanged), OrderID: 1, OrderNumber: "ORD-1001", UserID: 7,
		ToStatus: models.OrderStatusDelivered,
	})
	require.NoError(t, err)

	count, err := n.UnreadCount(ctx, models.NotificationFilter{UserID: 7})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMarkReadIsScopedToRecipient(t *testing.T) {
	repo := memstore.New()
	n := NewNotifier(repo, nil)
	ctx := context.Background()

	require.NoError(t, n.OrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
		BaseEvent: base("e1", models.EventTypeOrderStatusChanged), OrderID: 1, UserID: 7,
		ToStatus: models.OrderStatusConfirmed,
	}))
	items, _, err := n.List(ctx, models.NotificationFilter{UserID: 7}, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	id := items[0].ID

	assert.ErrorIs(t, n.MarkRead(ctx, models.NotificationFilter{UserID: 8}, id), models.ErrNotificationNotFound)
	assert.ErrorIs(t, n.Delete(ctx, models.NotificationFilter{UserID: 8, IncludeAdmin: true}, id), models.ErrNotificationNotFound)

	require.NoError(t, n.MarkRead(ctx, models.NotificationFilter{UserID: 7}, id))
	count, err := n.UnreadCount(ctx, models.NotificationFilter{UserID: 7})
	require.NoError(t, err)
	assert.Zero(t, count)

	marked, err := n.MarkAllRead(ctx, models.NotificationFilter{UserID: 7})
	require.NoError(t, err)
	assert.Zero(t, marked)

	require.NoError(t, n.Delete(ctx, models.NotificationFilter{UserID: 7}, id))
}
