// Package memstore is an in-memory backend with the same semantics as the
// Postgres store. A single mutex stands in for the row locks.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"order-payment-service/internal/models"
)

type Store struct {
	mu sync.Mutex

	products      map[int64]models.Product
	inventory     map[int64]int
	orders        map[int64]*models.Order
	items         map[int64][]models.OrderItem
	history       map[int64][]models.OrderStatusHistory
	payments      map[int64]*models.Payment
	notifications map[int64]*models.Notification
	webhooks      []models.WebhookLog
	outbox        []*models.OutboxMessage

	eventIDs map[string]int64
	seq      struct{ order, item, history, payment, notification, webhook, outbox int64 }

	now func() time.Time
}

func New() *Store {
	return &Store{
		products:      make(map[int64]models.Product),
		inventory:     make(map[int64]int),
		orders:        make(map[int64]*models.Order),
		items:         make(map[int64][]models.OrderItem),
		history:       make(map[int64][]models.OrderStatusHistory),
		payments:      make(map[int64]*models.Payment),
		notifications: make(map[int64]*models.Notification),
		eventIDs:      make(map[string]int64),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for row timestamps
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// AddProduct seeds a catalog product with its stock
func (s *Store) AddProduct(p models.Product, available int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	s.inventory[p.ID] = available
}

// Available returns the current stock of a product
func (s *Store) Available(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inventory[productID]
}

// WebhookLogs returns a copy of the callback audit log
func (s *Store) WebhookLogs() []models.WebhookLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.WebhookLog(nil), s.webhooks...)
}

// Outbox returns a copy of every outbox message, sent or not
func (s *Store) Outbox() []models.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.OutboxMessage, 0, len(s.outbox))
	for _, msg := range s.outbox {
		out = append(out, *msg)
	}
	return out
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			p := p
			out[id] = &p
		}
	}
	return out, nil
}

func (s *Store) ListInventory(context.Context) ([]models.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]models.Inventory, 0, len(s.inventory))
	for id, available := range s.inventory {
		rows = append(rows, models.Inventory{ProductID: id, Available: available})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProductID < rows[j].ProductID })
	return rows, nil
}

func (s *Store) CreateOrderTx(
	_ context.Context,
	order *models.Order,
	items []models.OrderItem,
	actor string,
	outbox models.OutboxBuilder,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted, ids := models.QuantitiesByProduct(items)
	for _, id := range ids {
		if s.inventory[id] < wanted[id] {
			return &models.InsufficientStockError{ProductID: id, Available: s.inventory[id], Requested: wanted[id]}
		}
	}
	if order.IdempotencyKey.Valid {
		for _, o := range s.orders {
			if o.UserID == order.UserID && o.IdempotencyKey == order.IdempotencyKey {
				return models.ErrDuplicateRequest
			}
		}
	}
	now := s.now()
	draft := *order
	draft.ID = s.seq.order + 1
	draft.OrderNumber = models.FormatOrderNumber(draft.ID)
	draft.CreatedAt = now
	draft.UpdatedAt = now

	var msg *models.OutboxMessage
	if outbox != nil {
		var err error
		if msg, err = outbox(&draft); err != nil {
			return err
		}
	}

	for _, id := range ids {
		s.inventory[id] -= wanted[id]
	}
	s.seq.order++
	*order = draft
	if msg != nil {
		s.appendOutbox(msg)
	}
	stored := *order
	s.orders[order.ID] = &stored

	for i := range items {
		s.seq.item++
		items[i].ID = s.seq.item
		items[i].OrderID = order.ID
	}
	s.items[order.ID] = append([]models.OrderItem(nil), items...)

	s.appendHistory(&models.OrderStatusHistory{
		OrderID:   order.ID,
		ToStatus:  order.Status,
		Actor:     actor,
		CreatedAt: now,
	})
	return nil
}

func (s *Store) appendHistory(h *models.OrderStatusHistory) {
	s.seq.history++
	h.ID = s.seq.history
	s.history[h.OrderID] = append(s.history[h.OrderID], *h)
}

func (s *Store) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Store) GetOrderByIdempotencyKey(_ context.Context, userID int64, key string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.UserID == userID && o.IdempotencyKey.Valid && o.IdempotencyKey.String == key {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderItem(nil), s.items[orderID]...), nil
}

func (s *Store) GetOrderHistory(_ context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderStatusHistory(nil), s.history[orderID]...), nil
}

func (s *Store) UpdateOrderLocked(_ context.Context, id int64, fn models.OrderMutator) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	order := *stored
	change, err := fn(&order)
	if err != nil {
		return nil, err
	}
	if change != nil {
		s.applyOrderChange(&order, change)
	}
	cp := order
	return &cp, nil
}

func (s *Store) applyOrderChange(order *models.Order, change *models.OrderChange) {
	if history := change.Apply(order, s.now()); history != nil {
		s.appendHistory(history)
	}
	for _, msg := range change.Outbox {
		s.appendOutbox(msg)
	}
	if change.Restock {
		for _, item := range s.items[order.ID] {
			s.inventory[item.ProductID] += item.Quantity
		}
	}
	stored := *order
	s.orders[order.ID] = &stored
}

func (s *Store) CreatePayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.payments {
		if existing.ProviderOrderID == p.ProviderOrderID {
			return fmt.Errorf("duplicate provider order id %q", p.ProviderOrderID)
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	p.UpdatedAt = p.CreatedAt
	s.seq.payment++
	p.ID = s.seq.payment
	stored := *p
	s.payments[p.ID] = &stored
	return nil
}

func (s *Store) GetPaymentsByOrderID(_ context.Context, orderID int64) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) paymentByProviderID(providerOrderID string) (*models.Payment, bool) {
	for _, p := range s.payments {
		if p.ProviderOrderID == providerOrderID {
			return p, true
		}
	}
	return nil, false
}

func (s *Store) GetPaymentByProviderOrderID(_ context.Context, providerOrderID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.paymentByProviderID(providerOrderID)
	if !ok {
		return nil, &models.UnknownPaymentError{ProviderOrderID: providerOrderID}
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UpdatePaymentLocked(_ context.Context, providerOrderID string, fn models.PaymentMutator) (*models.Order, *models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.paymentByProviderID(providerOrderID)
	if !ok {
		return nil, nil, &models.UnknownPaymentError{ProviderOrderID: providerOrderID}
	}
	payment := *stored
	order := *s.orders[payment.OrderID]

	change, err := fn(&order, &payment)
	if err != nil {
		return nil, nil, err
	}
	if change != nil {
		change.Apply(&payment, s.now())
		storedPayment := payment
		s.payments[payment.ID] = &storedPayment
		s.applyOrderChange(&order, &change.Order)
	}
	return &order, &payment, nil
}

func (s *Store) GetExpiredPendingPayments(_ context.Context, now time.Time, limit int) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if p.Status == models.PaymentStatusPending && p.ExpiresAt.Before(now) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LogWebhook(_ context.Context, entry *models.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = s.now()
	}
	s.seq.webhook++
	entry.ID = s.seq.webhook
	s.webhooks = append(s.webhooks, *entry)
	return nil
}

func (s *Store) CreateNotification(_ context.Context, n *models.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.eventIDs[n.EventID]; ok {
		n.ID = id
		return false, nil
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	s.seq.notification++
	n.ID = s.seq.notification
	n.IsRead = false
	stored := *n
	s.notifications[n.ID] = &stored
	s.eventIDs[n.EventID] = n.ID
	return true, nil
}

func (s *Store) visible(f models.NotificationFilter) []*models.Notification {
	var out []*models.Notification
	for _, n := range s.notifications {
		if f.Visible(n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *Store) ListNotifications(_ context.Context, f models.NotificationFilter, limit, offset int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.visible(f)
	out := []models.Notification{}
	for i := offset; i < len(all) && len(out) < limit; i++ {
		out = append(out, *all[i])
	}
	return out, nil
}

func (s *Store) CountUnread(_ context.Context, f models.NotificationFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.visible(f) {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, f models.NotificationFilter, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || !f.Visible(n) {
		return models.ErrNotificationNotFound
	}
	n.IsRead = true
	return nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, f models.NotificationFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int64
	for _, n := range s.visible(f) {
		if !n.IsRead {
			n.IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (s *Store) DeleteNotification(_ context.Context, f models.NotificationFilter, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || !f.Visible(n) {
		return models.ErrNotificationNotFound
	}
	delete(s.notifications, id)
	return nil
}

func (s *Store) appendOutbox(msg *models.OutboxMessage) {
	s.seq.outbox++
	msg.ID = s.seq.outbox
	stored := *msg
	s.outbox = append(s.outbox, &stored)
}

// RelayOutbox publishes pending messages in order. The lock is not held
// while publishing, so a publisher may call back into the store.
func (s *Store) RelayOutbox(
	ctx context.Context,
	limit int,
	publish func(ctx context.Context, msg models.OutboxMessage) error,
) (int, error) {
	s.mu.Lock()
	var pending []*models.OutboxMessage
	for _, msg := range s.outbox {
		if msg.SentAt == nil {
			pending = append(pending, msg)
			if limit > 0 && len(pending) == limit {
				break
			}
		}
	}
	batch := make([]models.OutboxMessage, len(pending))
	for i, msg := range pending {
		batch[i] = *msg
	}
	s.mu.Unlock()

	sent := 0
	for i := range batch {
		err := publish(ctx, batch[i])

		s.mu.Lock()
		if err != nil {
			pending[i].Attempts++
			s.mu.Unlock()
			return sent, err
		}
		now := s.now()
		pending[i].SentAt = &now
		s.mu.Unlock()
		sent++
	}
	return sent, nil
}
