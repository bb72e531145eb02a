package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"order-payment-service/internal/auth"
	"order-payment-service/internal/models"
	"order-payment-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ActorPayment is recorded on history rows written by payment reconciliation
const ActorPayment = "system:payment"

// OrderOptions are the business settings of order placement
type OrderOptions struct {
	ShippingFee        decimal.Decimal
	IdempotencyLockTTL time.Duration
}

// OrderService handles order business logic. Every mutation of an order
// goes through it.
type OrderService struct {
	repo      OrderRepository
	inventory *InventoryClient
	payments  *PaymentService
	outbox    OutboxTrigger
	locker    Locker
	opts      OrderOptions
	now       func() time.Time
	logger    *zap.Logger
}

// NewOrderService creates a new order service. outbox and locker may be nil.
func NewOrderService(
	repo OrderRepository,
	inventory *InventoryClient,
	payments *PaymentService,
	outbox OutboxTrigger,
	locker Locker,
	opts OrderOptions,
) *OrderService {
	if opts.IdempotencyLockTTL <= 0 {
		opts.IdempotencyLockTTL = 30 * time.Second
	}
	return &OrderService{
		repo:      repo,
		inventory: inventory,
		payments:  payments,
		outbox:    outbox,
		locker:    locker,
		opts:      opts,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// WithClock overrides the time source.
func (s *OrderService) WithClock(now func() time.Time) *OrderService {
	s.now = now
	return s
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Items             []OrderItemRequest   `json:"items" binding:"required,min=1,dive"`
	PaymentMethod     models.PaymentMethod `json:"payment_method" binding:"required,payment_method"`
	ShippingAddressID int64                `json:"shipping_address_id" binding:"required,gt=0"`
	IdempotencyKey    string               `json:"-"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required,gt=0"`
	Quantity  int   `json:"quantity" binding:"required,gt=0"`
}

// CreateOrderResult is the placed order with its first payment attempt
type CreateOrderResult struct {
	Order        *models.Order      `json:"order"`
	Items        []models.OrderItem `json:"items"`
	Payment      *models.Payment    `json:"payment,omitempty"`
	PaymentError *PaymentError      `json:"payment_error,omitempty"`
	Replayed     bool               `json:"-"`
}

func (s *OrderService) validate(req *CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return models.NewValidationError("items", "order must contain at least one item")
	}
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return models.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		if item.ProductID <= 0 {
			return models.NewValidationError(fmt.Sprintf("items[%d].productId", i), "is required")
		}
	}
	if req.ShippingAddressID <= 0 {
		return models.NewValidationError("shippingAddressId", "is required")
	}
	switch req.PaymentMethod {
	case models.PaymentMethodCOD:
	case models.PaymentMethodWallet:
		if !s.payments.WalletEnabled() {
			return models.NewValidationError("paymentMethod", "wallet payments are not enabled")
		}
	case models.PaymentMethodBankGateway:
		return models.NewValidationError("paymentMethod", "%s is not available", req.PaymentMethod)
	default:
		return models.NewValidationError("paymentMethod", "unknown payment method %q", req.PaymentMethod)
	}
	return nil
}

// CreateOrder places an order for userID. Stock is checked and decremented in
// the same transaction that writes the order. For wallet orders a provider
// session is opened afterwards; a provider failure leaves the order placed
// and is reported in PaymentError.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, req *CreateOrderRequest) (*CreateOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := s.validate(req); err != nil {
		util.OrdersRejectedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.GetOrderByIdempotencyKey(ctx, userID, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return s.replay(ctx, existing)
		}

		release, err := s.lockIdempotencyKey(ctx, userID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	items, err := s.priceItems(ctx, req.Items)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal)
	}
	discount := decimal.Zero
	order := &models.Order{
		UserID:            userID,
		Status:            models.OrderStatusPending,
		PaymentMethod:     req.PaymentMethod,
		PaymentStatus:     models.PaymentStatusPending,
		Subtotal:          subtotal,
		ShippingFee:       s.opts.ShippingFee,
		DiscountAmount:    discount,
		TotalAmount:       subtotal.Add(s.opts.ShippingFee).Sub(discount),
		ShippingAddressID: req.ShippingAddressID,
	}
	if req.IdempotencyKey != "" {
		order.IdempotencyKey = sql.NullString{String: req.IdempotencyKey, Valid: true}
	}

	reserved, err := s.inventory.Reserve(ctx, items)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("insufficient_stock").Inc()
		return nil, err
	}

	if err := s.repo.CreateOrderTx(ctx, order, items, auth.User(userID).Actor(), s.orderCreatedEvent(items)); err != nil {
		if reserved {
			s.inventory.Release(ctx, 0, items)
		}
		var stockErr *models.InsufficientStockError
		switch {
		case errors.As(err, &stockErr):
			util.OrdersRejectedTotal.WithLabelValues("insufficient_stock").Inc()
			return nil, err
		case errors.Is(err, models.ErrDuplicateRequest) && req.IdempotencyKey != "":
			existing, lookupErr := s.repo.GetOrderByIdempotencyKey(ctx, userID, req.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				return s.replay(ctx, existing)
			}
			return nil, err
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.TotalAmount.String()))

	s.triggerOutbox()

	result := &CreateOrderResult{Order: order, Items: items}
	if order.PaymentMethod == models.PaymentMethodWallet {
		payment, err := s.payments.StartWalletPayment(ctx, order)
		if err != nil {
			result.PaymentError = NewPaymentError(err)
		} else {
			result.Payment = payment
		}
	}
	return result, nil
}

func (s *OrderService) lockIdempotencyKey(ctx context.Context, userID int64, key string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	lockKey := fmt.Sprintf("order-create:%d:%s", userID, key)
	token, ok, err := s.locker.AcquireLock(ctx, lockKey, s.opts.IdempotencyLockTTL)
	if err != nil {
		s.logger.Warn("Idempotency lock unavailable, relying on unique key", zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, models.ErrDuplicateRequest
	}
	return func() {
		if err := s.locker.ReleaseLock(context.Background(), lockKey, token); err != nil {
			s.logger.Warn("Failed to release idempotency lock", zap.String("key", lockKey), zap.Error(err))
		}
	}, nil
}

func (s *OrderService) replay(ctx context.Context, order *models.Order) (*CreateOrderResult, error) {
	items, err := s.repo.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	result := &CreateOrderResult{Order: order, Items: items, Replayed: true}
	payments, err := s.repo.GetPaymentsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if len(payments) > 0 {
		result.Payment = &payments[0]
	}
	return result, nil
}

// priceItems snapshots the current catalog price of every item
func (s *OrderService) priceItems(ctx context.Context, reqItems []OrderItemRequest) ([]models.OrderItem, error) {
	ids := make([]int64, len(reqItems))
	for i, item := range reqItems {
		ids[i] = item.ProductID
	}

	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	items := make([]models.OrderItem, 0, len(reqItems))
	for i, item := range reqItems {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, models.NewValidationError(fmt.Sprintf("items[%d].productId", i), "unknown product %d", item.ProductID)
		}
		items = append(items, models.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
			LineTotal: product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
		})
	}
	return items, nil
}

// orderCreatedEvent builds the outbox entry once the order has its id and number
func (s *OrderService) orderCreatedEvent(items []models.OrderItem) models.OutboxBuilder {
	return func(order *models.Order) (*models.OutboxMessage, error) {
		data := make([]models.OrderItemData, 0, len(items))
		for _, item := range items {
			data = append(data, models.OrderItemData{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice.String(),
			})
		}
		return models.NewOutboxMessage(models.OrderEventKey(order.ID), &models.OrderCreatedEvent{
			BaseEvent:     s.newBaseEvent(models.EventTypeOrderCreated),
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			UserID:        order.UserID,
			TotalAmount:   order.TotalAmount.String(),
			PaymentMethod: order.PaymentMethod,
			Items:         data,
		})
	}
}

func (s *OrderService) triggerOutbox() {
	if s.outbox != nil {
		s.outbox.Trigger()
	}
}

func (s *OrderService) newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: s.now(),
	}
}

// TransitionStatus moves an order along its lifecycle. Requesting the current
// status is a successful no-op. Cancelling returns the items to stock; a
// cash-on-delivery order is settled when delivered.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID int64, to models.OrderStatus, actor string) (*models.Order, error) {
	return s.transition(ctx, orderID, to, actor, nil)
}

// CancelOrder lets the owner cancel an order that is still pending and unpaid.
func (s *OrderService) CancelOrder(ctx context.Context, principal auth.Principal, orderID int64) (*models.Order, error) {
	return s.transition(ctx, orderID, models.OrderStatusCancelled, principal.Actor(), func(o *models.Order) error {
		if !principal.CanAccessUser(o.UserID) {
			return models.ErrForbidden
		}
		if principal.IsAdmin() {
			return nil
		}
		if o.Status != models.OrderStatusPending && o.Status != models.OrderStatusCancelled {
			return &models.InvalidTransitionError{From: o.Status, To: models.OrderStatusCancelled}
		}
		if o.PaymentStatus == models.PaymentStatusPaid {
			return models.NewValidationError("status", "paid orders can only be cancelled by an operator")
		}
		return nil
	})
}

func (s *OrderService) transition(
	ctx context.Context,
	orderID int64,
	to models.OrderStatus,
	actor string,
	guard func(o *models.Order) error,
) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TransitionStatus")
	defer span.End()

	if !to.Valid() {
		return nil, models.NewValidationError("toStatus", "unknown status %q", to)
	}

	var (
		from    models.OrderStatus
		applied bool
	)
	order, err := s.repo.UpdateOrderLocked(ctx, orderID, func(o *models.Order) (*models.OrderChange, error) {
		if guard != nil {
			if err := guard(o); err != nil {
				return nil, err
			}
		}
		if o.Status == to {
			return nil, nil
		}
		if !CanTransition(o.Status, to) {
			return nil, &models.InvalidTransitionError{From: o.Status, To: to}
		}

		change := &models.OrderChange{ToStatus: to, Actor: actor}
		switch to {
		case models.OrderStatusCancelled:
			change.Restock = true
		case models.OrderStatusDelivered:
			if o.PaymentMethod == models.PaymentMethodCOD && o.PaymentStatus != models.PaymentStatusPaid {
				change.PaymentStatus = models.PaymentStatusPaid
			}
		}
		msg, err := models.NewOutboxMessage(models.OrderEventKey(o.ID), &models.OrderStatusChangedEvent{
			BaseEvent:   s.newBaseEvent(models.EventTypeOrderStatusChanged),
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			UserID:      o.UserID,
			FromStatus:  o.Status,
			ToStatus:    to,
			Actor:       actor,
		})
		if err != nil {
			return nil, err
		}
		change.Outbox = append(change.Outbox, msg)
		from = o.Status
		applied = true
		return change, nil
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return order, nil
	}

	util.OrderTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor))

	if to == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.Inc()
		if order.PaymentStatus == models.PaymentStatusPaid {
			s.logger.Warn("Paid order cancelled, refund required",
				zap.Int64("order_id", order.ID),
				zap.String("order_number", order.OrderNumber))
		}
		if items, err := s.repo.GetOrderItemsByOrderID(ctx, order.ID); err == nil {
			s.inventory.Release(ctx, order.ID, items)
		}
	}

	s.triggerOutbox()
	return order, nil
}

// PaymentResult is a provider outcome to record against one payment attempt
type PaymentResult struct {
	Outcome models.PaymentStatus
	PaidAt  *time.Time
	// Amount is the amount the provider reports, when it reports one.
	Amount  *decimal.Decimal
	TransID string
	Message string
}

// RecordOutcome is the state after RecordPaymentResult
type RecordOutcome struct {
	Order   *models.Order
	Payment *models.Payment
	// Applied is false when the payment was already terminal.
	Applied bool
}

// decidePayment picks the terminal status of a pending attempt
func decidePayment(o *models.Order, p *models.Payment, r PaymentResult, now time.Time) (models.PaymentStatus, string) {
	switch {
	case p.Expired(now):
		return models.PaymentStatusFailed, models.FailureReasonExpired
	case r.Outcome != models.PaymentStatusPaid:
		return models.PaymentStatusFailed, models.FailureReasonDeclined
	case r.Amount != nil && !r.Amount.Equal(p.Amount):
		return models.PaymentStatusFailed, models.FailureReasonAmountMismatch
	case o.PaymentStatus == models.PaymentStatusPaid:
		return models.PaymentStatusFailed, models.FailureReasonAlreadyPaid
	}
	return models.PaymentStatusPaid, ""
}

// RecordPaymentResult applies a provider outcome to a payment attempt and its
// order in one locked read-modify-write. A terminal attempt is left as is,
// which makes duplicate callbacks no-ops. An attempt past its TTL always
// fails. The first successful attempt marks the order paid and confirms a
// pending order.
func (s *OrderService) RecordPaymentResult(ctx context.Context, providerOrderID string, result PaymentResult) (*RecordOutcome, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.RecordPaymentResult")
	defer span.End()

	if result.Outcome != models.PaymentStatusPaid && result.Outcome != models.PaymentStatusFailed {
		return nil, models.NewValidationError("outcome", "unknown payment outcome %q", result.Outcome)
	}

	now := s.now()
	var applied bool
	order, payment, err := s.repo.UpdatePaymentLocked(ctx, providerOrderID, func(o *models.Order, p *models.Payment) (*models.PaymentChange, error) {
		if p.Status.Terminal() {
			if result.Outcome == models.PaymentStatusPaid && p.Status != models.PaymentStatusPaid {
				s.logger.Warn("Provider reports success for a failed payment, refund required",
					zap.String("provider_order_id", p.ProviderOrderID),
					zap.String("failure_reason", p.FailureReason.String))
			}
			return nil, nil
		}

		status, reason := decidePayment(o, p, result, now)
		change := &models.PaymentChange{
			Status:          status,
			FailureReason:   reason,
			ProviderTransID: result.TransID,
		}

		if status == models.PaymentStatusPaid {
			paidAt := now
			if result.PaidAt != nil {
				paidAt = *result.PaidAt
			}
			change.PaidAt = &paidAt
			change.Order.PaymentStatus = models.PaymentStatusPaid
			if o.Status == models.OrderStatusPending {
				change.Order.ToStatus = models.OrderStatusConfirmed
				change.Order.Actor = ActorPayment
				change.Order.Note = "payment " + p.ProviderOrderID
			}
		} else if o.PaymentStatus != models.PaymentStatusPaid {
			change.Order.PaymentStatus = models.PaymentStatusFailed
		}

		orderStatus := o.Status
		if change.Order.ToStatus != "" {
			orderStatus = change.Order.ToStatus
		}
		msg, err := models.NewOutboxMessage(models.OrderEventKey(o.ID), &models.PaymentRecordedEvent{
			BaseEvent:       s.newBaseEvent(models.EventTypePaymentRecorded),
			OrderID:         o.ID,
			OrderNumber:     o.OrderNumber,
			UserID:          o.UserID,
			ProviderOrderID: p.ProviderOrderID,
			PaymentStatus:   status,
			FailureReason:   reason,
			OrderStatus:     orderStatus,
			StatusChanged:   orderStatus != o.Status,
		})
		if err != nil {
			return nil, err
		}
		change.Order.Outbox = append(change.Order.Outbox, msg)
		applied = true
		return change, nil
	})
	if err != nil {
		return nil, err
	}

	outcome := &RecordOutcome{Order: order, Payment: payment, Applied: applied}
	if !applied {
		s.logger.Info("Payment already terminal, ignoring result",
			zap.String("provider_order_id", providerOrderID),
			zap.String("status", string(payment.Status)))
		return outcome, nil
	}

	reason := payment.FailureReason.String
	util.PaymentsRecordedTotal.WithLabelValues(string(payment.Status), reason).Inc()
	s.logger.Info("Payment result recorded",
		zap.Int64("order_id", order.ID),
		zap.String("provider_order_id", providerOrderID),
		zap.String("status", string(payment.Status)),
		zap.String("reason", reason),
		zap.String("order_status", string(order.Status)))

	switch reason {
	case models.FailureReasonAlreadyPaid:
		s.logger.Warn("Second payment for an already paid order, refund required",
			zap.Int64("order_id", order.ID),
			zap.String("provider_order_id", providerOrderID))
	case models.FailureReasonExpired:
		if result.Outcome == models.PaymentStatusPaid {
			s.logger.Warn("Provider reports success after session expiry, refund required",
				zap.Int64("order_id", order.ID),
				zap.String("provider_order_id", providerOrderID))
		}
	}
	if payment.Status == models.PaymentStatusPaid && order.Status == models.OrderStatusCancelled {
		s.logger.Warn("Payment received for a cancelled order, refund required",
			zap.Int64("order_id", order.ID),
			zap.String("provider_order_id", providerOrderID))
	}

	s.triggerOutbox()
	return outcome, nil
}

// ChangePaymentMethodRequest asks for a new payment attempt
type ChangePaymentMethodRequest struct {
	PaymentMethod models.PaymentMethod `json:"payment_method" binding:"required,payment_method"`
}

// ChangePaymentMethod retries a wallet payment or falls back to cash on
// delivery for a pending, unpaid order. Only one live wallet attempt exists
// at a time: asking for a wallet payment while one is live returns it, and
// an expired attempt is failed before a new one is opened.
func (s *OrderService) ChangePaymentMethod(ctx context.Context, principal auth.Principal, orderID int64, method models.PaymentMethod) (*CreateOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ChangePaymentMethod")
	defer span.End()

	switch method {
	case models.PaymentMethodCOD:
	case models.PaymentMethodWallet:
		if !s.payments.WalletEnabled() {
			return nil, models.NewValidationError("paymentMethod", "wallet payments are not enabled")
		}
	default:
		return nil, models.NewValidationError("paymentMethod", "%s is not available", method)
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccessUser(order.UserID) {
		return nil, models.ErrForbidden
	}

	payments, err := s.repo.GetPaymentsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(payments) > 0 && payments[0].Status == models.PaymentStatusPending {
		latest := payments[0]
		if !latest.Expired(s.now()) {
			if method == models.PaymentMethodWallet {
				return &CreateOrderResult{Order: order, Payment: &latest, Replayed: true}, nil
			}
			return nil, models.NewValidationError("paymentMethod",
				"a wallet payment session is active until %s", latest.ExpiresAt.Format(time.RFC3339))
		}
		if _, err := s.RecordPaymentResult(ctx, latest.ProviderOrderID, PaymentResult{Outcome: models.PaymentStatusFailed}); err != nil {
			return nil, fmt.Errorf("failed to expire payment: %w", err)
		}
	}

	order, err = s.repo.UpdateOrderLocked(ctx, orderID, func(o *models.Order) (*models.OrderChange, error) {
		if o.Status != models.OrderStatusPending {
			return nil, models.NewValidationError("status", "payment can only change while the order is %s", models.OrderStatusPending)
		}
		if o.PaymentStatus == models.PaymentStatusPaid {
			return nil, models.NewValidationError("paymentStatus", "order is already paid")
		}
		return &models.OrderChange{PaymentMethod: method, PaymentStatus: models.PaymentStatusPending}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order payment method changed",
		zap.Int64("order_id", order.ID),
		zap.String("payment_method", string(method)),
		zap.String("actor", principal.Actor()))

	result := &CreateOrderResult{Order: order}
	if method == models.PaymentMethodWallet {
		payment, err := s.payments.StartWalletPayment(ctx, order)
		if err != nil {
			result.PaymentError = NewPaymentError(err)
		} else {
			result.Payment = payment
		}
	}
	return result, nil
}

// OrderDetails is an order with its items and latest payment attempt
type OrderDetails struct {
	Order   *models.Order      `json:"order"`
	Items   []models.OrderItem `json:"items"`
	Payment *PaymentStatusView `json:"payment,omitempty"`
	// NextStatuses lists the transitions an operator may request.
	NextStatuses []models.OrderStatus `json:"next_statuses"`
}

// GetOrder retrieves an order visible to principal
func (s *OrderService) GetOrder(ctx context.Context, principal auth.Principal, orderID int64) (*OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccessUser(order.UserID) {
		return nil, models.ErrForbidden
	}

	items, err := s.repo.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	details := &OrderDetails{Order: order, Items: items, NextStatuses: NextStatuses(order.Status)}
	payments, err := s.repo.GetPaymentsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(payments) > 0 {
		details.Payment = newPaymentStatusView(&payments[0], s.now())
	}
	return details, nil
}

// GetOrderHistory returns the audit trail of an order visible to principal
func (s *OrderService) GetOrderHistory(ctx context.Context, principal auth.Principal, orderID int64) ([]models.OrderStatusHistory, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccessUser(order.UserID) {
		return nil, models.ErrForbidden
	}
	return s.repo.GetOrderHistory(ctx, orderID)
}
