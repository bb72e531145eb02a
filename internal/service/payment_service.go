package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-payment-service/internal/gateway"
	"order-payment-service/internal/models"
	"order-payment-service/internal/util"

	"go.uber.org/zap"
)

// PaymentService opens wallet payment sessions and reports payment status
type PaymentService struct {
	repo    OrderRepository
	gateway PaymentGateway
	now     func() time.Time
	logger  *zap.Logger
}

// NewPaymentService creates a new payment service. gw may be nil when the
// wallet integration is not configured.
func NewPaymentService(repo OrderRepository, gw PaymentGateway) *PaymentService {
	return &PaymentService{
		repo:    repo,
		gateway: gw,
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

// WithClock overrides the time source.
func (ps *PaymentService) WithClock(now func() time.Time) *PaymentService {
	ps.now = now
	return ps
}

// WalletEnabled reports whether wallet sessions can be created.
func (ps *PaymentService) WalletEnabled() bool {
	return ps.gateway != nil
}

// PaymentError is the client-facing shape of a failed session request
type PaymentError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// NewPaymentError classifies a gateway error for the API.
func NewPaymentError(err error) *PaymentError {
	var providerErr *gateway.ProviderError
	switch {
	case errors.As(err, &providerErr):
		return &PaymentError{Code: providerErr.Code, Message: providerErr.Message}
	case gateway.Retryable(err):
		return &PaymentError{Code: "PROVIDER_UNAVAILABLE", Message: err.Error(), Retryable: true}
	}
	return &PaymentError{Code: "PAYMENT_ERROR", Message: err.Error()}
}

// StartWalletPayment opens a provider session for the order and records the
// attempt. The provider call happens before, and outside, any transaction.
func (ps *PaymentService) StartWalletPayment(ctx context.Context, order *models.Order) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.StartWalletPayment")
	defer span.End()

	if ps.gateway == nil {
		return nil, models.NewValidationError("paymentMethod", "wallet payments are not enabled")
	}

	start := time.Now()
	session, err := ps.gateway.CreatePaymentSession(ctx, order.OrderNumber, order.TotalAmount,
		fmt.Sprintf("Thanh toán đơn hàng %s", order.OrderNumber))
	util.PaymentSessionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.PaymentSessionsTotal.WithLabelValues("error").Inc()
		ps.logger.Warn("Wallet session creation failed",
			zap.Int64("order_id", order.ID),
			zap.String("order_number", order.OrderNumber),
			zap.Bool("retryable", gateway.Retryable(err)),
			zap.Error(err))
		return nil, err
	}
	util.PaymentSessionsTotal.WithLabelValues("created").Inc()

	payment := &models.Payment{
		OrderID:           order.ID,
		PaymentMethod:     models.PaymentMethodWallet,
		Status:            models.PaymentStatusPending,
		ProviderOrderID:   session.ProviderOrderID,
		ProviderRequestID: session.ProviderRequestID,
		PaymentURL:        session.PaymentURL,
		Amount:            order.TotalAmount,
		ExpiresAt:         session.ExpiresAt,
		CreatedAt:         ps.now(),
	}
	if err := ps.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	ps.logger.Info("Wallet payment started",
		zap.Int64("order_id", order.ID),
		zap.String("provider_order_id", payment.ProviderOrderID),
		zap.Time("expires_at", payment.ExpiresAt))
	return payment, nil
}

// PaymentStatusView is the answer to a payment status lookup
type PaymentStatusView struct {
	ProviderOrderID string               `json:"providerOrderId"`
	OrderID         int64                `json:"orderId"`
	PaymentStatus   models.PaymentStatus `json:"paymentStatus"`
	FailureReason   string               `json:"failureReason,omitempty"`
	ExpiresAt       time.Time            `json:"expiresAt"`
	Expired         bool                 `json:"expired"`
	PaidAt          *time.Time           `json:"paidAt,omitempty"`
}

// GetPaymentStatus reports the stored status of an attempt. A pending attempt
// past its TTL is reported as expired without being mutated.
func (ps *PaymentService) GetPaymentStatus(ctx context.Context, providerOrderID string) (*PaymentStatusView, error) {
	payment, err := ps.repo.GetPaymentByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		return nil, err
	}
	return newPaymentStatusView(payment, ps.now()), nil
}

func newPaymentStatusView(p *models.Payment, now time.Time) *PaymentStatusView {
	return &PaymentStatusView{
		ProviderOrderID: p.ProviderOrderID,
		OrderID:         p.OrderID,
		PaymentStatus:   p.Status,
		FailureReason:   p.FailureReason.String,
		ExpiresAt:       p.ExpiresAt,
		Expired:         p.Status == models.PaymentStatusPending && p.Expired(now),
		PaidAt:          p.PaidAt,
	}
}
