package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"order-payment-service/internal/models"
	"order-payment-service/internal/signature"
	"order-payment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Callback audit outcomes
const (
	CallbackRejected  = "rejected"
	CallbackUnknown   = "unknown_payment"
	CallbackDuplicate = "duplicate"
	CallbackError     = "error"
)

var callbackRequired = []string{"partnerCode", "orderId", "requestId", "amount", "resultCode", "signature"}

// Reconciler turns provider notifications into payment results. It never
// mutates orders itself; every change goes through RecordPaymentResult.
type Reconciler struct {
	orders  *OrderService
	repo    OrderRepository
	gateway PaymentGateway
	now     func() time.Time
	logger  *zap.Logger
}

// NewReconciler creates a new reconciler. gw may be nil when the wallet
// integration is not configured.
func NewReconciler(orders *OrderService, repo OrderRepository, gw PaymentGateway) *Reconciler {
	return &Reconciler{
		orders:  orders,
		repo:    repo,
		gateway: gw,
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

// WithClock overrides the time source.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// HandleCallback processes a server-to-server payment notification. It
// returns a ValidationError for malformed input, ErrSignatureMismatch for a
// forged or corrupted body and nil once the notification is safely handled,
// including notifications for unknown or already settled payments.
func (r *Reconciler) HandleCallback(ctx context.Context, body []byte) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleCallback")
	defer span.End()

	if r.gateway == nil {
		return models.NewValidationError("provider", "wallet payments are not enabled")
	}

	params, err := decodeCallback(body)
	if err != nil {
		util.PaymentCallbacksTotal.WithLabelValues("ipn", "malformed").Inc()
		r.logger.Warn("Malformed payment callback", zap.Error(err))
		return err
	}

	providerOrderID := signature.FormatValue(params["orderId"])
	sig := signature.FormatValue(params["signature"])
	delete(params, "signature")

	entry := &models.WebhookLog{
		ProviderOrderID: providerOrderID,
		Payload:         body,
		ReceivedAt:      r.now(),
	}

	if !r.gateway.VerifyCallback(params, sig) {
		util.PaymentCallbacksTotal.WithLabelValues("ipn", "bad_signature").Inc()
		r.logger.Warn("Payment callback signature mismatch", zap.String("provider_order_id", providerOrderID))
		entry.Outcome = CallbackRejected
		entry.Error = models.ErrSignatureMismatch.Error()
		r.audit(ctx, entry)
		return models.ErrSignatureMismatch
	}
	entry.SignatureValid = true

	if partner := signature.FormatValue(params["partnerCode"]); partner != r.gateway.PartnerCode() {
		util.PaymentCallbacksTotal.WithLabelValues("ipn", "malformed").Inc()
		err := models.NewValidationError("partnerCode", "unexpected partner %q", partner)
		entry.Outcome = CallbackRejected
		entry.Error = err.Error()
		r.audit(ctx, entry)
		return err
	}

	result, err := callbackResult(params)
	if err != nil {
		util.PaymentCallbacksTotal.WithLabelValues("ipn", "malformed").Inc()
		entry.Outcome = CallbackRejected
		entry.Error = err.Error()
		r.audit(ctx, entry)
		return err
	}

	outcome, err := r.orders.RecordPaymentResult(ctx, providerOrderID, result)
	if err != nil {
		var unknown *models.UnknownPaymentError
		if errors.As(err, &unknown) {
			util.PaymentCallbacksTotal.WithLabelValues("ipn", "unknown").Inc()
			r.logger.Warn("Callback for unknown payment", zap.String("provider_order_id", providerOrderID))
			entry.Outcome = CallbackUnknown
			r.audit(ctx, entry)
			return nil
		}
		util.PaymentCallbacksTotal.WithLabelValues("ipn", "error").Inc()
		r.logger.Error("Failed to record payment result",
			zap.String("provider_order_id", providerOrderID),
			zap.Error(err))
		entry.Outcome = CallbackError
		entry.Error = err.Error()
		r.audit(ctx, entry)
		return err
	}

	entry.Outcome = string(outcome.Payment.Status)
	if !outcome.Applied {
		entry.Outcome = CallbackDuplicate
	}
	util.PaymentCallbacksTotal.WithLabelValues("ipn", entry.Outcome).Inc()
	r.audit(ctx, entry)
	return nil
}

func decodeCallback(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, models.NewValidationError("body", "invalid JSON: %v", err)
	}
	if params == nil {
		return nil, models.NewValidationError("body", "expected a JSON object")
	}
	for _, key := range callbackRequired {
		if v, ok := params[key]; !ok || signature.FormatValue(v) == "" {
			return nil, models.NewValidationError(key, "is required")
		}
	}
	return params, nil
}

// callbackResult maps the provider's parameters onto a payment result
func callbackResult(params map[string]any) (PaymentResult, error) {
	code, err := strconv.Atoi(signature.FormatValue(params["resultCode"]))
	if err != nil {
		return PaymentResult{}, models.NewValidationError("resultCode", "must be an integer")
	}
	amount, err := decimal.NewFromString(signature.FormatValue(params["amount"]))
	if err != nil {
		return PaymentResult{}, models.NewValidationError("amount", "must be a number")
	}

	result := PaymentResult{
		Outcome: models.PaymentStatusFailed,
		Amount:  &amount,
		Message: signature.FormatValue(params["message"]),
	}
	if code == 0 {
		result.Outcome = models.PaymentStatusPaid
	}
	if transID := signature.FormatValue(params["transId"]); transID != "" {
		result.TransID = transID
	}
	if millis, err := strconv.ParseInt(signature.FormatValue(params["responseTime"]), 10, 64); err == nil && millis > 0 {
		paidAt := time.UnixMilli(millis)
		result.PaidAt = &paidAt
	}
	return result, nil
}

func (r *Reconciler) audit(ctx context.Context, entry *models.WebhookLog) {
	if err := r.repo.LogWebhook(ctx, entry); err != nil {
		r.logger.Error("Failed to write webhook log",
			zap.String("provider_order_id", entry.ProviderOrderID),
			zap.Error(err))
	}
}

// RedirectOutcome is what the browser return page shows
type RedirectOutcome struct {
	*PaymentStatusView
	OrderNumber string             `json:"orderNumber"`
	OrderStatus models.OrderStatus `json:"orderStatus"`
	// Claimed is the outcome the redirect parameters report.
	Claimed models.PaymentStatus `json:"claimed"`
	Message string               `json:"message,omitempty"`
}

// HandleRedirectResult answers the browser redirect after a wallet payment.
// The redirect is not trusted: a success claim for a pending payment is
// confirmed with the provider before anything is recorded.
func (r *Reconciler) HandleRedirectResult(ctx context.Context, query url.Values) (*RedirectOutcome, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleRedirectResult")
	defer span.End()

	providerOrderID := query.Get("orderId")
	if providerOrderID == "" {
		return nil, models.NewValidationError("orderId", "is required")
	}

	claimed := models.PaymentStatusFailed
	if query.Get("resultCode") == "0" {
		claimed = models.PaymentStatusPaid
	}

	payment, err := r.repo.GetPaymentByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		return nil, err
	}

	if claimed == models.PaymentStatusPaid && payment.Status == models.PaymentStatusPending && r.gateway != nil {
		if err := r.confirmWithProvider(ctx, payment); err != nil {
			r.logger.Warn("Redirect confirmation failed",
				zap.String("provider_order_id", providerOrderID),
				zap.Error(err))
		} else if payment, err = r.repo.GetPaymentByProviderOrderID(ctx, providerOrderID); err != nil {
			return nil, err
		}
	}
	util.PaymentCallbacksTotal.WithLabelValues("redirect", string(claimed)).Inc()

	order, err := r.repo.GetOrderByID(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}

	return &RedirectOutcome{
		PaymentStatusView: newPaymentStatusView(payment, r.now()),
		OrderNumber:       order.OrderNumber,
		OrderStatus:       order.Status,
		Claimed:           claimed,
		Message:           query.Get("message"),
	}, nil
}

// confirmWithProvider records a payment as paid only if the provider says so
func (r *Reconciler) confirmWithProvider(ctx context.Context, payment *models.Payment) error {
	status, err := r.gateway.QueryTransaction(ctx, payment.ProviderOrderID)
	if err != nil {
		return fmt.Errorf("query transaction: %w", err)
	}
	if !status.Paid() {
		r.logger.Info("Provider has not confirmed payment yet",
			zap.String("provider_order_id", payment.ProviderOrderID),
			zap.Int("result_code", status.ResultCode))
		return nil
	}

	amount := decimal.NewFromInt(status.Amount)
	result := PaymentResult{Outcome: models.PaymentStatusPaid, Amount: &amount, Message: status.Message}
	if status.TransID != 0 {
		result.TransID = strconv.FormatInt(status.TransID, 10)
	}
	_, err = r.orders.RecordPaymentResult(ctx, payment.ProviderOrderID, result)
	return err
}

// ExpireStalePayments fails pending attempts whose session has expired and
// returns how many were changed.
func (r *Reconciler) ExpireStalePayments(ctx context.Context, limit int) (int, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.ExpireStalePayments")
	defer span.End()

	stale, err := r.repo.GetExpiredPendingPayments(ctx, r.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired payments: %w", err)
	}

	expired := 0
	for _, p := range stale {
		outcome, err := r.orders.RecordPaymentResult(ctx, p.ProviderOrderID, PaymentResult{Outcome: models.PaymentStatusFailed})
		if err != nil {
			r.logger.Error("Failed to expire payment",
				zap.String("provider_order_id", p.ProviderOrderID),
				zap.Error(err))
			continue
		}
		if outcome.Applied {
			expired++
		}
	}
	if expired > 0 {
		r.logger.Info("Expired stale payments", zap.Int("count", expired))
	}
	return expired, nil
}
