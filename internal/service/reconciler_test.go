package service

import (
	"net/url"
	"time"

	"order-payment-service/internal/gateway"
	"order-payment-service/internal/models"

	"github.com/stretchr/testify/mock"
)

func (s *OrderServiceTestSuite) storedPayment(providerOrderID string) *models.Payment {
	p, err := s.store.GetPaymentByProviderOrderID(s.ctx, providerOrderID)
	s.Require().NoError(err)
	return p
}

func (s *OrderServiceTestSuite) TestCallbackMarksPaid() {
	order, payment := s.placeWalletOrder()
	s.clock.Advance(3 * time.Minute)

	body := s.gw.callbackBody(payment.ProviderOrderID, order.TotalAmount.IntPart(), 0)
	s.Require().NoError(s.reconcile.HandleCallback(s.ctx, body))

	stored := s.storedPayment(payment.ProviderOrderID)
	s.Equal(models.PaymentStatusPaid, stored.Status)
	s.Equal("4088878653", stored.ProviderTransID.String)
	s.Require().NotNil(stored.PaidAt)
	s.Equal(s.clock.Now().UnixMilli(), stored.PaidAt.UnixMilli())

	updated, err := s.store.GetOrderByID(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusConfirmed, updated.Status)
	s.Equal(models.PaymentStatusPaid, updated.PaymentStatus)

	// provider retries the same notification
	s.Require().NoError(s.reconcile.HandleCallback(s.ctx, body))
	s.Len(s.history(order.ID), 2)
	_, _, payments := outboxCounts(s.store)
	s.Equal(1, payments)

	logs := s.store.WebhookLogs()
	s.Require().Len(logs, 2)
	s.True(logs[0].SignatureValid)
	s.Equal(string(models.PaymentStatusPaid), logs[0].Outcome)
	s.Equal(CallbackDuplicate, logs[1].Outcome)
}

func (s *OrderServiceTestSuite) TestCallbackDeclined() {
	order, payment := s.placeWalletOrder()

	body := s.gw.callbackBody(payment.ProviderOrderID, order.TotalAmount.IntPart(), 1006)
	s.Require().NoError(s.reconcile.HandleCallback(s.ctx, body))

	stored := s.storedPayment(payment.ProviderOrderID)
	s.Equal(models.PaymentStatusFailed, stored.Status)
	s.Equal(models.FailureReasonDeclined, stored.FailureReason.String)
}

func (s *OrderServiceTestSuite) TestCallbackSignatureMismatch() {
	order, payment := s.placeWalletOrder()

	body := s.gw.callbackBody(payment.ProviderOrderID, order.TotalAmount.IntPart(), 0)
	tampered := []byte(string(body[:len(body)-1]) + `,"amount":1}`)

	err := s.reconcile.HandleCallback(s.ctx, tampered)
	s.ErrorIs(err, models.ErrSignatureMismatch)
	s.Equal(models.PaymentStatusPending, s.storedPayment(payment.ProviderOrderID).Status)

	logs := s.store.WebhookLogs()
	s.Require().Len(logs, 1)
	s.False(logs[0].SignatureValid)
	s.Equal(CallbackRejected, logs[0].Outcome)
}

func (s *OrderServiceTestSuite) TestCallbackMalformed() {
	tests := map[string]string{
		"not json":        `partnerCode=MOMOTEST`,
		"array":           `[1,2]`,
		"missing orderId": `{"partnerCode":"MOMOTEST","requestId":"r","amount":1,"resultCode":0,"signature":"ab"}`,
		"null":            `null`,
	}
	for name, body := range tests {
		s.Run(name, func() {
			err := s.reconcile.HandleCallback(s.ctx, []byte(body))
			var validationErr *models.ValidationError
			s.ErrorAs(err, &validationErr)
		})
	}
	s.Empty(s.store.WebhookLogs())
}

func (s *OrderServiceTestSuite) TestCallbackUnknownPaymentIsAcknowledged() {
	body := s.gw.callbackBody("ORD-4242_1709283600000", 500000, 0)
	s.NoError(s.reconcile.HandleCallback(s.ctx, body))

	logs := s.store.WebhookLogs()
	s.Require().Len(logs, 1)
	s.Equal(CallbackUnknown, logs[0].Outcome)
}

func (s *OrderServiceTestSuite) TestCallbackAmountMismatch() {
	_, payment := s.placeWalletOrder()

	body := s.gw.callbackBody(payment.ProviderOrderID, 1000, 0)
	s.Require().NoError(s.reconcile.HandleCallback(s.ctx, body))

	stored := s.storedPayment(payment.ProviderOrderID)
	s.Equal(models.PaymentStatusFailed, stored.Status)
	s.Equal(models.FailureReasonAmountMismatch, stored.FailureReason.String)
}

func (s *OrderServiceTestSuite) TestRedirectConfirmsWithProvider() {
	order, payment := s.placeWalletOrder()
	s.gw.On("QueryTransaction", payment.ProviderOrderID).Return(&gateway.TransactionStatus{
		ProviderOrderID: payment.ProviderOrderID,
		ResultCode:      0,
		Amount:          order.TotalAmount.IntPart(),
		TransID:         4088878653,
	}, nil).Once()

	outcome, err := s.reconcile.HandleRedirectResult(s.ctx, url.Values{
		"orderId":    {payment.ProviderOrderID},
		"resultCode": {"0"},
		"message":    {"Successful."},
	})
	s.Require().NoError(err)
	s.Equal(models.PaymentStatusPaid, outcome.Claimed)
	s.Equal(models.PaymentStatusPaid, outcome.PaymentStatus)
	s.Equal(models.OrderStatusConfirmed, outcome.OrderStatus)
	s.Equal(order.OrderNumber, outcome.OrderNumber)
	s.Equal("Successful.", outcome.Message)
	s.gw.AssertExpectations(s.T())
}

func (s *OrderServiceTestSuite) TestRedirectClaimIsNotTrusted() {
	_, payment := s.placeWalletOrder()
	s.gw.On("QueryTransaction", payment.ProviderOrderID).Return(&gateway.TransactionStatus{
		ProviderOrderID: payment.ProviderOrderID,
		ResultCode:      1000,
		Message:         "Transaction is initiated",
	}, nil).Once()

	outcome, err := s.reconcile.HandleRedirectResult(s.ctx, url.Values{
		"orderId":    {payment.ProviderOrderID},
		"resultCode": {"0"},
	})
	s.Require().NoError(err)
	s.Equal(models.PaymentStatusPaid, outcome.Claimed)
	s.Equal(models.PaymentStatusPending, outcome.PaymentStatus)
	s.Equal(models.PaymentStatusPending, s.storedPayment(payment.ProviderOrderID).Status)
}

func (s *OrderServiceTestSuite) TestRedirectFailureDoesNotQuery() {
	_, payment := s.placeWalletOrder()

	outcome, err := s.reconcile.HandleRedirectResult(s.ctx, url.Values{
		"orderId":    {payment.ProviderOrderID},
		"resultCode": {"1006"},
		"message":    {"Giao dịch bị từ chối bởi người dùng."},
	})
	s.Require().NoError(err)
	s.Equal(models.PaymentStatusFailed, outcome.Claimed)
	s.Equal(models.PaymentStatusPending, outcome.PaymentStatus)
	s.Equal("Giao dịch bị từ chối bởi người dùng.", outcome.Message)
	s.gw.AssertNotCalled(s.T(), "QueryTransaction", mock.Anything)

	_, err = s.reconcile.HandleRedirectResult(s.ctx, url.Values{"resultCode": {"0"}})
	var validationErr *models.ValidationError
	s.ErrorAs(err, &validationErr)
}

func (s *OrderServiceTestSuite) TestExpireStalePayments() {
	_, stale := s.placeWalletOrder()
	s.clock.Advance(10 * time.Minute)
	_, fresh := s.placeWalletOrder()
	s.clock.Advance(6 * time.Minute)

	expired, err := s.reconcile.ExpireStalePayments(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(1, expired)

	s.Equal(models.FailureReasonExpired, s.storedPayment(stale.ProviderOrderID).FailureReason.String)
	s.Equal(models.PaymentStatusPending, s.storedPayment(fresh.ProviderOrderID).Status)

	expired, err = s.reconcile.ExpireStalePayments(s.ctx, 10)
	s.Require().NoError(err)
	s.Zero(expired)
}
