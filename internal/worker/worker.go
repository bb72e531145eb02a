package worker

import (
	"context"
	"errors"
	"time"

	"order-payment-service/internal/broker"
	"order-payment-service/internal/models"
	"order-payment-service/internal/util"

	"go.uber.org/zap"
)

// Notifier receives every fan-out event
type Notifier interface {
	OrderCreated(ctx context.Context, ev *models.OrderCreatedEvent) error
	OrderStatusChanged(ctx context.Context, ev *models.OrderStatusChangedEvent) error
	PaymentRecorded(ctx context.Context, ev *models.PaymentRecordedEvent) error
	UserDeactivated(ctx context.Context, ev *models.UserDeactivatedEvent) error
	CategoryChanged(ctx context.Context, ev *models.CategoryChangedEvent) error
}

// NotificationWorker consumes domain events and hands them to the notifier
type NotificationWorker struct {
	source       broker.MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(source broker.MessageSource, notifier Notifier) *NotificationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderCreated(notifier.OrderCreated)
	eventHandler.OnOrderStatusChanged(notifier.OrderStatusChanged)
	eventHandler.OnPaymentRecorded(notifier.PaymentRecorded)
	eventHandler.OnUserDeactivated(notifier.UserDeactivated)
	eventHandler.OnCategoryChanged(notifier.CategoryChanged)

	return &NotificationWorker{
		source:       source,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks consuming events until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	err := w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.source.Close()
}

// PaymentExpirer expires stale pending payments
type PaymentExpirer interface {
	ExpireStalePayments(ctx context.Context, limit int) (int, error)
}

// ExpiryWorker periodically sweeps payment sessions past their TTL
type ExpiryWorker struct {
	expirer  PaymentExpirer
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

// NewExpiryWorker creates a sweeper. A zero interval disables it.
func NewExpiryWorker(expirer PaymentExpirer, interval time.Duration, batch int) *ExpiryWorker {
	if batch <= 0 {
		batch = 100
	}
	return &ExpiryWorker{
		expirer:  expirer,
		interval: interval,
		batch:    batch,
		logger:   util.GetLogger(),
	}
}

// Start blocks running sweeps until ctx is cancelled
func (w *ExpiryWorker) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return nil
	}
	w.logger.Info("Starting payment expiry worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			expired, err := w.expirer.ExpireStalePayments(ctx, w.batch)
			if err != nil {
				w.logger.Error("Payment expiry sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				w.logger.Info("Expired stale payments", zap.Int("count", expired))
			}
		}
	}
}
