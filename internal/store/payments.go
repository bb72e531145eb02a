package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"order-payment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, payment_method, status, provider_order_id, provider_request_id,
			payment_url, amount, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id`

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = s.now()
	}
	payment.UpdatedAt = payment.CreatedAt

	err := s.db.GetContext(ctx, &payment.ID, query,
		payment.OrderID, payment.PaymentMethod, payment.Status, payment.ProviderOrderID,
		payment.ProviderRequestID, payment.PaymentURL, payment.Amount, payment.ExpiresAt, payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetPaymentsByOrderID retrieves every payment attempt of an order, newest first
func (s *Store) GetPaymentsByOrderID(ctx context.Context, orderID int64) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC, id DESC", orderID)
	return payments, err
}

// GetPaymentByProviderOrderID retrieves a payment by the id sent to the provider
func (s *Store) GetPaymentByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE provider_order_id = $1", providerOrderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.UnknownPaymentError{ProviderOrderID: providerOrderID}
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePaymentLocked locks the owning order and then the payment row, lets
// fn decide on a change and applies both in one transaction. Locks are
// always taken order first, the same order TransitionStatus uses.
func (s *Store) UpdatePaymentLocked(ctx context.Context, providerOrderID string, fn models.PaymentMutator) (*models.Order, *models.Payment, error) {
	var orderID int64
	err := s.db.GetContext(ctx, &orderID,
		"SELECT order_id FROM payments WHERE provider_order_id = $1", providerOrderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, &models.UnknownPaymentError{ProviderOrderID: providerOrderID}
	}
	if err != nil {
		return nil, nil, err
	}

	var (
		order   models.Order
		payment models.Payment
	)
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockOrder(ctx, tx, orderID, &order); err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &payment,
			"SELECT * FROM payments WHERE provider_order_id = $1 FOR UPDATE", providerOrderID); err != nil {
			return fmt.Errorf("failed to lock payment: %w", err)
		}

		change, err := fn(&order, &payment)
		if err != nil || change == nil {
			return err
		}

		now := s.now()
		change.Apply(&payment, now)
		_, err = tx.ExecContext(ctx, `
			UPDATE payments SET status = $1, paid_at = $2, failure_reason = $3, provider_trans_id = $4, updated_at = $5
			WHERE id = $6`,
			payment.Status, payment.PaidAt, payment.FailureReason, payment.ProviderTransID, payment.UpdatedAt, payment.ID)
		if err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}

		return s.applyOrderChange(ctx, tx, &order, &change.Order)
	})
	if err != nil {
		return nil, nil, err
	}
	return &order, &payment, nil
}

// GetExpiredPendingPayments lists pending payments whose session expired before now
func (s *Store) GetExpiredPendingPayments(ctx context.Context, now time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3`,
		models.PaymentStatusPending, now, limit)
	return payments, err
}

// LogWebhook appends one provider callback to the audit log
func (s *Store) LogWebhook(ctx context.Context, entry *models.WebhookLog) error {
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = s.now()
	}
	payload := string(entry.Payload)
	if payload == "" {
		payload = "{}"
	}
	err := s.db.GetContext(ctx, &entry.ID, `
		INSERT INTO payment_webhook_logs (provider_order_id, payload, signature_valid, outcome, error, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		entry.ProviderOrderID, payload, entry.SignatureValid, entry.Outcome, entry.Error, entry.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to insert webhook log: %w", err)
	}
	return nil
}
