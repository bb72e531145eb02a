package models

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrSignatureMismatch    = errors.New("signature mismatch")
	ErrForbidden            = errors.New("forbidden")
	ErrDuplicateRequest     = errors.New("request with this idempotency key is already in progress")
)

// ValidationError reports bad caller input.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// InsufficientStockError is returned when a product cannot cover the requested quantity.
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available=%d, requested=%d",
		e.ProductID, e.Available, e.Requested)
}

// InvalidTransitionError is returned for an edge the order state machine does not allow.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition %s -> %s", e.From, e.To)
}

// UnknownPaymentError is returned when a provider id matches no payment attempt.
type UnknownPaymentError struct {
	ProviderOrderID string
}

func (e *UnknownPaymentError) Error() string {
	return fmt.Sprintf("unknown payment %q", e.ProviderOrderID)
}
