package api

import (
	"fmt"

	"order-payment-service/internal/models"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func validatePaymentMethod(fl validator.FieldLevel) bool {
	return models.PaymentMethod(fl.Field().String()).Valid()
}

func validateOrderStatus(fl validator.FieldLevel) bool {
	return models.OrderStatus(fl.Field().String()).Valid()
}

func registerValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	if err := v.RegisterValidation("payment_method", validatePaymentMethod); err != nil {
		return fmt.Errorf("validator registration: %w", err)
	}
	if err := v.RegisterValidation("order_status", validateOrderStatus); err != nil {
		return fmt.Errorf("validator registration: %w", err)
	}
	return nil
}
