package api

import (
	"errors"
	"net/http"

	"order-payment-service/internal/models"
	"order-payment-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps a service error onto its HTTP status
func writeError(c *gin.Context, err error) {
	var (
		validationErr *models.ValidationError
		stockErr      *models.InsufficientStockError
		transitionErr *models.InvalidTransitionError
		unknownErr    *models.UnknownPaymentError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": validationErr.Message,
			"field": validationErr.Field,
		})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "insufficient stock",
			"product_id": stockErr.ProductID,
			"available":  stockErr.Available,
			"requested":  stockErr.Requested,
		})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
			"from":  transitionErr.From,
			"to":    transitionErr.To,
		})
	case errors.Is(err, models.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrNotificationNotFound),
		errors.As(err, &unknownErr):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrSignatureMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}
