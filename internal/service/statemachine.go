package service

import "order-payment-service/internal/models"

var allowedTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:    {models.OrderStatusConfirmed, models.OrderStatusCancelled},
	models.OrderStatusConfirmed:  {models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusDelivered},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to models.OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the statuses reachable from s in one step.
func NextStatuses(s models.OrderStatus) []models.OrderStatus {
	return append([]models.OrderStatus(nil), allowedTransitions[s]...)
}
