package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"payment_method"})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rejected_total",
		Help: "Total number of order placements rejected",
	}, []string{"reason"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of applied order status transitions",
	}, []string{"to_status"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reserve_latency_seconds",
		Help:    "Latency of cached inventory reservation checks",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

	PaymentSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_sessions_total",
		Help: "Total number of wallet payment sessions requested",
	}, []string{"result"})

	PaymentSessionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_session_latency_seconds",
		Help:    "Latency of wallet provider session creation",
		Buckets: prometheus.DefBuckets,
	})

	PaymentsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_recorded_total",
		Help: "Total number of payment results recorded",
	}, []string{"status", "reason"})

	PaymentCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Total number of provider callbacks by handling result",
	}, []string{"kind", "result"})

	NotificationsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Total number of notifications persisted",
	}, []string{"type"})

	NotificationPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_pushes_total",
		Help: "Total number of realtime pushes per connection",
	}, []string{"event", "result"})

	RealtimeConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "realtime_room_members",
		Help: "Current realtime room memberships",
	}, []string{"room_kind"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	OutboxRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_relayed_total",
		Help: "Total number of outbox events relayed to the event stream",
	}, []string{"event_type"})

	OutboxRelayFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_relay_failures_total",
		Help: "Total number of failed outbox publish attempts",
	})
)
