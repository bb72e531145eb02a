package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"order-payment-service/internal/auth"
	"order-payment-service/internal/models"
	"order-payment-service/internal/notify"
	"order-payment-service/internal/realtime"
	"order-payment-service/internal/service"
	"order-payment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	DefaultCallbackTimeout = 5 * time.Second
	maxCallbackBody        = 64 << 10
)

// Pinger is a dependency checked by the readiness endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the handlers call
type Deps struct {
	Orders     *service.OrderService
	Payments   *service.PaymentService
	Reconciler *service.Reconciler
	Notifier   *notify.Notifier
	Realtime   *realtime.Server
	Checks     map[string]Pinger
	JWTKey     []byte
	// CallbackTimeout bounds the work done before the provider is answered.
	CallbackTimeout time.Duration
}

// Handler contains HTTP handlers
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	if deps.CallbackTimeout <= 0 {
		deps.CallbackTimeout = DefaultCallbackTimeout
	}
	return &Handler{
		deps:   deps,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) error {
	if err := registerValidators(); err != nil {
		return err
	}

	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", authenticate(h.deps.JWTKey), h.serveWebsocket)

	v1 := router.Group("/api/v1", authenticate(h.deps.JWTKey))
	{
		orders := v1.Group("/orders", requireUser())
		orders.POST("", h.createOrder)
		orders.GET("/:id", h.getOrder)
		orders.GET("/:id/history", h.getOrderHistory)
		orders.POST("/:id/payments", h.changePaymentMethod)
		orders.POST("/:id/cancel", h.cancelOrder)
		orders.PATCH("/:id/status", requireAdmin(), h.updateOrderStatus)

		payment := v1.Group("/payment")
		payment.GET("/status/:providerOrderId", h.getPaymentStatus)
		payment.GET("/wallet/result", h.walletResult)
		payment.POST("/wallet/callback", h.walletCallback)

		notifications := v1.Group("/notifications", requireUser())
		notifications.GET("", h.listNotifications)
		notifications.GET("/unread-count", h.unreadCount)
		notifications.PATCH("/read-all", h.markAllNotificationsRead)
		notifications.PATCH("/:id/read", h.markNotificationRead)
		notifications.DELETE("/:id", h.deleteNotification)
	}
	return nil
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every backing dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(gin.H, len(h.deps.Checks))
	ready := true
	for name, p := range h.deps.Checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	body := gin.H{"status": "ready", "checks": checks, "time": time.Now().Unix()}
	if !ready {
		status = http.StatusServiceUnavailable
		body["status"] = "not ready"
	}
	c.JSON(status, body)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	result, err := h.deps.Orders.CreateOrder(c.Request.Context(), principal(c).UserID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := parseID(c)
	if !ok {
		return
	}

	details, err := h.deps.Orders.GetOrder(c.Request.Context(), principal(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *Handler) getOrderHistory(c *gin.Context) {
	orderID, ok := parseID(c)
	if !ok {
		return
	}

	history, err := h.deps.Orders.GetOrderHistory(c.Request.Context(), principal(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// changePaymentMethod retries the wallet payment or switches to cash on delivery
func (h *Handler) changePaymentMethod(c *gin.Context) {
	orderID, ok := parseID(c)
	if !ok {
		return
	}

	var req service.ChangePaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	result, err := h.deps.Orders.ChangePaymentMethod(c.Request.Context(), principal(c), orderID, req.PaymentMethod)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := parseID(c)
	if !ok {
		return
	}

	order, err := h.deps.Orders.CancelOrder(c.Request.Context(), principal(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

type updateStatusRequest struct {
	ToStatus models.OrderStatus `json:"toStatus" binding:"required,order_status"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := parseID(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	order, err := h.deps.Orders.TransitionStatus(c.Request.Context(), orderID, req.ToStatus, principal(c).Actor())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *Handler) getPaymentStatus(c *gin.Context) {
	view, err := h.deps.Payments.GetPaymentStatus(c.Request.Context(), c.Param("providerOrderId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// walletResult is the browser return URL. Its parameters are only a hint.
func (h *Handler) walletResult(c *gin.Context) {
	outcome, err := h.deps.Reconciler.HandleRedirectResult(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// walletCallback receives the provider's signed notification. Fan-out runs
// off the event stream, so the provider is answered as soon as the result
// is stored.
func (h *Handler) walletCallback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.deps.CallbackTimeout)
	defer cancel()

	if err := h.deps.Reconciler.HandleCallback(ctx, body); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func notificationFilter(p auth.Principal) models.NotificationFilter {
	return models.NotificationFilter{UserID: p.UserID, IncludeAdmin: p.IsAdmin()}
}

func (h *Handler) listNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, unread, err := h.deps.Notifier.List(c.Request.Context(), notificationFilter(principal(c)), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []models.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "unread": unread})
}

func (h *Handler) unreadCount(c *gin.Context) {
	unread, err := h.deps.Notifier.UnreadCount(c.Request.Context(), notificationFilter(principal(c)))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": unread})
}

func (h *Handler) markNotificationRead(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.deps.Notifier.MarkRead(c.Request.Context(), notificationFilter(principal(c)), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) markAllNotificationsRead(c *gin.Context) {
	updated, err := h.deps.Notifier.MarkAllRead(c.Request.Context(), notificationFilter(principal(c)))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *Handler) deleteNotification(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.deps.Notifier.Delete(c.Request.Context(), notificationFilter(principal(c)), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// serveWebsocket upgrades the connection and joins the caller's rooms
func (h *Handler) serveWebsocket(c *gin.Context) {
	if err := h.deps.Realtime.Serve(c.Writer, c.Request, principal(c)); err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
	}
}
