package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"order-payment-service/internal/auth"
	"order-payment-service/internal/broker"
	"order-payment-service/internal/gateway"
	"order-payment-service/internal/models"
	"order-payment-service/internal/notify"
	"order-payment-service/internal/realtime"
	"order-payment-service/internal/service"
	"order-payment-service/internal/store/memstore"
	"order-payment-service/internal/util"
	"order-payment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

const (
	buyerID    int64 = 42
	strangerID int64 = 43
	adminID    int64 = 1
)

var jwtSecret = []byte("super secret key")

type HandlerTestSuite struct {
	suite.Suite
	store    *memstore.Store
	wallet   *gateway.WalletClient
	provider *httptest.Server
	registry *realtime.Registry
	bus      *broker.LocalBus
	router   *gin.Engine
	cancel   context.CancelFunc

	queryResultCode atomic.Int32
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func (s *HandlerTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	util.SetLogger(zap.NewNop())
}

func (s *HandlerTestSuite) SetupTest() {
	s.queryResultCode.Store(1000)
	s.provider = httptest.NewServer(http.HandlerFunc(s.fakeProvider))

	s.store = memstore.New()
	s.store.AddProduct(models.Product{ID: 1, SKU: "TEA-01", Name: "Trà xanh", Price: decimal.NewFromInt(200000)}, 10)
	s.store.AddProduct(models.Product{ID: 2, SKU: "CUP-01", Name: "Cốc sứ", Price: decimal.NewFromInt(100000)}, 5)

	s.wallet = gateway.NewWalletClient(gateway.Config{
		PartnerCode: "MOMOTEST",
		AccessKey:   "test-access",
		SecretKey:   "test-secret",
		Endpoint:    s.provider.URL,
		RedirectURL: "http://localhost/api/v1/payment/wallet/result",
		IPNURL:      "http://localhost/api/v1/payment/wallet/callback",
		Timeout:     2 * time.Second,
	})

	s.registry = realtime.NewRegistry()
	s.bus = broker.NewLocalBus(64)

	relay := worker.NewOutboxRelay(s.store, s.bus, time.Second, 0)
	payments := service.NewPaymentService(s.store, s.wallet)
	orders := service.NewOrderService(s.store, service.NewInventoryClient(s.store, nil), payments,
		relay, nil, service.OrderOptions{})
	reconciler := service.NewReconciler(orders, s.store, s.wallet)
	notifier := notify.NewNotifier(s.store, s.registry)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		_ = worker.NewNotificationWorker(s.bus, notifier).Start(ctx)
	}()
	go func() {
		_ = relay.Start(ctx)
	}()

	s.router = gin.New()
	handler := NewHandler(Deps{
		Orders:     orders,
		Payments:   payments,
		Reconciler: reconciler,
		Notifier:   notifier,
		Realtime:   realtime.NewServer(s.registry, nil),
		Checks:     map[string]Pinger{"database": s.store},
		JWTKey:     jwtSecret,
	})
	s.Require().NoError(handler.SetupRoutes(s.router))
}

func (s *HandlerTestSuite) TearDownTest() {
	s.cancel()
	_ = s.bus.Close()
	s.provider.Close()
}

// fakeProvider plays the wallet API
func (s *HandlerTestSuite) fakeProvider(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp := map[string]any{
		"partnerCode":  body["partnerCode"],
		"orderId":      body["orderId"],
		"requestId":    body["requestId"],
		"responseTime": time.Now().UnixMilli(),
	}
	switch r.URL.Path {
	case gateway.RouteCreate:
		resp["amount"] = body["amount"]
		resp["resultCode"] = 0
		resp["message"] = "Thành công."
		resp["payUrl"] = "https://test-payment.momo.vn/v2/gateway/pay?t=" + body["orderId"].(string)
	case gateway.RouteQuery:
		code := s.queryResultCode.Load()
		resp["resultCode"] = code
		resp["message"] = "Giao dịch đang được xử lý."
		if code == 0 {
			resp["amount"] = 500000
			resp["transId"] = 4088878653
			resp["message"] = "Thành công."
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *HandlerTestSuite) token(p auth.Principal) string {
	token, err := auth.IssueToken(p, time.Hour, jwtSecret)
	s.Require().NoError(err)
	return token
}

func (s *HandlerTestSuite) request(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		s.Require().NoError(err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerTestSuite) decode(rec *httptest.ResponseRecorder, out any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func orderBody(method models.PaymentMethod) map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"product_id": 1, "quantity": 2},
			{"product_id": 2, "quantity": 1},
		},
		"payment_method":      method,
		"shipping_address_id": 9,
	}
}

func (s *HandlerTestSuite) createOrder(method models.PaymentMethod) service.CreateOrderResult {
	rec := s.request(http.MethodPost, "/api/v1/orders", s.token(auth.User(buyerID)), orderBody(method))
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var result service.CreateOrderResult
	s.decode(rec, &result)
	return result
}

func (s *HandlerTestSuite) callback(providerOrderID string, amount int64, resultCode int) []byte {
	params := map[string]any{
		"partnerCode":  "MOMOTEST",
		"orderId":      providerOrderID,
		"requestId":    "MOMOTEST" + providerOrderID,
		"amount":       amount,
		"orderInfo":    "Thanh toán đơn hàng",
		"orderType":    "momo_wallet",
		"transId":      int64(4088878653),
		"resultCode":   resultCode,
		"message":      "Successful.",
		"payType":      "qr",
		"responseTime": time.Now().UnixMilli(),
		"extraData":    "",
	}
	params["signature"] = s.wallet.SignCallback(params)
	body, err := json.Marshal(params)
	s.Require().NoError(err)
	return body
}

func (s *HandlerTestSuite) TestWalletOrderEndToEnd() {
	server := httptest.NewServer(s.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + s.token(auth.User(buyerID))
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	s.Require().NoError(err)
	defer conn.Close()
	defer resp.Body.Close()

	s.Require().Eventually(func() bool {
		return s.registry.Members(realtime.UserRoom(buyerID)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	created := s.createOrder(models.PaymentMethodWallet)
	s.Equal("ORD-1001", created.Order.OrderNumber)
	s.True(created.Order.TotalAmount.Equal(decimal.NewFromInt(500000)))
	s.Require().NotNil(created.Payment)
	s.Nil(created.PaymentError)
	providerOrderID := created.Payment.ProviderOrderID
	s.True(strings.HasPrefix(providerOrderID, "ORD-1001_"))
	s.WithinDuration(created.Payment.CreatedAt.Add(15*time.Minute), created.Payment.ExpiresAt, time.Second)

	body := s.callback(providerOrderID, 500000, 0)
	rec := s.request(http.MethodPost, "/api/v1/payment/wallet/callback", "", body)
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(3 * time.Second)))
	var msg realtime.Message
	s.Require().NoError(conn.ReadJSON(&msg))
	s.Equal(realtime.EventOrderStatusUpdated, msg.Event)

	var payload notify.StatusUpdatePayload
	s.Require().NoError(json.Unmarshal(msg.Payload, &payload))
	s.Equal("ORD-1001", payload.OrderNumber)
	s.Equal("Đã xác nhận", payload.StatusLabel)
	s.Equal(string(models.PaymentStatusPaid), payload.Payment)

	rec = s.request(http.MethodGet, "/api/v1/orders/1", s.token(auth.User(buyerID)), nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var details service.OrderDetails
	s.decode(rec, &details)
	s.Equal(models.OrderStatusConfirmed, details.Order.Status)
	s.Equal(models.PaymentStatusPaid, details.Order.PaymentStatus)
	s.Require().NotNil(details.Payment)
	s.NotNil(details.Payment.PaidAt)

	// the provider delivers the same notification again
	rec = s.request(http.MethodPost, "/api/v1/payment/wallet/callback", "", body)
	s.Require().Equal(http.StatusNoContent, rec.Code)

	rec = s.request(http.MethodGet, "/api/v1/orders/1/history", s.token(auth.User(buyerID)), nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var history struct {
		History []models.OrderStatusHistory `json:"history"`
	}
	s.decode(rec, &history)
	s.Len(history.History, 2)

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond)))
	s.Error(conn.ReadJSON(&msg), "no second push expected")

	rec = s.request(http.MethodGet, "/api/v1/notifications", s.token(auth.User(buyerID)), nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var list struct {
		Notifications []models.Notification `json:"notifications"`
		Unread        int                   `json:"unread"`
	}
	s.decode(rec, &list)
	s.Len(list.Notifications, 1)
	s.Equal(1, list.Unread)

	// the admin broadcast for the new order is not visible to the buyer
	rec = s.request(http.MethodGet, "/api/v1/notifications/unread-count", s.token(auth.Admin(adminID)), nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"unread":1}`, rec.Body.String())
}

func (s *HandlerTestSuite) TestCreateOrderRequiresAuth() {
	rec := s.request(http.MethodPost, "/api/v1/orders", "", orderBody(models.PaymentMethodCOD))
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.request(http.MethodPost, "/api/v1/orders", "not-a-token", orderBody(models.PaymentMethodCOD))
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerTestSuite) TestCreateOrderRejectsBadInput() {
	token := s.token(auth.User(buyerID))

	tests := []struct {
		name string
		body any
	}{
		{"empty cart", map[string]any{"items": []any{}, "payment_method": "CASH_ON_DELIVERY", "shipping_address_id": 9}},
		{"zero quantity", map[string]any{
			"items":          []map[string]any{{"product_id": 1, "quantity": 0}},
			"payment_method": "CASH_ON_DELIVERY", "shipping_address_id": 9,
		}},
		{"unknown method", map[string]any{
			"items":          []map[string]any{{"product_id": 1, "quantity": 1}},
			"payment_method": "CRYPTO", "shipping_address_id": 9,
		}},
		{"bank gateway", orderBody(models.PaymentMethodBankGateway)},
		{"not json", "{"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			rec := s.request(http.MethodPost, "/api/v1/orders", token, tt.body)
			s.Equal(http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	s.Equal(10, s.store.Available(1))
}

func (s *HandlerTestSuite) TestCreateOrderInsufficientStock() {
	body := map[string]any{
		"items":               []map[string]any{{"product_id": 2, "quantity": 6}},
		"payment_method":      "CASH_ON_DELIVERY",
		"shipping_address_id": 9,
	}
	rec := s.request(http.MethodPost, "/api/v1/orders", s.token(auth.User(buyerID)), body)
	s.Require().Equal(http.StatusConflict, rec.Code)
	s.JSONEq(`{"error":"insufficient stock","product_id":2,"available":5,"requested":6}`, rec.Body.String())
}

func (s *HandlerTestSuite) TestCreateOrderIdempotencyKey() {
	token := s.token(auth.User(buyerID))
	body := orderBody(models.PaymentMethodCOD)

	first := s.request(http.MethodPost, "/api/v1/orders", token, body, "Idempotency-Key", "cart-77")
	s.Require().Equal(http.StatusCreated, first.Code)
	second := s.request(http.MethodPost, "/api/v1/orders", token, body, "Idempotency-Key", "cart-77")
	s.Require().Equal(http.StatusOK, second.Code)

	var a, b service.CreateOrderResult
	s.decode(first, &a)
	s.decode(second, &b)
	s.Equal(a.Order.ID, b.Order.ID)
	s.Equal(8, s.store.Available(1))
}

func (s *HandlerTestSuite) TestUpdateOrderStatus() {
	order := s.createOrder(models.PaymentMethodCOD).Order
	path := "/api/v1/orders/1/status"

	rec := s.request(http.MethodPatch, path, s.token(auth.User(buyerID)), map[string]any{"toStatus": "CONFIRMED"})
	s.Equal(http.StatusForbidden, rec.Code)

	admin := s.token(auth.Admin(adminID))
	rec = s.request(http.MethodPatch, path, admin, map[string]any{"status": "CONFIRMED"})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.request(http.MethodPatch, path, admin, map[string]any{"toStatus": "BOGUS"})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.request(http.MethodPatch, path, admin, map[string]any{"toStatus": "PROCESSING"})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.request(http.MethodPatch, path, admin, map[string]any{"toStatus": "CONFIRMED"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var resp struct {
		Order models.Order `json:"order"`
	}
	s.decode(rec, &resp)
	s.Equal(order.ID, resp.Order.ID)
	s.Equal(models.OrderStatusConfirmed, resp.Order.Status)

	rec = s.request(http.MethodPatch, "/api/v1/orders/99/status", admin, map[string]any{"toStatus": "CONFIRMED"})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerTestSuite) TestOrderAccess() {
	s.createOrder(models.PaymentMethodCOD)

	rec := s.request(http.MethodGet, "/api/v1/orders/1", s.token(auth.User(strangerID)), nil)
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.request(http.MethodGet, "/api/v1/orders/1", s.token(auth.Admin(adminID)), nil)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.request(http.MethodGet, "/api/v1/orders/abc", s.token(auth.Admin(adminID)), nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.request(http.MethodPost, "/api/v1/orders/1/cancel", s.token(auth.User(strangerID)), nil)
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.request(http.MethodPost, "/api/v1/orders/1/cancel", s.token(auth.User(buyerID)), nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(10, s.store.Available(1))
}

func (s *HandlerTestSuite) TestCallbackRejections() {
	created := s.createOrder(models.PaymentMethodWallet)
	providerOrderID := created.Payment.ProviderOrderID

	rec := s.request(http.MethodPost, "/api/v1/payment/wallet/callback", "", "not json")
	s.Equal(http.StatusBadRequest, rec.Code)

	var params map[string]any
	s.Require().NoError(json.Unmarshal(s.callback(providerOrderID, 500000, 0), &params))
	params["amount"] = 1
	rec = s.request(http.MethodPost, "/api/v1/payment/wallet/callback", "", params)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.request(http.MethodPost, "/api/v1/payment/wallet/callback", "", s.callback("ORD-9999_1", 500000, 0))
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.request(http.MethodGet, "/api/v1/payment/status/"+providerOrderID, "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"paymentStatus":"PENDING"`)
	var view service.PaymentStatusView
	s.decode(rec, &view)
	s.Equal(models.PaymentStatusPending, view.PaymentStatus)
	s.False(view.Expired)

	logs := s.store.WebhookLogs()
	s.Require().Len(logs, 2)
	s.False(logs[0].SignatureValid)
	s.Equal(service.CallbackUnknown, logs[1].Outcome)
}

func (s *HandlerTestSuite) TestPaymentStatusUnknown() {
	rec := s.request(http.MethodGet, "/api/v1/payment/status/ORD-0000_1", "", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerTestSuite) TestWalletRedirectResult() {
	created := s.createOrder(models.PaymentMethodWallet)
	providerOrderID := created.Payment.ProviderOrderID

	// the provider has not confirmed yet
	rec := s.request(http.MethodGet, "/api/v1/payment/wallet/result?resultCode=0&orderId="+providerOrderID, "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var outcome service.RedirectOutcome
	s.decode(rec, &outcome)
	s.Equal(models.PaymentStatusPaid, outcome.Claimed)
	s.Equal(models.PaymentStatusPending, outcome.PaymentStatus)

	s.queryResultCode.Store(0)
	rec = s.request(http.MethodGet, "/api/v1/payment/wallet/result?resultCode=0&orderId="+providerOrderID, "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	outcome = service.RedirectOutcome{}
	s.decode(rec, &outcome)
	s.Equal(models.PaymentStatusPaid, outcome.PaymentStatus)
	s.Equal(models.OrderStatusConfirmed, outcome.OrderStatus)
}

func (s *HandlerTestSuite) TestChangePaymentMethod() {
	created := s.createOrder(models.PaymentMethodWallet)
	token := s.token(auth.User(buyerID))

	rec := s.request(http.MethodPost, "/api/v1/orders/1/payments", token, map[string]any{"payment_method": "WALLET_REDIRECT"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var result service.CreateOrderResult
	s.decode(rec, &result)
	s.Equal(created.Payment.ProviderOrderID, result.Payment.ProviderOrderID)

	rec = s.request(http.MethodPost, "/api/v1/orders/1/payments", token, map[string]any{"payment_method": "CASH_ON_DELIVERY"})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerTestSuite) TestNotificationEndpoints() {
	s.createOrder(models.PaymentMethodCOD)
	admin := s.token(auth.Admin(adminID))

	s.Require().Eventually(func() bool {
		rec := s.request(http.MethodGet, "/api/v1/notifications/unread-count", admin, nil)
		return rec.Code == http.StatusOK && rec.Body.String() == `{"unread":1}`
	}, 2*time.Second, 10*time.Millisecond)

	rec := s.request(http.MethodGet, "/api/v1/notifications", s.token(auth.User(buyerID)), nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"notifications":[],"unread":0}`, rec.Body.String())

	rec = s.request(http.MethodPatch, "/api/v1/notifications/1/read", s.token(auth.User(buyerID)), nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.request(http.MethodPatch, "/api/v1/notifications/read-all", admin, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"updated":1}`, rec.Body.String())

	rec = s.request(http.MethodDelete, "/api/v1/notifications/1", admin, nil)
	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *HandlerTestSuite) TestHealthChecks() {
	rec := s.request(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.request(http.MethodGet, "/ready", "", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"database":"ok"`)
}
