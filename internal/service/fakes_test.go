package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"order-payment-service/internal/gateway"
	"order-payment-service/internal/models"
	"order-payment-service/internal/signature"
	"order-payment-service/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

const (
	testPartner = "MOMOTEST"
	testSecret  = "test-secret"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeGateway opens sessions locally and verifies with a real signer.
// QueryTransaction is mocked.
type fakeGateway struct {
	mock.Mock
	signer *signature.Signer
	now    func() time.Time
	fail   error
}

func newFakeGateway(now func() time.Time) *fakeGateway {
	return &fakeGateway{signer: signature.NewSigner(testSecret), now: now}
}

func (g *fakeGateway) CreatePaymentSession(_ context.Context, orderNumber string, amount decimal.Decimal, _ string) (*gateway.Session, error) {
	if g.fail != nil {
		return nil, g.fail
	}
	if !amount.IsPositive() || !amount.IsInteger() {
		return nil, models.NewValidationError("amount", "must be a positive integer")
	}
	now := g.now()
	millis := now.UnixMilli()
	id := fmt.Sprintf("%s_%d", orderNumber, millis)
	return &gateway.Session{
		PaymentURL:        "https://pay.example.test/" + id,
		ProviderOrderID:   id,
		ProviderRequestID: fmt.Sprintf("%s%d", testPartner, millis),
		ExpiresAt:         now.Add(gateway.DefaultSessionTTL),
	}, nil
}

func (g *fakeGateway) QueryTransaction(_ context.Context, providerOrderID string) (*gateway.TransactionStatus, error) {
	args := g.Called(providerOrderID)
	status, _ := args.Get(0).(*gateway.TransactionStatus)
	return status, args.Error(1)
}

func (g *fakeGateway) VerifyCallback(params map[string]any, sig string) bool {
	return g.signer.Verify(params, sig)
}

func (g *fakeGateway) PartnerCode() string { return testPartner }

// callbackBody builds a signed provider notification
func (g *fakeGateway) callbackBody(providerOrderID string, amount int64, resultCode int) []byte {
	params := map[string]any{
		"partnerCode":  testPartner,
		"orderId":      providerOrderID,
		"requestId":    fmt.Sprintf("%s%d", testPartner, g.now().UnixMilli()),
		"amount":       amount,
		"orderInfo":    "Thanh toán đơn hàng",
		"orderType":    "momo_wallet",
		"transId":      int64(4088878653),
		"resultCode":   resultCode,
		"message":      "Successful.",
		"payType":      "qr",
		"responseTime": g.now().UnixMilli(),
		"extraData":    "",
	}
	params["signature"] = g.signer.Sign(params)
	body, err := json.Marshal(params)
	if err != nil {
		panic(err)
	}
	return body
}

type countingTrigger struct {
	calls atomic.Int32
}

func (c *countingTrigger) Trigger() { c.calls.Add(1) }

// outboxCounts tallies the committed events by type
func outboxCounts(store *memstore.Store) (created, changed, payments int) {
	for _, msg := range store.Outbox() {
		switch msg.EventType {
		case models.EventTypeOrderCreated:
			created++
		case models.EventTypeOrderStatusChanged:
			changed++
		case models.EventTypePaymentRecorded:
			payments++
		}
	}
	return created, changed, payments
}

func paymentEvents(store *memstore.Store) []models.PaymentRecordedEvent {
	var out []models.PaymentRecordedEvent
	for _, msg := range store.Outbox() {
		if msg.EventType != models.EventTypePaymentRecorded {
			continue
		}
		var ev models.PaymentRecordedEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			panic(err)
		}
		out = append(out, ev)
	}
	return out
}
