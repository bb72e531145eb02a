package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"order-payment-service/internal/models"
	"order-payment-service/internal/signature"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type WalletClientTestSuite struct {
	suite.Suite
	server   *httptest.Server
	calls    atomic.Int32
	respond  func(w http.ResponseWriter, body map[string]any)
	lastBody map[string]any
	now      time.Time
}

func TestWalletClientSuite(t *testing.T) {
	suite.Run(t, new(WalletClientTestSuite))
}

func (s *WalletClientTestSuite) SetupTest() {
	s.calls.Store(0)
	s.now = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	s.respond = nil
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		var body map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		s.Require().NoError(dec.Decode(&body))
		s.lastBody = body
		s.respond(w, body)
	}))
}

func (s *WalletClientTestSuite) TearDownTest() {
	if s.server != nil {
		s.server.Close()
	}
}

func (s *WalletClientTestSuite) client() *WalletClient {
	return NewWalletClient(Config{
		PartnerCode: "MOMO",
		AccessKey:   "access",
		SecretKey:   "secret",
		Endpoint:    s.server.URL,
		RedirectURL: "https://shop.example/payment/wallet/result",
		IPNURL:      "https://shop.example/payment/wallet/callback",
		Timeout:     2 * time.Second,
	}).WithClock(func() time.Time { return s.now })
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *WalletClientTestSuite) TestCreatePaymentSessionSuccess() {
	s.respond = func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{
			"partnerCode": "MOMO",
			"orderId":     body["orderId"],
			"requestId":   body["requestId"],
			"resultCode":  0,
			"message":     "Thành công.",
			"payUrl":      "https://pay.example/redirect/abc",
		})
	}

	session, err := s.client().CreatePaymentSession(context.Background(), "ORD-1001", decimal.NewFromInt(500000), "Thanh toan ORD-1001")
	s.Require().NoError(err)

	millis := "1792141200000"
	s.Equal("https://pay.example/redirect/abc", session.PaymentURL)
	s.Equal("ORD-1001_"+millis, session.ProviderOrderID)
	s.Equal("MOMO"+millis, session.ProviderRequestID)
	s.Equal(s.now.Add(15*time.Minute), session.ExpiresAt)

	s.NotContains(s.lastBody, "accessKey")
	s.Equal("vi", s.lastBody["lang"])
	s.Equal(json.Number("500000"), s.lastBody["amount"])

	// the provider recomputes the signature with the access key it holds
	check := map[string]any{"accessKey": "access"}
	for k, v := range s.lastBody {
		check[k] = v
	}
	sig, _ := s.lastBody["signature"].(string)
	s.True(signature.NewSigner("secret").Verify(check, sig))
}

func (s *WalletClientTestSuite) TestCreatePaymentSessionFailures() {
	cases := []struct {
		name      string
		status    int
		response  map[string]any
		wantCode  string
		retryable bool
	}{
		{
			name:     "non zero result code",
			status:   http.StatusOK,
			response: map[string]any{"resultCode": 22, "message": "Số tiền không hợp lệ"},
			wantCode: "22",
		}, {
			name:     "missing redirect",
			status:   http.StatusOK,
			response: map[string]any{"resultCode": 0, "message": "ok"},
			wantCode: CodeMissingRedirect,
		}, {
			name:     "bad request",
			status:   http.StatusBadRequest,
			response: map[string]any{"resultCode": 20, "message": "Bad format request."},
			wantCode: "20",
		}, {
			name:      "server error",
			status:    http.StatusBadGateway,
			response:  map[string]any{"resultCode": 99},
			retryable: true,
		},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.respond = func(w http.ResponseWriter, _ map[string]any) {
				writeJSON(w, tc.status, tc.response)
			}

			_, err := s.client().CreatePaymentSession(context.Background(), "ORD-1001", decimal.NewFromInt(1000), "x")
			s.Require().Error(err)
			s.Equal(tc.retryable, Retryable(err))

			if !tc.retryable {
				var providerErr *ProviderError
				s.Require().ErrorAs(err, &providerErr)
				s.Equal(tc.wantCode, providerErr.Code)
			}
		})
	}
}

func (s *WalletClientTestSuite) TestInvalidAmountMakesNoCall() {
	s.respond = func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{"resultCode": 0, "payUrl": "x"})
	}

	for _, amount := range []decimal.Decimal{
		decimal.Zero,
		decimal.NewFromInt(-5),
		decimal.RequireFromString("100.5"),
	} {
		_, err := s.client().CreatePaymentSession(context.Background(), "ORD-1001", amount, "x")
		var validationErr *models.ValidationError
		s.Require().ErrorAs(err, &validationErr)
	}
	s.Equal(int32(0), s.calls.Load())
}

func (s *WalletClientTestSuite) TestUnreachableProvider() {
	client := s.client()
	s.server.Close()

	_, err := client.CreatePaymentSession(context.Background(), "ORD-1001", decimal.NewFromInt(1000), "x")
	s.Require().Error(err)
	s.True(Retryable(err))
	s.True(errors.Is(err, ErrProviderUnavailable))
}

func (s *WalletClientTestSuite) TestQueryTransaction() {
	s.respond = func(w http.ResponseWriter, body map[string]any) {
		s.Equal("ORD-1001_1", body["orderId"])
		writeJSON(w, http.StatusOK, map[string]any{
			"orderId":    body["orderId"],
			"resultCode": 0,
			"message":    "Thành công.",
			"amount":     500000,
			"transId":    4088878653,
		})
	}

	status, err := s.client().QueryTransaction(context.Background(), "ORD-1001_1")
	s.Require().NoError(err)
	s.True(status.Paid())
	s.Equal(int64(500000), status.Amount)
	s.Equal(int64(4088878653), status.TransID)
}

func (s *WalletClientTestSuite) TestCallbackSignatureRoundTrip() {
	client := s.client()
	params := map[string]any{
		"partnerCode": "MOMO",
		"orderId":     "ORD-1001_1792141200000",
		"requestId":   "MOMO1792141200000",
		"amount":      json.Number("500000"),
		"resultCode":  json.Number("0"),
		"transId":     json.Number("4088878653"),
	}
	sig := client.SignCallback(params)
	s.True(client.VerifyCallback(params, sig))

	params["amount"] = json.Number("1")
	s.False(client.VerifyCallback(params, sig))
	s.False(NewWalletClient(Config{SecretKey: "secret", AccessKey: "other"}).VerifyCallback(params, client.SignCallback(params)))
}
