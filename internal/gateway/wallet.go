// Package gateway wraps the redirect-based wallet payment API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"order-payment-service/internal/models"
	"order-payment-service/internal/signature"

	"github.com/shopspring/decimal"
)

const (
	RouteCreate = "/v2/gateway/api/create"
	RouteQuery  = "/v2/gateway/api/query"

	// ResultSuccess is the provider result code for a successful operation.
	ResultSuccess = 0

	DefaultSessionTTL = 15 * time.Minute
)

// Config holds the merchant credentials and URLs of the wallet integration
type Config struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
	RequestType string
	Timeout     time.Duration
	SessionTTL  time.Duration
}

// Session is a created payment session the user is redirected to
type Session struct {
	PaymentURL        string    `json:"payment_url"`
	ProviderOrderID   string    `json:"provider_order_id"`
	ProviderRequestID string    `json:"provider_request_id"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// TransactionStatus is the provider's view of a payment
type TransactionStatus struct {
	ProviderOrderID string
	ResultCode      int
	Message         string
	Amount          int64
	TransID         int64
}

// Paid reports whether the provider considers the payment successful.
func (s *TransactionStatus) Paid() bool {
	return s.ResultCode == ResultSuccess
}

type providerResponse struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	TransID      int64  `json:"transId"`
	ResponseTime int64  `json:"responseTime"`
	Message      string `json:"message"`
	ResultCode   int    `json:"resultCode"`
	PayURL       string `json:"payUrl"`
	Deeplink     string `json:"deeplink"`
	QRCodeURL    string `json:"qrCodeUrl"`
}

// WalletClient talks to the wallet provider
type WalletClient struct {
	cfg        Config
	signer     *signature.Signer
	httpClient *http.Client
	now        func() time.Time
}

// NewWalletClient creates a new wallet client
func NewWalletClient(cfg Config) *WalletClient {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestType == "" {
		cfg.RequestType = "captureWallet"
	}
	return &WalletClient{
		cfg:        cfg,
		signer:     signature.NewSigner(cfg.SecretKey),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

// WithClock overrides the time source.
func (c *WalletClient) WithClock(now func() time.Time) *WalletClient {
	c.now = now
	return c
}

// PartnerCode returns the merchant partner code.
func (c *WalletClient) PartnerCode() string {
	return c.cfg.PartnerCode
}

// VerifyCallback checks a provider-signed parameter set. The provider signs
// with the access key included, which it does not echo back.
func (c *WalletClient) VerifyCallback(params map[string]any, sig string) bool {
	signed := make(map[string]any, len(params)+1)
	for k, v := range params {
		signed[k] = v
	}
	if _, ok := signed["accessKey"]; !ok {
		signed["accessKey"] = c.cfg.AccessKey
	}
	return c.signer.Verify(signed, sig)
}

// SignCallback produces the signature the provider would attach to params.
// Used by operator tooling and tests.
func (c *WalletClient) SignCallback(params map[string]any) string {
	signed := make(map[string]any, len(params)+1)
	for k, v := range params {
		signed[k] = v
	}
	if _, ok := signed["accessKey"]; !ok {
		signed["accessKey"] = c.cfg.AccessKey
	}
	return c.signer.Sign(signed)
}

// CreatePaymentSession requests a payment session for an order. amount must be
// a positive integer in the provider's minor unit.
func (c *WalletClient) CreatePaymentSession(
	ctx context.Context,
	orderNumber string,
	amount decimal.Decimal,
	description string,
) (*Session, error) {
	if !amount.IsPositive() || !amount.IsInteger() {
		return nil, models.NewValidationError("amount", "must be a positive integer, got %s", amount.String())
	}

	now := c.now()
	millis := strconv.FormatInt(now.UnixMilli(), 10)
	requestID := c.cfg.PartnerCode + millis
	providerOrderID := orderNumber + "_" + millis

	params := map[string]any{
		"partnerCode": c.cfg.PartnerCode,
		"accessKey":   c.cfg.AccessKey,
		"requestId":   requestID,
		"amount":      amount.IntPart(),
		"orderId":     providerOrderID,
		"orderInfo":   description,
		"redirectUrl": c.cfg.RedirectURL,
		"ipnUrl":      c.cfg.IPNURL,
		"requestType": c.cfg.RequestType,
		"extraData":   "",
	}
	body := c.signedBody(params)

	var resp providerResponse
	if err := c.post(ctx, RouteCreate, body, &resp); err != nil {
		return nil, err
	}
	if resp.ResultCode != ResultSuccess {
		return nil, &ProviderError{Code: strconv.Itoa(resp.ResultCode), Message: resp.Message}
	}
	if resp.PayURL == "" {
		return nil, &ProviderError{Code: CodeMissingRedirect, Message: "provider returned no payment url"}
	}

	return &Session{
		PaymentURL:        resp.PayURL,
		ProviderOrderID:   providerOrderID,
		ProviderRequestID: requestID,
		ExpiresAt:         now.Add(c.cfg.SessionTTL),
	}, nil
}

// QueryTransaction asks the provider for the current status of a payment.
// A non-zero result code is reported in the status, not as an error.
func (c *WalletClient) QueryTransaction(ctx context.Context, providerOrderID string) (*TransactionStatus, error) {
	requestID := c.cfg.PartnerCode + strconv.FormatInt(c.now().UnixMilli(), 10)
	params := map[string]any{
		"partnerCode": c.cfg.PartnerCode,
		"accessKey":   c.cfg.AccessKey,
		"requestId":   requestID,
		"orderId":     providerOrderID,
	}

	var resp providerResponse
	if err := c.post(ctx, RouteQuery, c.signedBody(params), &resp); err != nil {
		return nil, err
	}
	return &TransactionStatus{
		ProviderOrderID: providerOrderID,
		ResultCode:      resp.ResultCode,
		Message:         resp.Message,
		Amount:          resp.Amount,
		TransID:         resp.TransID,
	}, nil
}

// signedBody signs params and returns the request body. The access key takes
// part in the signature but is never sent.
func (c *WalletClient) signedBody(params map[string]any) map[string]any {
	sig := c.signer.Sign(params)
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		if k == "accessKey" {
			continue
		}
		body[k] = v
	}
	body["lang"] = "vi"
	body["signature"] = sig
	return body
}

//nolint:nonamedreturns
func (c *WalletClient) post(ctx context.Context, route string, payload any, out *providerResponse) (err error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+route, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrProviderUnavailable, err.Error())
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %s", ErrProviderUnavailable, err.Error())
	}

	if jsonErr := json.Unmarshal(body, out); jsonErr != nil {
		if resp.StatusCode != http.StatusOK {
			return &ProviderError{Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: string(body)}
		}
		return &ProviderError{Code: CodeBadResponse, Message: jsonErr.Error()}
	}

	if resp.StatusCode != http.StatusOK && out.ResultCode == ResultSuccess {
		return &ProviderError{Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: out.Message}
	}
	return nil
}
