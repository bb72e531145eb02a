package signature

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callbackParams() map[string]any {
	return map[string]any{
		"partnerCode":  "MOMO",
		"orderId":      "ORD-1001_1700000000000",
		"requestId":    "MOMO1700000000000",
		"amount":       json.Number("500000"),
		"orderInfo":    "Thanh toan don hang ORD-1001",
		"resultCode":   json.Number("0"),
		"message":      "Successful.",
		"responseTime": json.Number("1700000001234"),
		"extraData":    "",
	}
}

func TestCanonical(t *testing.T) {
	params := map[string]any{
		"b":         "2",
		"a":         1,
		"signature": "deadbeef",
		"lang":      "vi",
		"c":         json.Number("1.500"),
	}

	assert.Equal(t, "a=1&b=2&c=1.5", Canonical(params))
}

func TestFormatValueNumbers(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"json integer", json.Number("500000"), "500000"},
		{"json exponent", json.Number("5e5"), "500000"},
		{"json trailing zeros", json.Number("10.2500"), "10.25"},
		{"float", 500000.0, "500000"},
		{"int64", int64(42), "42"},
		{"decimal", decimal.RequireFromString("120.000"), "120"},
		{"nil", nil, ""},
		{"bool", true, "true"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatValue(tc.in))
		})
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer := NewSigner("secret-key")
	params := callbackParams()

	sig := signer.Sign(params)
	require.Len(t, sig, 64)
	assert.Equal(t, strings.ToLower(sig), sig)
	assert.True(t, signer.Verify(params, sig))
	assert.True(t, signer.Verify(params, strings.ToUpper(sig)))
}

func TestVerifyRejectsTampering(t *testing.T) {
	signer := NewSigner("secret-key")
	params := callbackParams()
	sig := signer.Sign(params)

	for key := range params {
		t.Run("mutate "+key, func(t *testing.T) {
			tampered := callbackParams()
			tampered[key] = FormatValue(tampered[key]) + "x"
			assert.False(t, signer.Verify(tampered, sig))
		})
	}

	t.Run("added field", func(t *testing.T) {
		tampered := callbackParams()
		tampered["transId"] = "123"
		assert.False(t, signer.Verify(tampered, sig))
	})

	t.Run("removed field", func(t *testing.T) {
		tampered := callbackParams()
		delete(tampered, "message")
		assert.False(t, signer.Verify(tampered, sig))
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.False(t, NewSigner("other").Verify(params, sig))
	})

	t.Run("garbage signature", func(t *testing.T) {
		assert.False(t, signer.Verify(params, "not-hex"))
		assert.False(t, signer.Verify(params, ""))
	})
}

func TestSignIgnoresExcludedKeys(t *testing.T) {
	signer := NewSigner("secret-key")
	params := callbackParams()
	sig := signer.Sign(params)

	params["lang"] = "en"
	params["signature"] = sig
	assert.True(t, signer.Verify(params, sig))
}

func TestSignNumericRepresentations(t *testing.T) {
	signer := NewSigner("secret-key")

	a := map[string]any{"amount": json.Number("500000")}
	b := map[string]any{"amount": int64(500000)}
	c := map[string]any{"amount": 500000.0}

	assert.Equal(t, signer.Sign(a), signer.Sign(b))
	assert.Equal(t, signer.Sign(a), signer.Sign(c))
}
