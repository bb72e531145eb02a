// Package signature computes and verifies the HMAC-SHA256 signatures exchanged
// with the wallet payment provider.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Keys never covered by the signature.
var excludedKeys = map[string]struct{}{
	"signature": {},
	"lang":      {},
}

// Signer signs provider payloads with a pre-shared secret
type Signer struct {
	secret []byte
}

// NewSigner creates a new signer
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Canonical builds the `k=v&k=v` string the signature is computed over.
func Canonical(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if _, skip := excludedKeys[k]; skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(FormatValue(params[k]))
	}
	return b.String()
}

// FormatValue renders a parameter value the same way on both ends. Numbers
// have no exponent and no trailing zeros.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		if d, err := decimal.NewFromString(val.String()); err == nil {
			return d.String()
		}
		return val.String()
	case decimal.Decimal:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return decimal.NewFromFloat32(val).String()
	case float64:
		return decimal.NewFromFloat(val).String()
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	}
	return fmt.Sprint(v)
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical params.
func (s *Signer) Sign(params map[string]any) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(Canonical(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches params.
func (s *Signer) Verify(params map[string]any, signature string) bool {
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(Canonical(params)))
	return hmac.Equal(got, mac.Sum(nil))
}
