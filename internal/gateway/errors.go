package gateway

import (
	"errors"
	"fmt"
)

// Provider error codes produced locally
const (
	CodeMissingRedirect = "MISSING_REDIRECT"
	CodeBadResponse     = "BAD_RESPONSE"
)

// ErrProviderUnavailable marks a transport-level failure (timeout, refused
// connection, 5xx). The caller may retry.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// ProviderError is a definitive rejection reported by the provider.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider error %s: %s", e.Code, e.Message)
}

// Retryable reports whether err is a transient provider failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}
