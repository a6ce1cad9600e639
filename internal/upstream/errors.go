package upstream

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for upstream failures. Retryability is carried per error so
// the client's backoff loop and the actor tiers' tallies agree on it.
const (
	CodeRateLimited = "rate_limited"
	CodeAuthFailed  = "auth_failed"
	CodeUnavailable = "unavailable"
	CodeTimeout     = "timeout"
	CodeQuery       = "query_error"
)

// APIError is a classified upstream failure.
type APIError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream %s: %s", e.Code, e.Message)
}

// ErrorCode extracts the classification code, or "unknown" for errors that
// did not come from the upstream client.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return "unknown"
}

// IsRetryable reports whether the error is worth another attempt.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

// The two recoverable query-error sub-cases: a field the token cannot
// request (retry with the reduced field set) and an analytics path the
// account tier cannot access (treat as an empty result).
func isMissingFieldError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeQuery &&
		strings.Contains(apiErr.Message, "cannot request field")
}

func isNoAccessError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeQuery &&
		(strings.Contains(apiErr.Message, "not entitled") ||
			strings.Contains(apiErr.Message, "path not available"))
}
