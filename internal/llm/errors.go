package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dshills/fusionrag/pkg/types"
)

// RateLimitError is a provider rejection that may succeed later or with a
// smaller request. The wait before the next attempt is the caller's policy.
type RateLimitError struct {
	err error
}

// NewRateLimitError wraps err as a rate-limit rejection
func NewRateLimitError(err error) error {
	return &RateLimitError{err: err}
}

func (e *RateLimitError) Error() string {
	if e.err == nil {
		return "rate limited"
	}
	return "rate limited: " + e.err.Error()
}

func (e *RateLimitError) Unwrap() error { return e.err }

// Is lets errors.Is(err, types.ErrRateLimited) match
func (e *RateLimitError) Is(target error) bool { return target == types.ErrRateLimited }

// FatalError is a provider failure that must not be retried
type FatalError struct {
	Reason string
	err    error
}

// NewFatalError wraps err as fatal
func NewFatalError(reason string, err error) error {
	return &FatalError{Reason: reason, err: err}
}

func (e *FatalError) Error() string {
	if e.err == nil {
		return "fatal provider error: " + e.Reason
	}
	return fmt.Sprintf("fatal provider error (%s): %v", e.Reason, e.err)
}

func (e *FatalError) Unwrap() error { return e.err }

// Is lets errors.Is(err, types.ErrFatalProvider) match
func (e *FatalError) Is(target error) bool { return target == types.ErrFatalProvider }

// IsRateLimit reports whether err is a rate-limit rejection
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsFatal reports whether err is a fatal provider error
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// quotaCodes mark permanently exhausted credit, even on HTTP 429
var quotaCodes = []string{"insufficient_quota", "insufficient_credits", "billing_hard_limit_reached", "credit"}

// ClassifyStatus maps an HTTP status and provider error code to a classified
// error wrapping err.
func ClassifyStatus(status int, code string, err error) error {
	code = strings.ToLower(code)
	for _, q := range quotaCodes {
		if code != "" && strings.Contains(code, q) {
			return NewFatalError("quota exhausted", err)
		}
	}

	switch status {
	case http.StatusTooManyRequests:
		return NewRateLimitError(err)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout, 529:
		// overloaded upstream; a smaller request may get through
		return NewRateLimitError(err)
	case http.StatusPaymentRequired:
		return NewFatalError("insufficient credits", err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewFatalError("authentication failed", err)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return NewFatalError("malformed request", err)
	default:
		return NewFatalError(fmt.Sprintf("status %d", status), err)
	}
}
