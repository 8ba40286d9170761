package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Domain errors
var (
	// Candidate validation errors
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
	ErrInvalidWeight         = errors.New("source weight must be non-negative")
	ErrEmptyContent          = errors.New("content cannot be empty")
	ErrMissingPayload        = errors.New("candidate payload is required")
	ErrMissingCitation       = errors.New("citation id is required")

	// Request errors
	ErrInvalidQuery  = errors.New("invalid query")
	ErrScopeRequired = errors.New("tenant and user scope are required")

	// Fatal, request-terminating errors
	ErrConsentRequired  = errors.New("consent required")
	ErrPrivacyViolation = errors.New("privacy violation")
	ErrFatalProvider    = errors.New("fatal provider error")

	// Degraded, non-fatal outcome of rate-limit exhaustion
	ErrProviderExhausted = errors.New("provider exhausted")

	// ErrRateLimited marks a provider rejection that may succeed with less context
	ErrRateLimited = errors.New("rate limited")
)

// PrivacyViolationError reports denied fields found while sanitizing a batch
type PrivacyViolationError struct {
	Fields     []string // denied field names that were present
	CitationID string   // first offending candidate
}

func (e *PrivacyViolationError) Error() string {
	return fmt.Sprintf("privacy violation: denied fields %s in %s", strings.Join(e.Fields, ","), e.CitationID)
}

func (e *PrivacyViolationError) Unwrap() error {
	return ErrPrivacyViolation
}

// User-facing messages
const (
	MsgConsentRequired = "Consent for this kind of processing has not been given. Please grant consent and try again."
	MsgPrivacy         = "The request was blocked because it would have disclosed protected data."
	MsgOverloaded      = "The service is temporarily overloaded. Please try again later."
	MsgMisconfigured   = "The service is misconfigured. Please contact the administrator."
	MsgCancelled       = "The request was cancelled."
	MsgInvalidQuery    = "The request is missing required information."
	MsgGeneric         = "The request could not be completed."
)

// UserMessage maps an error from Retrieve to the message shown to end users.
// Rate-limit exhaustion and provider misconfiguration get distinct messages.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConsentRequired):
		return MsgConsentRequired
	case errors.Is(err, ErrPrivacyViolation):
		return MsgPrivacy
	case errors.Is(err, ErrProviderExhausted), errors.Is(err, ErrRateLimited):
		return MsgOverloaded
	case errors.Is(err, ErrFatalProvider):
		return MsgMisconfigured
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrScopeRequired):
		return MsgInvalidQuery
	case isCancellation(err):
		return MsgCancelled
	default:
		return MsgGeneric
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
