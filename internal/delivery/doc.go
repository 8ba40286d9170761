// Package delivery drives the LLM call with a context that shrinks on every
// rate-limit rejection.
//
// The scheduler is a small state machine:
//
//	INITIAL -> ATTEMPTING -> SUCCESS
//	                      -> BACKOFF -> ATTEMPTING
//	                      -> EXHAUSTED
//	                      -> FAILED
//
// The first attempt sends min(entries, SoftCap) entries. Each rate-limited
// attempt halves the limit (never below MinLimit) and sleeps
// min(BaseDelay + Step*attempt, MaxDelay) before retrying. A rejection at
// MinLimit, or one past MaxRetries, ends in EXHAUSTED: a degraded result, not
// an error. Fatal provider errors end in FAILED without retrying. The limit
// never grows, and total sleep is bounded by MaxRetries*MaxDelay.
//
// Deliver only accepts a sanitize.Context, so nothing reaches the provider
// without passing the sanitization gate.
package delivery
