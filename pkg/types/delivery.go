package types

import (
	"encoding/json"
	"time"
)

// AttemptOutcome is the result of a single LLM delivery attempt
type AttemptOutcome string

const (
	OutcomeSuccess     AttemptOutcome = "success"
	OutcomeRateLimited AttemptOutcome = "rate_limited"
	OutcomeFatalError  AttemptOutcome = "fatal_error"
)

// DeliveryAttempt is one entry of a request's append-only delivery log.
// Across a log, ContextSize never increases.
type DeliveryAttempt struct {
	AttemptNumber int
	ContextSize   int
	DelayBefore   time.Duration
	Outcome       AttemptOutcome
}

// MarshalJSON renders the delay in milliseconds
func (a DeliveryAttempt) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AttemptNumber int            `json:"attempt_number"`
		ContextSize   int            `json:"context_size"`
		DelayBeforeMS int64          `json:"delay_before_ms"`
		Outcome       AttemptOutcome `json:"outcome"`
	}{a.AttemptNumber, a.ContextSize, a.DelayBefore.Milliseconds(), a.Outcome})
}

// Usage reports token consumption of a completion
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
