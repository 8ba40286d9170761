package llm

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// LimitedProvider gates every call to the wrapped provider through one
// shared token bucket.
type LimitedProvider struct {
	next    Provider
	limiter *rate.Limiter
}

// NewLimitedProvider allows requestsPerSecond calls with the given burst.
// A non-positive rate disables limiting.
func NewLimitedProvider(next Provider, requestsPerSecond float64, burst int) *LimitedProvider {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &LimitedProvider{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (p *LimitedProvider) Complete(ctx context.Context, prompt, contextText string) (Completion, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Completion{}, ctxErr
		}
		// the wait would outlast the caller's deadline
		return Completion{}, NewRateLimitError(errors.New("local rate limit: " + err.Error()))
	}
	return p.next.Complete(ctx, prompt, contextText)
}
