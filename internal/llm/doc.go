// Package llm is the client side of the completion provider.
//
// Every provider error is classified as either a *RateLimitError, which the
// delivery scheduler answers by shrinking the context and retrying, or a
// *FatalError, which ends the request immediately. Credit or quota
// exhaustion is fatal even when the provider reports it with HTTP 429.
//
// LimitedProvider puts one token bucket in front of a provider so that all
// concurrent requests share the outbound rate instead of backing off
// independently.
package llm
