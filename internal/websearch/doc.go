// Package websearch augments internal evidence with external web results.
//
// The Augmenter redacts the query through the sanitization gate before any
// network call, then consults a TTL cache keyed by the hash of the redacted
// query and the persona id. Concurrent misses for the same key share one
// provider call. Cache hits are flagged with from_cache=true on every
// returned candidate.
//
// Provider failures are soft: Augment returns ErrSearchFailed and callers
// continue with internal sources only.
package websearch
