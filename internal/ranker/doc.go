// Package ranker scores pre-embedded candidates against a query vector.
//
// Rank computes cosine similarity between the query embedding and every
// candidate that carries a vector, drops candidates below the minimum
// similarity, and returns the best top-k as a RankedSet ordered by
// descending relevance. An empty result is not an error: callers treat it as
// the signal to run the keyword fallback.
package ranker
