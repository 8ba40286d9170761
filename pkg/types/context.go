package types

// UnifiedContext is the single prompt-ready artifact built from every source
// for one request. Entries are ordered by weighted score; shrinking a context
// only ever drops trailing entries.
type UnifiedContext struct {
	entries       []Candidate
	tokenEstimate int
	summary       string
}

// NewUnifiedContext builds a context from already ordered entries
func NewUnifiedContext(entries []Candidate, summary string) UnifiedContext {
	out := make([]Candidate, len(entries))
	copy(out, entries)
	return UnifiedContext{entries: out, tokenEstimate: estimate(out, summary), summary: summary}
}

// estimate is the larger of the per-entry costs and the rendered summary
func estimate(entries []Candidate, summary string) int {
	tokens := 0
	for _, e := range entries {
		tokens += e.TokenCost()
	}
	return max(tokens, EstimateTokens(summary))
}

// Entries returns a copy of the ordered entries
func (u UnifiedContext) Entries() []Candidate {
	out := make([]Candidate, len(u.entries))
	copy(out, u.entries)
	return out
}

func (u UnifiedContext) Len() int            { return len(u.entries) }
func (u UnifiedContext) TokenEstimate() int  { return u.tokenEstimate }
func (u UnifiedContext) SummaryText() string { return u.summary }

// Prefix returns the first n entries as a new context. The summary must be
// re-rendered by the caller since it described the full entry list.
func (u UnifiedContext) Prefix(n int) UnifiedContext {
	if n < 0 {
		n = 0
	}
	if n > len(u.entries) {
		n = len(u.entries)
	}
	return NewUnifiedContext(u.entries[:n], "")
}

// WithSummary returns a copy of u carrying summary
func (u UnifiedContext) WithSummary(summary string) UnifiedContext {
	entries := u.Entries()
	return UnifiedContext{entries: entries, tokenEstimate: estimate(entries, summary), summary: summary}
}
