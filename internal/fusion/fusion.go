package fusion

import (
	"github.com/dshills/fusionrag/internal/logging"
	"github.com/dshills/fusionrag/pkg/types"
)

// PersonaSource supplies per-persona weights and instructions
type PersonaSource interface {
	Weights(personaID string) map[types.SourceType]float64
	Instruction(personaID string) string
}

// DefaultWeights are the trust weights used when a persona does not set one
func DefaultWeights() map[types.SourceType]float64 {
	return map[types.SourceType]float64{
		types.SourceDocument:    1.0,
		types.SourceChatHistory: 0.8,
		types.SourceRecord:      0.5,
		types.SourceWeb:         0.6,
	}
}

// Engine fuses ranked sets
type Engine struct {
	base     map[types.SourceType]float64
	personas PersonaSource
	log      *logging.Logger
}

// NewEngine creates an engine. personas may be nil.
func NewEngine(personas PersonaSource, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.NewNop()
	}
	return &Engine{
		base:     DefaultWeights(),
		personas: personas,
		log:      log.With("component", "fusion"),
	}
}

// WeightsFor returns the effective source weights of a persona
func (e *Engine) WeightsFor(personaID string) map[types.SourceType]float64 {
	out := make(map[types.SourceType]float64, len(e.base))
	for k, v := range e.base {
		out[k] = v
	}
	if e.personas != nil {
		for k, v := range e.personas.Weights(personaID) {
			out[k] = v
		}
	}
	return out
}

// Fuse merges sets into a context whose token estimate never exceeds
// tokenBudget. The token cost of the summary framing is reserved first and
// every entry is costed in its rendered form, so the summary text fits the
// budget whenever the framing does.
func (e *Engine) Fuse(sets []types.RankedSet, persona types.PersonaSelection, tokenBudget int) types.UnifiedContext {
	weights := e.WeightsFor(persona.PersonaID())

	var merged []types.Candidate
	for _, set := range sets {
		for _, c := range set.Entries() {
			merged = append(merged, c.WithWeight(weights[c.SourceType()]))
		}
	}
	types.SortCandidates(merged)
	merged = dedupe(merged)

	budget := tokenBudget - e.frameTokens(persona)
	var (
		accepted []types.Candidate
		used     int
	)
	for _, c := range merged {
		cost := entryTokens(len(accepted)+1, c)
		if used+cost > budget {
			break
		}
		accepted = append(accepted, c)
		used += cost
	}

	e.log.Debug("context fused",
		"persona", persona.PersonaID(),
		"candidates", len(merged),
		"accepted", len(accepted),
		"tokens", used,
		"budget", tokenBudget)

	return types.NewUnifiedContext(accepted, e.Render(accepted, persona))
}

// dedupe keeps the first (highest ranked) occurrence of each citation
func dedupe(in []types.Candidate) []types.Candidate {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, c := range in {
		if _, dup := seen[c.CitationID()]; dup {
			continue
		}
		seen[c.CitationID()] = struct{}{}
		out = append(out, c)
	}
	return out
}
