package persona

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/dshills/fusionrag/internal/config"
	"github.com/dshills/fusionrag/pkg/types"
)

// ErrUnknownPersona is returned for an override naming no configured persona
var ErrUnknownPersona = errors.New("unknown persona")

// Persona is one expertise profile
type Persona struct {
	ID          string
	Description string
	Keywords    []string
	Weights     map[types.SourceType]float64
	Instruction string
}

// Options tunes classification
type Options struct {
	// CertainThreshold is the confidence at or above which no alternatives
	// are reported
	CertainThreshold float64
	MaxAlternatives  int
	// Fallback is chosen when no persona matches the query
	Fallback string
	// HistoryWeight scales keyword hits found in prior session turns
	HistoryWeight float64
}

// DefaultOptions returns the standard classification settings
func DefaultOptions() Options {
	return Options{
		CertainThreshold: 0.75,
		MaxAlternatives:  3,
		Fallback:         "general",
		HistoryWeight:    0.5,
	}
}

// Selector chooses a persona per query
type Selector struct {
	personas []Persona
	byID     map[string]int
	opts     Options
}

// NewSelector builds a selector from persona configs
func NewSelector(cfgs []config.PersonaConfig, opts Options) (*Selector, error) {
	if len(cfgs) == 0 {
		return nil, errors.New("persona: at least one persona is required")
	}
	def := DefaultOptions()
	if opts.CertainThreshold <= 0 || opts.CertainThreshold > 1 {
		opts.CertainThreshold = def.CertainThreshold
	}
	if opts.MaxAlternatives <= 0 {
		opts.MaxAlternatives = def.MaxAlternatives
	}
	if opts.HistoryWeight < 0 {
		opts.HistoryWeight = 0
	}

	s := &Selector{byID: make(map[string]int, len(cfgs)), opts: opts}
	for _, c := range cfgs {
		if _, dup := s.byID[c.ID]; dup {
			return nil, fmt.Errorf("persona: duplicate id %q", c.ID)
		}
		p := Persona{
			ID:          c.ID,
			Description: c.Description,
			Instruction: c.Instruction,
			Weights:     make(map[types.SourceType]float64, len(c.Weights)),
		}
		for _, kw := range c.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				p.Keywords = append(p.Keywords, kw)
			}
		}
		for src, w := range c.Weights {
			st := types.SourceType(src)
			if !st.Valid() {
				return nil, fmt.Errorf("persona %q: unknown source type %q", c.ID, src)
			}
			p.Weights[st] = w
		}
		s.byID[c.ID] = len(s.personas)
		s.personas = append(s.personas, p)
	}

	if s.opts.Fallback == "" {
		s.opts.Fallback = def.Fallback
	}
	if _, ok := s.byID[s.opts.Fallback]; !ok {
		s.opts.Fallback = s.personas[len(s.personas)-1].ID
	}
	return s, nil
}

// Get returns a persona by id
func (s *Selector) Get(id string) (Persona, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Persona{}, false
	}
	return s.personas[i], true
}

// IDs returns persona ids in configuration order
func (s *Selector) IDs() []string {
	ids := make([]string, len(s.personas))
	for i, p := range s.personas {
		ids[i] = p.ID
	}
	return ids
}

// Weights returns the source weights of a persona. Unknown ids and missing
// source types yield an empty map entry; fusion applies its own defaults.
func (s *Selector) Weights(id string) map[types.SourceType]float64 {
	out := make(map[types.SourceType]float64)
	if p, ok := s.Get(id); ok {
		for k, v := range p.Weights {
			out[k] = v
		}
	}
	return out
}

// Instruction returns the prompt instruction of a persona
func (s *Selector) Instruction(id string) string {
	p, _ := s.Get(id)
	return p.Instruction
}

// Select picks the persona for a query. A non-empty override wins with
// confidence 1.0 and no classification. history holds prior user turns of the
// session, most recent last.
func (s *Selector) Select(query, override string, history []string) (types.PersonaSelection, error) {
	if override = strings.TrimSpace(override); override != "" {
		if _, ok := s.byID[override]; !ok {
			return types.PersonaSelection{}, fmt.Errorf("%w: %w %q", types.ErrInvalidQuery, ErrUnknownPersona, override)
		}
		return types.NewPersonaSelection(override, 1.0, types.MethodManual, nil), nil
	}

	scores := s.classify(query, history)
	if len(scores) == 0 || scores[0].Confidence == 0 {
		return types.NewPersonaSelection(s.opts.Fallback, 0, types.MethodAuto, nil), nil
	}

	top := scores[0]
	var alts []types.PersonaScore
	if top.Confidence < s.opts.CertainThreshold {
		for _, sc := range scores[1:] {
			if sc.Confidence <= 0 || len(alts) == s.opts.MaxAlternatives {
				break
			}
			alts = append(alts, sc)
		}
	}
	return types.NewPersonaSelection(top.PersonaID, top.Confidence, types.MethodAuto, alts), nil
}

// classify returns every persona with a keyword signal, ordered by descending
// confidence then configuration order.
func (s *Selector) classify(query string, history []string) []types.PersonaScore {
	queryTokens := tokens(query)
	var historyTokens []string
	for _, h := range history {
		historyTokens = append(historyTokens, tokens(h)...)
	}

	hits := make([]float64, len(s.personas))
	var total float64
	for i, p := range s.personas {
		hits[i] = float64(countHits(p.Keywords, queryTokens)) +
			s.opts.HistoryWeight*float64(countHits(p.Keywords, historyTokens))
		total += hits[i]
	}
	if total == 0 {
		return nil
	}

	scores := make([]types.PersonaScore, 0, len(s.personas))
	for i, p := range s.personas {
		if hits[i] == 0 {
			continue
		}
		share := hits[i] / total
		scores = append(scores, types.PersonaScore{
			PersonaID:  p.ID,
			Confidence: round(share * saturation(hits[i])),
		})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Confidence > scores[j].Confidence
	})
	return scores
}

// saturation grows with the amount of evidence: one keyword hit gives 0.6,
// each further hit adds 0.15, capped at 1.
func saturation(h float64) float64 {
	if h < 1 {
		return 0.6 * h
	}
	v := 0.6 + 0.15*(h-1)
	if v > 1 {
		return 1
	}
	return v
}

func round(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}

// countHits counts distinct keywords that prefix at least one token
func countHits(keywords, toks []string) int {
	n := 0
	for _, kw := range keywords {
		for _, t := range toks {
			if strings.HasPrefix(t, kw) {
				n++
				break
			}
		}
	}
	return n
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
