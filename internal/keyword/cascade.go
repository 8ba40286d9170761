package keyword

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/fusionrag/internal/logging"
	"github.com/dshills/fusionrag/pkg/types"
)

// RecordSource is read-only, scope-confined access to public records
type RecordSource interface {
	FindRecords(ctx context.Context, scope types.Scope, filter types.RecordFilter) ([]types.Record, error)
	RecentRecords(ctx context.Context, scope types.Scope, n int) ([]types.Record, error)
}

// Stage is one matcher of the cascade. A stage that does not apply to the
// query returns no records and no error.
type Stage interface {
	Name() string
	Relevance() float64
	Search(ctx context.Context, src RecordSource, scope types.Scope, query string) ([]types.Record, error)
}

// Match is the outcome of a cascade run
type Match struct {
	Stage string // empty when no stage matched
	Set   types.RankedSet
}

// Cascade runs stages in order until one returns records
type Cascade struct {
	src    RecordSource
	stages []Stage
	log    *logging.Logger
}

// Options configures the default stage list
type Options struct {
	Vocabulary map[string]string // query term -> record type
	RecentN    int
	Limit      int // per-stage result cap
}

// DefaultStages returns the standard six-stage cascade
func DefaultStages(opts Options) []Stage {
	vocab := opts.Vocabulary
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	recent := opts.RecentN
	if recent <= 0 {
		recent = 5
	}
	return []Stage{
		IdentifierStage{},
		VocabularyStage{Vocabulary: vocab, Limit: limit},
		StatusStage{Limit: limit},
		YearStage{Limit: limit},
		TitleStage{Limit: limit},
		RecentStage{N: recent},
	}
}

// New creates a cascade over src. With no stages the default list is used.
func New(src RecordSource, log *logging.Logger, stages ...Stage) *Cascade {
	if len(stages) == 0 {
		stages = DefaultStages(Options{})
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Cascade{src: src, stages: stages, log: log.With("component", "keyword")}
}

// Search returns the records of the first matching stage as a ranked set
func (c *Cascade) Search(ctx context.Context, query string, scope types.Scope) (types.RankedSet, error) {
	m, err := c.SearchWithStage(ctx, query, scope)
	return m.Set, err
}

// SearchWithStage is Search that also reports which stage matched
func (c *Cascade) SearchWithStage(ctx context.Context, query string, scope types.Scope) (Match, error) {
	if err := scope.Validate(); err != nil {
		return Match{}, err
	}

	for _, st := range c.stages {
		if err := ctx.Err(); err != nil {
			return Match{}, err
		}

		start := time.Now()
		records, err := st.Search(ctx, c.src, scope, query)
		if err != nil {
			return Match{}, fmt.Errorf("keyword stage %s: %w", st.Name(), err)
		}
		if len(records) == 0 {
			continue
		}

		c.log.Debug("keyword stage matched",
			"stage", st.Name(),
			"records", len(records),
			"duration_ms", time.Since(start).Milliseconds())
		return Match{Stage: st.Name(), Set: toRankedSet(records, st)}, nil
	}
	return Match{}, nil
}

func toRankedSet(records []types.Record, st Stage) types.RankedSet {
	out := make([]types.Candidate, 0, len(records))
	for i, r := range records {
		rel := st.Relevance()
		if _, recent := st.(RecentStage); recent {
			rel = recencyRelevance(rel, i)
		}
		c, err := types.NewCandidate(types.CandidateSpec{
			Payload:    r.Payload(),
			Text:       r.Text(),
			Relevance:  rel,
			Metadata:   map[string]string{"source": "records", "match_stage": st.Name()},
			CitationID: r.CitationID(),
			CreatedAt:  r.CreatedAt,
		})
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return types.NewRankedSet(out)
}

// recencyRelevance decays the relevance of last-resort matches by position
func recencyRelevance(base float64, pos int) float64 {
	rel := base - 0.02*float64(pos)
	if rel < 0.05 {
		rel = 0.05
	}
	return rel
}
