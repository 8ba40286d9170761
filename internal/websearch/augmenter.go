package websearch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/fusionrag/internal/audit"
	"github.com/dshills/fusionrag/internal/logging"
	"github.com/dshills/fusionrag/pkg/types"
)

// Redactor removes private tokens from outbound query text
type Redactor interface {
	RedactQuery(text string) (string, []string)
}

// Recorder observes cache outcomes; metrics implement it
type Recorder interface {
	WebCache(hit bool)
}

// Augmenter runs redacted, cached web searches
type Augmenter struct {
	provider Provider
	redactor Redactor
	cache    Cache
	group    singleflight.Group
	emitter  audit.Emitter
	recorder Recorder
	log      *logging.Logger
	timeout  time.Duration
}

// Option configures an Augmenter
type Option func(*Augmenter)

// WithEmitter sets the audit emitter
func WithEmitter(e audit.Emitter) Option { return func(a *Augmenter) { a.emitter = e } }

// WithRecorder sets the cache outcome recorder
func WithRecorder(r Recorder) Option { return func(a *Augmenter) { a.recorder = r } }

// WithTimeout bounds a single provider call
func WithTimeout(d time.Duration) Option { return func(a *Augmenter) { a.timeout = d } }

// NewAugmenter creates an augmenter. A nil cache disables caching.
func NewAugmenter(provider Provider, redactor Redactor, cache Cache, log *logging.Logger, opts ...Option) *Augmenter {
	if log == nil {
		log = logging.NewNop()
	}
	a := &Augmenter{
		provider: provider,
		redactor: redactor,
		cache:    cache,
		emitter:  audit.Nop{},
		log:      log.With("component", "websearch"),
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CacheKey is the cache key of a redacted query and persona
func CacheKey(sanitizedQuery, personaID string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(sanitizedQuery)))
	return hex.EncodeToString(sum[:]) + ":" + personaID
}

// Augment searches the web for query on behalf of personaID. Errors wrap
// ErrSearchFailed and are meant to be absorbed by the caller.
func (a *Augmenter) Augment(ctx context.Context, query, personaID string, maxResults int) (types.RankedSet, error) {
	sanitized, redacted := a.redactor.RedactQuery(query)
	if strings.TrimSpace(sanitized) == "" {
		return types.RankedSet{}, nil
	}
	key := CacheKey(sanitized, personaID)

	if a.cache != nil {
		if res, ok := a.cache.Get(ctx, key); ok {
			a.observe(key, personaID, redacted, true, len(res))
			return toRankedSet(res, true), nil
		}
	}

	ch := a.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		res, err := a.provider.Search(callCtx, sanitized, maxResults)
		if err != nil {
			return nil, err
		}
		if a.cache != nil {
			a.cache.Set(callCtx, key, res)
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return types.RankedSet{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			a.log.Warn("web search failed", "persona", personaID, "error", r.Err)
			return types.RankedSet{}, fmt.Errorf("%w: %v", ErrSearchFailed, r.Err)
		}
		res := r.Val.([]Result)
		a.observe(key, personaID, redacted, false, len(res))
		return toRankedSet(res, false), nil
	}
}

func (a *Augmenter) observe(key, personaID string, redacted []string, fromCache bool, n int) {
	if a.recorder != nil {
		a.recorder.WebCache(fromCache)
	}
	a.emitter.Emit(audit.EventWebSearch, map[string]any{
		"query_key":       key,
		"persona":         personaID,
		"redacted_fields": redacted,
		"from_cache":      fromCache,
		"results":         n,
	})
}

func toRankedSet(results []Result, fromCache bool) types.RankedSet {
	out := make([]types.Candidate, 0, len(results))
	for _, r := range results {
		text := strings.TrimSpace(r.Snippet)
		if text == "" {
			text = strings.TrimSpace(r.Title)
		}
		if text == "" || r.URL == "" {
			continue
		}
		c, err := types.NewCandidate(types.CandidateSpec{
			Payload:   types.WebPayload{URL: r.URL, Title: r.Title, FromCache: fromCache},
			Text:      text,
			Relevance: clampScore(r.Score),
			Metadata: map[string]string{
				"source":     "web",
				"from_cache": strconv.FormatBool(fromCache),
			},
			CitationID: citationID(r.URL),
		})
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return types.NewRankedSet(out)
}

func citationID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "web:" + hex.EncodeToString(sum[:6])
}

func clampScore(s float64) float64 {
	switch {
	case s < 0 || math.IsNaN(s):
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
