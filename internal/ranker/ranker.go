package ranker

import (
	"math"

	"github.com/dshills/fusionrag/pkg/types"
)

// Item is a candidate waiting to be scored. Spec.Relevance is ignored and
// replaced by the computed similarity.
type Item struct {
	Spec   types.CandidateSpec
	Vector []float32
}

// CosineSimilarity returns dot(a,b)/(|a||b|). Zero-norm vectors and vectors of
// different dimensions score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rank scores pool against query and keeps at most topK candidates with
// similarity >= minSimilarity. topK <= 0 means no limit. Items without a
// vector, or that cannot form a valid candidate, are skipped.
func Rank(query []float32, pool []Item, minSimilarity float64, topK int) types.RankedSet {
	if len(query) == 0 || len(pool) == 0 {
		return types.RankedSet{}
	}

	scored := make([]types.Candidate, 0, len(pool))
	for _, item := range pool {
		if len(item.Vector) == 0 {
			continue
		}
		sim := clamp(CosineSimilarity(query, item.Vector))
		if sim < minSimilarity {
			continue
		}

		spec := item.Spec
		spec.Relevance = sim
		spec.Weight = 0
		c, err := types.NewCandidate(spec)
		if err != nil {
			continue
		}
		scored = append(scored, c)
	}

	set := types.NewRankedSet(scored)
	if topK > 0 {
		set = set.Truncate(topK)
	}
	return set
}

// clamp maps cosine similarity into the relevance range [0,1]
func clamp(sim float64) float64 {
	switch {
	case math.IsNaN(sim), sim < 0:
		return 0
	case sim > 1:
		return 1
	default:
		return sim
	}
}
