package types

import "sort"

// RankedSet is an ordered sequence of candidates, sorted by weighted score
// descending. Ties are broken by recency (newer first) and then by insertion
// order.
type RankedSet struct {
	entries []Candidate
}

// NewRankedSet orders candidates and wraps them in a RankedSet. The input
// slice is not modified.
func NewRankedSet(candidates []Candidate) RankedSet {
	entries := make([]Candidate, len(candidates))
	copy(entries, candidates)
	SortCandidates(entries)
	return RankedSet{entries: entries}
}

// SortCandidates sorts in place by weighted score, then recency, keeping
// insertion order for full ties.
func SortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		si, sj := c[i].WeightedScore(), c[j].WeightedScore()
		if si != sj {
			return si > sj
		}
		ti, tj := c[i].CreatedAt(), c[j].CreatedAt()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return false
	})
}

// Entries returns a copy of the ordered candidates
func (r RankedSet) Entries() []Candidate {
	out := make([]Candidate, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of candidates
func (r RankedSet) Len() int { return len(r.entries) }

// Empty reports whether the set has no candidates
func (r RankedSet) Empty() bool { return len(r.entries) == 0 }

// At returns the i-th candidate
func (r RankedSet) At(i int) Candidate { return r.entries[i] }

// Truncate returns a set holding at most n leading candidates
func (r RankedSet) Truncate(n int) RankedSet {
	if n < 0 {
		n = 0
	}
	if n >= len(r.entries) {
		return r
	}
	out := make([]Candidate, n)
	copy(out, r.entries[:n])
	return RankedSet{entries: out}
}
