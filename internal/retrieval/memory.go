package retrieval

import (
	"math"

	"github.com/dshills/fusionrag/internal/storage"
	"github.com/dshills/fusionrag/pkg/types"
)

// Conversation turns carry no similarity score; relevance decays with age
// from memoryBaseRelevance so memory supports but rarely outranks evidence.
const (
	memoryBaseRelevance = 0.6
	memoryDecay         = 0.85
)

// memorySet turns stored session turns (newest first) into chat candidates
func memorySet(turns []storage.ChatTurn) types.RankedSet {
	out := make([]types.Candidate, 0, len(turns))
	for i, t := range turns {
		c, err := types.NewCandidate(types.CandidateSpec{
			Payload:    types.ChatPayload{TurnID: t.ID, Role: t.Role},
			Text:       t.Content,
			Relevance:  memoryRelevance(i),
			CitationID: types.ChatCitationID(t.ID),
			CreatedAt:  t.CreatedAt,
			Metadata:   map[string]string{"source": "memory"},
		})
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return types.NewRankedSet(out)
}

func memoryRelevance(pos int) float64 {
	return memoryBaseRelevance * math.Pow(memoryDecay, float64(pos))
}

// userHistory returns the user turns oldest first, as persona history
func userHistory(turns []storage.ChatTurn) []string {
	var out []string
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == "user" {
			out = append(out, turns[i].Content)
		}
	}
	return out
}
