package types

import "fmt"

// Citation identifies one source that was delivered to the model
type Citation struct {
	ID         string     `json:"id"`
	Marker     int        `json:"marker"` // 1-based position in the delivered context
	SourceType SourceType `json:"source_type"`
	Title      string     `json:"title,omitempty"`
	URL        string     `json:"url,omitempty"`
	Score      float64    `json:"score"` // weighted score at fusion time
}

// CitationsFor builds the citation list of an ordered slice of entries
func CitationsFor(entries []Candidate) []Citation {
	out := make([]Citation, 0, len(entries))
	for i, e := range entries {
		c := Citation{
			ID:         e.CitationID(),
			Marker:     i + 1,
			SourceType: e.SourceType(),
			Title:      e.Title(),
			Score:      e.WeightedScore(),
		}
		if w, ok := e.Payload().(WebPayload); ok {
			c.URL = w.URL
		}
		out = append(out, c)
	}
	return out
}

// RetrievalResponse is the result of a Retrieve call
type RetrievalResponse struct {
	RequestID string            `json:"request_id"`
	Text      string            `json:"text"`
	Sources   []Citation        `json:"sources"`
	Persona   PersonaSelection  `json:"persona"`
	Usage     Usage             `json:"usage"`
	Degraded  bool              `json:"degraded"`
	Notices   []string          `json:"notices,omitempty"` // reduced coverage and fallback annotations
	Attempts  []DeliveryAttempt `json:"attempts"`
}

// Degradation notices attached to responses
const (
	NoticeEmbeddingUnavailable = "semantic search unavailable, keyword fallback used"
	NoticeWebSearchFailed      = "web search unavailable, answered from internal sources only"
	NoticeMemoryUnavailable    = "conversation history unavailable"
	NoticeProviderExhausted    = "provider rate limit exhausted"
	NoticeNoEvidence           = "no supporting evidence found"
)

// DocumentCitationID is the stable citation of a document chunk
func DocumentCitationID(documentID int64, position int) string {
	return fmt.Sprintf("doc:%d#%d", documentID, position)
}

// ChatCitationID is the stable citation of a conversation turn
func ChatCitationID(turnID int64) string {
	return fmt.Sprintf("chat:%d", turnID)
}
