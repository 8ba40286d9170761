package types

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// SourceType identifies which knowledge source produced a candidate
type SourceType string

const (
	SourceRecord      SourceType = "record"
	SourceChatHistory SourceType = "chat_history"
	SourceDocument    SourceType = "document"
	SourceWeb         SourceType = "web"
)

// AllSourceTypes lists every source type in display order
var AllSourceTypes = []SourceType{SourceDocument, SourceChatHistory, SourceRecord, SourceWeb}

// Valid reports whether s is a known source type
func (s SourceType) Valid() bool {
	switch s {
	case SourceRecord, SourceChatHistory, SourceDocument, SourceWeb:
		return true
	default:
		return false
	}
}

// Payload is the source-specific body of a candidate. Only the payload types
// declared in this package implement it.
type Payload interface {
	// SourceType returns the source the payload belongs to
	SourceType() SourceType

	// Fields returns the payload attributes that may be shown to the model
	Fields() map[string]string

	isPayload()
}

// RecordPayload is a structured public record (protocol register entry)
type RecordPayload struct {
	RecordID       int64
	ProtocolNumber string
	RecordType     string
	Title          string
	Year           int
	Certified      bool
	Anchored       bool
}

func (RecordPayload) SourceType() SourceType { return SourceRecord }
func (RecordPayload) isPayload()             {}

// Fields implements Payload
func (p RecordPayload) Fields() map[string]string {
	f := map[string]string{
		"record_id": strconv.FormatInt(p.RecordID, 10),
		"title":     p.Title,
	}
	if p.ProtocolNumber != "" {
		f["protocol_number"] = p.ProtocolNumber
	}
	if p.RecordType != "" {
		f["record_type"] = p.RecordType
	}
	if p.Year > 0 {
		f["year"] = strconv.Itoa(p.Year)
	}
	f["certified"] = strconv.FormatBool(p.Certified)
	f["anchored"] = strconv.FormatBool(p.Anchored)
	return f
}

// ChatPayload is a prior conversational turn
type ChatPayload struct {
	TurnID int64
	Role   string // "user" or "assistant"
}

func (ChatPayload) SourceType() SourceType { return SourceChatHistory }
func (ChatPayload) isPayload()             {}

// Fields implements Payload
func (p ChatPayload) Fields() map[string]string {
	return map[string]string{
		"turn_id": strconv.FormatInt(p.TurnID, 10),
		"role":    p.Role,
	}
}

// DocumentPayload is a chunk of an ingested document
type DocumentPayload struct {
	DocumentID int64
	ChunkID    int64
	Title      string
	Position   int // chunk index within the document
}

func (DocumentPayload) SourceType() SourceType { return SourceDocument }
func (DocumentPayload) isPayload()             {}

// Fields implements Payload
func (p DocumentPayload) Fields() map[string]string {
	return map[string]string{
		"document_id": strconv.FormatInt(p.DocumentID, 10),
		"chunk_id":    strconv.FormatInt(p.ChunkID, 10),
		"title":       p.Title,
		"position":    strconv.Itoa(p.Position),
	}
}

// WebPayload is a web search result
type WebPayload struct {
	URL       string
	Title     string
	FromCache bool
}

func (WebPayload) SourceType() SourceType { return SourceWeb }
func (WebPayload) isPayload()             {}

// Fields implements Payload
func (p WebPayload) Fields() map[string]string {
	return map[string]string{
		"url":        p.URL,
		"title":      p.Title,
		"from_cache": strconv.FormatBool(p.FromCache),
	}
}

// CandidateSpec carries the construction arguments of a Candidate
type CandidateSpec struct {
	Payload    Payload
	Text       string
	Relevance  float64
	Weight     float64 // zero means 1.0
	Metadata   map[string]string
	CitationID string
	CreatedAt  time.Time
}

// Candidate is a single piece of retrieved evidence. It is produced by exactly
// one ranking component and has no mutating methods.
type Candidate struct {
	payload   Payload
	text      string
	relevance float64
	weight    float64
	metadata  map[string]string
	citation  string
	createdAt time.Time
}

// NewCandidate validates spec and builds a Candidate from it
func NewCandidate(spec CandidateSpec) (Candidate, error) {
	if spec.Payload == nil {
		return Candidate{}, ErrMissingPayload
	}
	if spec.Relevance < 0 || spec.Relevance > 1 {
		return Candidate{}, fmt.Errorf("%w: got %f", ErrInvalidRelevanceScore, spec.Relevance)
	}
	if spec.Weight < 0 {
		return Candidate{}, fmt.Errorf("%w: got %f", ErrInvalidWeight, spec.Weight)
	}
	if spec.Text == "" {
		return Candidate{}, ErrEmptyContent
	}
	if spec.CitationID == "" {
		return Candidate{}, ErrMissingCitation
	}

	weight := spec.Weight
	if weight == 0 {
		weight = 1.0
	}

	return Candidate{
		payload:   spec.Payload,
		text:      spec.Text,
		relevance: spec.Relevance,
		weight:    weight,
		metadata:  cloneMetadata(spec.Metadata),
		citation:  spec.CitationID,
		createdAt: spec.CreatedAt,
	}, nil
}

// MustCandidate is NewCandidate for statically known inputs; it panics on error
func MustCandidate(spec CandidateSpec) Candidate {
	c, err := NewCandidate(spec)
	if err != nil {
		panic(err)
	}
	return c
}

// SourceType returns the source of the candidate
func (c Candidate) SourceType() SourceType {
	if c.payload == nil {
		return ""
	}
	return c.payload.SourceType()
}

func (c Candidate) Payload() Payload            { return c.payload }
func (c Candidate) Text() string                { return c.text }
func (c Candidate) Relevance() float64          { return c.relevance }
func (c Candidate) Weight() float64             { return c.weight }
func (c Candidate) CitationID() string          { return c.citation }
func (c Candidate) CreatedAt() time.Time        { return c.createdAt }
func (c Candidate) WeightedScore() float64      { return c.relevance * c.weight }
func (c Candidate) Metadata() map[string]string { return cloneMetadata(c.metadata) }

// MetadataValue returns a single metadata value
func (c Candidate) MetadataValue(key string) (string, bool) {
	v, ok := c.metadata[key]
	return v, ok
}

// FieldNames returns the sorted union of metadata keys and payload field names
func (c Candidate) FieldNames() []string {
	seen := make(map[string]struct{}, len(c.metadata)+8)
	for k := range c.metadata {
		seen[k] = struct{}{}
	}
	if c.payload != nil {
		for k := range c.payload.Fields() {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Title returns a display title taken from the payload, if it has one
func (c Candidate) Title() string {
	switch p := c.payload.(type) {
	case RecordPayload:
		return p.Title
	case DocumentPayload:
		return p.Title
	case WebPayload:
		return p.Title
	default:
		return ""
	}
}

// TokenCost is the estimated number of prompt tokens the candidate occupies
// once rendered, including its title and citation marker.
func (c Candidate) TokenCost() int {
	return EstimateTokens(c.text) + EstimateTokens(c.Title()) + EstimateTokens(c.citation) + citationOverheadTokens
}

// WithWeight returns a copy of c carrying the given source weight
func (c Candidate) WithWeight(w float64) Candidate {
	out := c
	out.weight = w
	out.metadata = cloneMetadata(c.metadata)
	return out
}

// WithMetadata returns a copy of c whose metadata is replaced by md
func (c Candidate) WithMetadata(md map[string]string) Candidate {
	out := c
	out.metadata = cloneMetadata(md)
	return out
}

func cloneMetadata(md map[string]string) map[string]string {
	if md == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// citationOverheadTokens accounts for the "[n] (source)" marker rendered per entry
const citationOverheadTokens = 4

// EstimateTokens estimates the token count of s with the chars/4 heuristic.
// Non-empty text always costs at least one token.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}
