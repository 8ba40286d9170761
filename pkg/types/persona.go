package types

import "encoding/json"

// SelectionMethod records how a persona was chosen
type SelectionMethod string

const (
	MethodAuto   SelectionMethod = "auto"
	MethodManual SelectionMethod = "manual"
)

// PersonaScore pairs a persona with a classification confidence
type PersonaScore struct {
	PersonaID  string  `json:"persona_id"`
	Confidence float64 `json:"confidence"`
}

// PersonaSelection is the persona chosen for one query. It is created once
// per query and is read-only afterwards.
type PersonaSelection struct {
	personaID    string
	confidence   float64
	method       SelectionMethod
	alternatives []PersonaScore
}

// NewPersonaSelection builds a selection, clamping confidence into [0,1]
func NewPersonaSelection(personaID string, confidence float64, method SelectionMethod, alternatives []PersonaScore) PersonaSelection {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	alts := make([]PersonaScore, len(alternatives))
	copy(alts, alternatives)
	return PersonaSelection{
		personaID:    personaID,
		confidence:   confidence,
		method:       method,
		alternatives: alts,
	}
}

func (p PersonaSelection) PersonaID() string       { return p.personaID }
func (p PersonaSelection) Confidence() float64     { return p.confidence }
func (p PersonaSelection) Method() SelectionMethod { return p.method }

// Alternatives returns a copy of the ranked alternatives
func (p PersonaSelection) Alternatives() []PersonaScore {
	out := make([]PersonaScore, len(p.alternatives))
	copy(out, p.alternatives)
	return out
}

// MarshalJSON renders the selection for API responses
func (p PersonaSelection) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PersonaID    string          `json:"persona_id"`
		Confidence   float64         `json:"confidence"`
		Method       SelectionMethod `json:"method"`
		Alternatives []PersonaScore  `json:"alternatives"`
	}{
		PersonaID:    p.personaID,
		Confidence:   p.confidence,
		Method:       p.method,
		Alternatives: p.Alternatives(),
	})
}
