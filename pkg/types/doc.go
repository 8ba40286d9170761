// Package types provides shared type definitions for the fusionrag retrieval engine.
//
// This package defines the data model that flows through every stage of a
// retrieval request: the incoming Query, the RetrievalCandidate produced by a
// ranking component, the RankedSet and UnifiedContext built from candidates,
// the PersonaSelection made for the query, and the DeliveryAttempt log kept by
// the adaptive delivery scheduler.
//
// # Immutability
//
// Candidate, PersonaSelection and UnifiedContext expose no mutation methods.
// Their fields are unexported and only readable through accessors; methods
// such as Candidate.WithWeight return a new value instead of modifying the
// receiver:
//
//	c, err := types.NewCandidate(types.CandidateSpec{
//	    Payload:    types.DocumentPayload{DocumentID: 7, ChunkID: 42, Title: "Regolamento"},
//	    Text:       "Art. 3 - ...",
//	    Relevance:  0.82,
//	    CitationID: types.DocumentCitationID(7, 0),
//	})
//	weighted := c.WithWeight(1.0) // c is unchanged
//
// # Source Payloads
//
// Each candidate carries exactly one Payload, resolved once at ingestion:
//
//   - RecordPayload: a structured public record (protocol number, type, flags)
//   - ChatPayload: a prior turn of the conversation
//   - DocumentPayload: a chunk of an ingested document
//   - WebPayload: a web search result
//
// Downstream code switches on the concrete payload type instead of
// re-inspecting loosely typed maps.
//
// # Errors
//
// The error taxonomy separates fatal conditions (ErrConsentRequired,
// ErrPrivacyViolation, ErrFatalProvider) from the degraded ErrProviderExhausted
// outcome. UserMessage maps each to the message shown to end users.
package types
