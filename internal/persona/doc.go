// Package persona classifies a query into one of a small fixed set of
// expertise domains.
//
// The selected persona parameterizes source weighting during fusion and adds
// a tone instruction to the prompt. Personas are immutable values built from
// configuration at startup; a Selector is safe for concurrent use.
package persona
