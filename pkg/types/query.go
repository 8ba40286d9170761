package types

import (
	"fmt"
	"strings"
)

// Query is a single natural-language retrieval request. It is passed by value
// and never modified once a request starts.
type Query struct {
	Text            string
	TenantID        string
	UserID          string
	SessionID       string
	PersonaOverride string // empty when the persona should be classified
	UseWebSearch    bool
}

// Scope is the tenant/user boundary every store read is confined to.
type Scope struct {
	TenantID string
	UserID   string
}

// Scope returns the storage scope of the query
func (q Query) Scope() Scope {
	return Scope{TenantID: q.TenantID, UserID: q.UserID}
}

// HasPersonaOverride reports whether the caller chose a persona manually
func (q Query) HasPersonaOverride() bool {
	return strings.TrimSpace(q.PersonaOverride) != ""
}

// Validate checks the fields required to run a retrieval
func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: text is empty", ErrInvalidQuery)
	}
	if q.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidQuery)
	}
	if q.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidQuery)
	}
	return nil
}

// Validate checks that the scope is fully specified
func (s Scope) Validate() error {
	if s.TenantID == "" || s.UserID == "" {
		return ErrScopeRequired
	}
	return nil
}
