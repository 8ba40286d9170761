package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Record is a structured public-record entry (a protocol register line)
type Record struct {
	ID             int64
	TenantID       string
	OwnerID        string // user the record is visible to; empty means tenant-wide
	ProtocolNumber string // normalized "<number>/<year>"
	RecordType     string
	Title          string
	Body           string
	Year           int
	Certified      bool
	Anchored       bool
	CreatedAt      time.Time
}

// Validate checks the fields required to store a record
func (r *Record) Validate() error {
	if r.TenantID == "" {
		return ErrScopeRequired
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("record title: %w", ErrEmptyContent)
	}
	return nil
}

var protocolNumberPattern = regexp.MustCompile(`^(\d+)\s*/\s*(\d{4})$`)

// NormalizeProtocolNumber returns the canonical "<number>/<year>" form:
// surrounding space and the number's leading zeros are dropped. Values that
// are not a number over a year are only trimmed.
func NormalizeProtocolNumber(s string) string {
	s = strings.TrimSpace(s)
	m := protocolNumberPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	number := strings.TrimLeft(m[1], "0")
	if number == "" {
		number = "0"
	}
	return number + "/" + m[2]
}

// Text is the content used for embedding and prompting
func (r Record) Text() string {
	if r.Body == "" {
		return r.Title
	}
	return r.Title + "\n" + r.Body
}

// CitationID is the stable citation of the record
func (r Record) CitationID() string {
	return fmt.Sprintf("record:%d", r.ID)
}

// Payload returns the candidate payload describing the record
func (r Record) Payload() RecordPayload {
	return RecordPayload{
		RecordID:       r.ID,
		ProtocolNumber: r.ProtocolNumber,
		RecordType:     r.RecordType,
		Title:          r.Title,
		Year:           r.Year,
		Certified:      r.Certified,
		Anchored:       r.Anchored,
	}
}

// RecordFilter selects records inside a scope. Zero-valued fields do not
// constrain the result; set fields are combined with AND.
type RecordFilter struct {
	ProtocolNumber string
	RecordTypes    []string // any of
	Certified      *bool
	Anchored       *bool
	YearFrom       int
	YearTo         int
	TitleTerms     []string // every term must appear in the title
	Limit          int
}

// IsZero reports whether the filter has no constraint at all
func (f RecordFilter) IsZero() bool {
	return f.ProtocolNumber == "" && len(f.RecordTypes) == 0 && f.Certified == nil &&
		f.Anchored == nil && f.YearFrom == 0 && f.YearTo == 0 && len(f.TitleTerms) == 0
}
