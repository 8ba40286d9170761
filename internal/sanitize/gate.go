package sanitize

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/fusionrag/internal/audit"
	"github.com/dshills/fusionrag/internal/logging"
	"github.com/dshills/fusionrag/pkg/types"
)

// Gate filters candidates against allow and deny field lists
type Gate struct {
	allow    map[string]struct{}
	deny     map[string]struct{}
	denyText []denyPattern
	emitter  audit.Emitter
	log      *logging.Logger
}

type denyPattern struct {
	field  string
	re     *regexp.Regexp // field assignment
	redact *regexp.Regexp // field assignment plus its value
}

// Record is a candidate that passed the gate
type Record struct {
	candidate types.Candidate
}

// Candidate returns the sanitized candidate
func (r Record) Candidate() types.Candidate { return r.candidate }

// NewGate builds a gate. A field in both lists is treated as denied.
func NewGate(allow, deny []string, emitter audit.Emitter, log *logging.Logger) (*Gate, error) {
	if len(deny) == 0 {
		return nil, errors.New("sanitize: deny-list must not be empty")
	}
	if emitter == nil {
		emitter = audit.Nop{}
	}
	if log == nil {
		log = logging.NewNop()
	}

	g := &Gate{
		allow:   make(map[string]struct{}, len(allow)),
		deny:    make(map[string]struct{}, len(deny)),
		emitter: emitter,
		log:     log.With("component", "sanitize"),
	}
	for _, f := range deny {
		f = normalizeField(f)
		if f == "" {
			continue
		}
		g.deny[f] = struct{}{}
		re := fieldAssignment(f)
		g.denyText = append(g.denyText, denyPattern{
			field:  f,
			re:     re,
			redact: regexp.MustCompile(re.String() + valueRun),
		})
	}
	for _, f := range allow {
		f = normalizeField(f)
		if _, denied := g.deny[f]; denied || f == "" {
			continue
		}
		g.allow[f] = struct{}{}
	}
	sort.Slice(g.denyText, func(i, j int) bool { return g.denyText[i].field < g.denyText[j].field })
	return g, nil
}

// valueRun is an assigned value: everything up to the next list separator
// or the end of the line.
const valueRun = `\s*[^,;\n]+`

// fieldAssignment matches "field: value", "field=value" and "\"field\": value"
// with the field as a whole word.
func fieldAssignment(field string) *regexp.Regexp {
	name := strings.ReplaceAll(regexp.QuoteMeta(field), "_", "[_ -]?")
	return regexp.MustCompile(`(?i)(^|[^a-z0-9_])["']?` + name + `["']?\s*[:=]`)
}

func normalizeField(f string) string {
	f = strings.ToLower(strings.TrimSpace(f))
	return strings.ReplaceAll(f, "-", "_")
}

// Denied reports whether field is on the deny-list
func (g *Gate) Denied(field string) bool {
	_, ok := g.deny[normalizeField(field)]
	return ok
}

// Allowed reports whether field may leave the trust boundary
func (g *Gate) Allowed(field string) bool {
	_, ok := g.allow[normalizeField(field)]
	return ok
}

// Sanitize checks a single candidate. Denied fields in metadata, payload or
// raw text fail with a *types.PrivacyViolationError; metadata keys that are
// not allow-listed are dropped.
func (g *Gate) Sanitize(c types.Candidate) (Record, error) {
	if violations := g.violations(c); len(violations) > 0 {
		return Record{}, &types.PrivacyViolationError{Fields: violations, CitationID: c.CitationID()}
	}

	md := c.Metadata()
	kept := make(map[string]string, len(md))
	for k, v := range md {
		if g.Allowed(k) {
			kept[k] = v
		}
	}
	return Record{candidate: c.WithMetadata(kept)}, nil
}

func (g *Gate) violations(c types.Candidate) []string {
	found := make(map[string]struct{})
	for _, name := range c.FieldNames() {
		if g.Denied(name) {
			found[normalizeField(name)] = struct{}{}
		}
	}
	text := c.Text()
	for _, p := range g.denyText {
		if p.re.MatchString(text) {
			found[p.field] = struct{}{}
		}
	}
	if len(found) == 0 {
		return nil
	}
	out := make([]string, 0, len(found))
	for f := range found {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SanitizeBatch checks every candidate and fails the whole batch on the first
// violation. Exactly one audit event is emitted per call.
func (g *Gate) SanitizeBatch(ctx context.Context, requestID string, candidates []types.Candidate) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	checked := make(map[string]struct{})
	out := make([]Record, 0, len(candidates))
	var violation *types.PrivacyViolationError

	for _, c := range candidates {
		for _, name := range c.FieldNames() {
			checked[name] = struct{}{}
		}
		rec, err := g.Sanitize(c)
		if err != nil {
			if !errors.As(err, &violation) {
				return nil, err
			}
			break
		}
		out = append(out, rec)
	}

	fields := make([]string, 0, len(checked))
	for f := range checked {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	event := map[string]any{
		"request_id":     requestID,
		"record_count":   len(candidates),
		"fields_checked": fields,
		"passed":         violation == nil,
	}
	if violation != nil {
		event["denied_fields"] = violation.Fields
		event["citation_id"] = violation.CitationID
		g.emitter.Emit(audit.EventPrivacyViolation, event)
		g.log.Error("privacy violation in retrieval batch",
			"request_id", requestID,
			"denied_fields", strings.Join(violation.Fields, ","),
			"citation_id", violation.CitationID)
		return nil, fmt.Errorf("sanitize batch: %w", violation)
	}
	g.emitter.Emit(audit.EventSanitizeBatch, event)
	return out, nil
}

// Context is a unified context whose every entry passed the gate
type Context struct {
	uc types.UnifiedContext
}

// SanitizeContext runs the batch check over a fused context and wraps it
func (g *Gate) SanitizeContext(ctx context.Context, requestID string, uc types.UnifiedContext) (Context, error) {
	records, err := g.SanitizeBatch(ctx, requestID, uc.Entries())
	if err != nil {
		return Context{}, err
	}
	entries := make([]types.Candidate, len(records))
	for i, r := range records {
		entries[i] = r.Candidate()
	}
	return Context{uc: types.NewUnifiedContext(entries, uc.SummaryText())}, nil
}

func (c Context) Entries() []types.Candidate    { return c.uc.Entries() }
func (c Context) Len() int                      { return c.uc.Len() }
func (c Context) TokenEstimate() int            { return c.uc.TokenEstimate() }
func (c Context) SummaryText() string           { return c.uc.SummaryText() }
func (c Context) Unified() types.UnifiedContext { return c.uc }

// Prefix returns the first n entries. Entries already passed the gate, so the
// prefix stays sanitized.
func (c Context) Prefix(n int) Context { return Context{uc: c.uc.Prefix(n)} }

// WithSummary replaces the summary text
func (c Context) WithSummary(summary string) Context {
	return Context{uc: c.uc.WithSummary(summary)}
}
