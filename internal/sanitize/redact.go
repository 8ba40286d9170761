package sanitize

import (
	"regexp"
	"strings"
)

// Redacted replaces private tokens in outbound query text
const Redacted = "[REDACTED]"

// valuePatterns recognise values of well-known denied fields even when the
// field name itself is absent from the text.
var valuePatterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`),
	"iban":        regexp.MustCompile(`(?i)\b[a-z]{2}[0-9]{2}[a-z0-9]{11,30}\b`),
	"tax_code":    regexp.MustCompile(`(?i)\b[a-z]{6}[0-9]{2}[a-z][0-9]{2}[a-z][0-9]{3}[a-z]\b`),
	"fiscal_code": regexp.MustCompile(`(?i)\b[a-z]{6}[0-9]{2}[a-z][0-9]{2}[a-z][0-9]{3}[a-z]\b`),
	"phone":       regexp.MustCompile(`(\+[0-9]{1,3}[ .\-]?)?\b[0-9]{3}[ .\-]?[0-9]{3}[ .\-]?[0-9]{3,4}\b`),
	"api_key":     regexp.MustCompile(`\b(sk|pk|jina)_[A-Za-z0-9_\-]{16,}\b`),
}

// RedactQuery removes deny-listed tokens from free text before it is sent to
// an external service. It returns the redacted text and the denied fields that
// were found, sorted.
func (g *Gate) RedactQuery(text string) (string, []string) {
	var hits []string
	out := text

	for _, p := range g.denyText {
		hit := false
		if p.redact.MatchString(out) {
			out = p.redact.ReplaceAllStringFunc(out, func(m string) string {
				return leadingBoundary(m) + Redacted
			})
			hit = true
		}
		// Bare values of the same field may appear anywhere else in the text
		if re, ok := valuePatterns[p.field]; ok && re.MatchString(out) {
			out = re.ReplaceAllString(out, Redacted)
			hit = true
		}
		if hit {
			hits = append(hits, p.field)
		}
	}
	return strings.Join(strings.Fields(out), " "), hits
}

// leadingBoundary keeps the separator consumed by the word-boundary group
func leadingBoundary(match string) string {
	if match == "" {
		return ""
	}
	switch c := match[0]; {
	case c == ' ', c == '\t', c == '\n', c == ',', c == ';', c == '(':
		return string(c)
	default:
		return ""
	}
}
