package keyword

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/dshills/fusionrag/pkg/types"
)

var protocolPattern = regexp.MustCompile(`\b(\d{1,7})\s*/\s*((?:19|20)\d{2})\b`)

// IdentifierStage matches exact protocol numbers
type IdentifierStage struct{}

func (IdentifierStage) Name() string       { return "identifier" }
func (IdentifierStage) Relevance() float64 { return 1.0 }

func (IdentifierStage) Search(ctx context.Context, src RecordSource, scope types.Scope, query string) ([]types.Record, error) {
	number, ok := ParseProtocolNumber(query)
	if !ok {
		return nil, nil
	}
	return src.FindRecords(ctx, scope, types.RecordFilter{ProtocolNumber: number, Limit: 1})
}

// ParseProtocolNumber extracts the normalized protocol number from text
func ParseProtocolNumber(text string) (string, bool) {
	m := protocolPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return types.NormalizeProtocolNumber(m[1] + "/" + m[2]), true
}

// DefaultVocabulary maps query terms to the controlled record types
func DefaultVocabulary() map[string]string {
	return map[string]string{
		"delibera": "delibera", "delibere": "delibera", "deliberazione": "delibera", "deliberazioni": "delibera",
		"determina": "determina", "determine": "determina", "determinazione": "determina", "determinazioni": "determina",
		"ordinanza": "ordinanza", "ordinanze": "ordinanza",
		"decreto": "decreto", "decreti": "decreto",
		"avviso": "avviso", "avvisi": "avviso",
		"bando": "bando", "bandi": "bando",
		"contratto": "contratto", "contratti": "contratto",
		"regolamento": "regolamento", "regolamenti": "regolamento",
		"resolution": "delibera", "resolutions": "delibera",
		"ordinance": "ordinanza", "ordinances": "ordinanza",
		"decree": "decreto", "decrees": "decreto",
		"notice": "avviso", "notices": "avviso",
		"tender": "bando", "tenders": "bando",
		"contract": "contratto", "contracts": "contratto",
		"regulation": "regolamento", "regulations": "regolamento",
	}
}

// VocabularyStage matches controlled record types named in the query
type VocabularyStage struct {
	Vocabulary map[string]string
	Limit      int
}

func (VocabularyStage) Name() string       { return "vocabulary" }
func (VocabularyStage) Relevance() float64 { return 0.8 }

func (s VocabularyStage) Search(ctx context.Context, src RecordSource, scope types.Scope, query string) ([]types.Record, error) {
	seen := make(map[string]struct{})
	var recordTypes []string
	for _, tok := range tokenize(query) {
		if rt, ok := s.Vocabulary[tok]; ok {
			if _, dup := seen[rt]; !dup {
				seen[rt] = struct{}{}
				recordTypes = append(recordTypes, rt)
			}
		}
	}
	if len(recordTypes) == 0 {
		return nil, nil
	}
	sort.Strings(recordTypes)
	return src.FindRecords(ctx, scope, types.RecordFilter{RecordTypes: recordTypes, Limit: s.Limit})
}

// StatusStage matches the certified and anchored flags
type StatusStage struct {
	Limit int
}

func (StatusStage) Name() string       { return "status" }
func (StatusStage) Relevance() float64 { return 0.7 }

func (s StatusStage) Search(ctx context.Context, src RecordSource, scope types.Scope, query string) ([]types.Record, error) {
	var filter types.RecordFilter
	yes := true
	for _, tok := range tokenize(query) {
		switch {
		case strings.HasPrefix(tok, "certificat"), tok == "certified":
			filter.Certified = &yes
		case strings.HasPrefix(tok, "ancorat"), tok == "anchored", tok == "blockchain":
			filter.Anchored = &yes
		}
	}
	if filter.Certified == nil && filter.Anchored == nil {
		return nil, nil
	}
	filter.Limit = s.Limit
	return src.FindRecords(ctx, scope, filter)
}

var (
	yearRangePattern = regexp.MustCompile(`(?i)\b((?:19|20)\d{2})\s*(?:-|–|al|a|to|and|e|until|fino al)\s*(?:il\s+)?((?:19|20)\d{2})\b`)
	yearPattern      = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
)

// YearStage matches a single year or a year range
type YearStage struct {
	Limit int
}

func (YearStage) Name() string       { return "year" }
func (YearStage) Relevance() float64 { return 0.6 }

func (s YearStage) Search(ctx context.Context, src RecordSource, scope types.Scope, query string) ([]types.Record, error) {
	from, to, ok := ParseYearRange(query)
	if !ok {
		return nil, nil
	}
	return src.FindRecords(ctx, scope, types.RecordFilter{YearFrom: from, YearTo: to, Limit: s.Limit})
}

// ParseYearRange finds "2019-2021", "dal 2019 al 2021" or a single year
func ParseYearRange(text string) (from, to int, ok bool) {
	if m := yearRangePattern.FindStringSubmatch(text); m != nil {
		from, _ = strconv.Atoi(m[1])
		to, _ = strconv.Atoi(m[2])
		if from > to {
			from, to = to, from
		}
		return from, to, true
	}
	if m := yearPattern.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		return y, y, true
	}
	return 0, 0, false
}

// TitleStage AND-matches the remaining query terms against record titles
type TitleStage struct {
	Limit    int
	MaxTerms int
}

func (TitleStage) Name() string       { return "title" }
func (TitleStage) Relevance() float64 { return 0.5 }

func (s TitleStage) Search(ctx context.Context, src RecordSource, scope types.Scope, query string) ([]types.Record, error) {
	terms := ContentTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	max := s.MaxTerms
	if max <= 0 {
		max = 6
	}
	if len(terms) > max {
		terms = terms[:max]
	}
	return src.FindRecords(ctx, scope, types.RecordFilter{TitleTerms: terms, Limit: s.Limit})
}

// RecentStage returns the most recent records as a last resort
type RecentStage struct {
	N int
}

func (RecentStage) Name() string       { return "recent" }
func (RecentStage) Relevance() float64 { return 0.3 }

func (s RecentStage) Search(ctx context.Context, src RecordSource, scope types.Scope, _ string) ([]types.Record, error) {
	if s.N <= 0 {
		return nil, nil
	}
	return src.RecentRecords(ctx, scope, s.N)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContentTerms returns the distinct query terms that survive stop-word
// removal, in query order. Numbers and terms shorter than three letters are
// dropped.
func ContentTerms(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range tokenize(text) {
		if len([]rune(tok)) < 3 || isNumber(tok) {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
