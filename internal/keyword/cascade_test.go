package keyword

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fusionrag/pkg/types"
)

// memSource filters an in-memory record list and records every call
type memSource struct {
	records []types.Record
	filters []types.RecordFilter
	recent  int
	err     error
}

func (m *memSource) FindRecords(_ context.Context, scope types.Scope, f types.RecordFilter) ([]types.Record, error) {
	m.filters = append(m.filters, f)
	if m.err != nil {
		return nil, m.err
	}
	var out []types.Record
	for _, r := range m.records {
		if !inScope(r, scope) || !matches(r, f) {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *memSource) RecentRecords(_ context.Context, scope types.Scope, n int) ([]types.Record, error) {
	m.recent++
	var out []types.Record
	for _, r := range m.records {
		if inScope(r, scope) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func inScope(r types.Record, s types.Scope) bool {
	return r.TenantID == s.TenantID && (r.OwnerID == "" || r.OwnerID == s.UserID)
}

func matches(r types.Record, f types.RecordFilter) bool {
	if f.ProtocolNumber != "" && r.ProtocolNumber != f.ProtocolNumber {
		return false
	}
	if len(f.RecordTypes) > 0 {
		ok := false
		for _, t := range f.RecordTypes {
			ok = ok || t == r.RecordType
		}
		if !ok {
			return false
		}
	}
	if f.Certified != nil && r.Certified != *f.Certified {
		return false
	}
	if f.Anchored != nil && r.Anchored != *f.Anchored {
		return false
	}
	if f.YearFrom > 0 && r.Year < f.YearFrom {
		return false
	}
	if f.YearTo > 0 && r.Year > f.YearTo {
		return false
	}
	for _, term := range f.TitleTerms {
		if !strings.Contains(strings.ToLower(r.Title), term) {
			return false
		}
	}
	return true
}

func fixture() *memSource {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &memSource{records: []types.Record{
		{ID: 1, TenantID: "t1", ProtocolNumber: "1234/2024", RecordType: "determina", Title: "Affidamento servizio mensa scolastica", Year: 2024, CreatedAt: base},
		{ID: 2, TenantID: "t1", ProtocolNumber: "88/2023", RecordType: "delibera", Title: "Approvazione bilancio di previsione", Year: 2023, Certified: true, CreatedAt: base.Add(-24 * time.Hour)},
		{ID: 3, TenantID: "t1", ProtocolNumber: "12/2021", RecordType: "ordinanza", Title: "Chiusura strade per lavori", Year: 2021, Anchored: true, CreatedAt: base.Add(-48 * time.Hour)},
		{ID: 4, TenantID: "t1", OwnerID: "u2", ProtocolNumber: "9/2024", RecordType: "avviso", Title: "Avviso riservato", Year: 2024, CreatedAt: base.Add(time.Hour)},
		{ID: 5, TenantID: "t2", ProtocolNumber: "1234/2024", RecordType: "delibera", Title: "Altro ente", Year: 2024, CreatedAt: base},
	}}
}

var scope = types.Scope{TenantID: "t1", UserID: "u1"}

func TestCascade_IdentifierWins(t *testing.T) {
	src := fixture()
	c := New(src, nil)

	m, err := c.SearchWithStage(context.Background(), "protocollo 1234/2024", scope)
	require.NoError(t, err)

	assert.Equal(t, "identifier", m.Stage)
	require.Equal(t, 1, m.Set.Len())
	got := m.Set.At(0)
	assert.Equal(t, "record:1", got.CitationID())
	assert.Equal(t, 1.0, got.Relevance())
	assert.Equal(t, types.SourceRecord, got.SourceType())

	require.Len(t, src.filters, 1, "stages after the identifier match must not run")
	assert.Equal(t, "1234/2024", src.filters[0].ProtocolNumber)
	assert.Zero(t, src.recent)
}

func TestCascade_StageOrder(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantStage string
		wantIDs   []string
	}{
		{"identifier with leading zeros", "prot. 0088/2023", "identifier", []string{"record:2"}},
		{"vocabulary type", "mostrami le ordinanze", "vocabulary", []string{"record:3"}},
		{"unknown identifier falls through to year", "protocollo 555/2021", "year", []string{"record:3"}},
		{"status flag", "atti certificati", "status", []string{"record:2"}},
		{"anchored flag", "registrazioni su blockchain", "status", []string{"record:3"}},
		{"year range", "dal 2022 al 2023", "year", []string{"record:2"}},
		{"title and-match", "servizio mensa", "title", []string{"record:1"}},
		{"recent fallback", "qualcosa di completamente diverso", "recent", []string{"record:1", "record:2", "record:3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(fixture(), nil)
			m, err := c.SearchWithStage(context.Background(), tt.query, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStage, m.Stage)

			var ids []string
			for _, e := range m.Set.Entries() {
				ids = append(ids, e.CitationID())
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestCascade_NeverLeavesScope(t *testing.T) {
	c := New(fixture(), nil)

	m, err := c.SearchWithStage(context.Background(), "avviso riservato", scope)
	require.NoError(t, err)
	for _, e := range m.Set.Entries() {
		assert.NotEqual(t, "record:4", e.CitationID(), "record owned by another user leaked")
		assert.NotEqual(t, "record:5", e.CitationID(), "record of another tenant leaked")
	}

	_, err = c.Search(context.Background(), "protocollo 1234/2024", types.Scope{TenantID: "t1"})
	assert.ErrorIs(t, err, types.ErrScopeRequired)
}

func TestCascade_SourceErrorIsWrapped(t *testing.T) {
	src := fixture()
	src.err = errors.New("db locked")
	c := New(src, nil)

	_, err := c.Search(context.Background(), "delibere", scope)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyword stage vocabulary")
}

func TestCascade_EmptyStoreReturnsEmptySet(t *testing.T) {
	c := New(&memSource{}, nil)
	set, err := c.Search(context.Background(), "bilancio", scope)
	require.NoError(t, err)
	assert.True(t, set.Empty())
}

func TestCascade_CustomStages(t *testing.T) {
	src := fixture()
	c := New(src, nil, TitleStage{Limit: 5}, RecentStage{N: 1})

	m, err := c.SearchWithStage(context.Background(), "protocollo 1234/2024", scope)
	require.NoError(t, err)
	assert.Equal(t, "recent", m.Stage)
	assert.Equal(t, 1, m.Set.Len())
}

func TestRecentRelevanceDecays(t *testing.T) {
	c := New(fixture(), nil, RecentStage{N: 3})
	set, err := c.Search(context.Background(), "x", scope)
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())
	for i := 0; i+1 < set.Len(); i++ {
		assert.Greater(t, set.At(i).Relevance(), set.At(i+1).Relevance())
	}
}
