package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/fusionrag/internal/keyword"
	"github.com/dshills/fusionrag/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	scopeA      = types.Scope{TenantID: "comune-a", UserID: "u-1"}
	scopeAOther = types.Scope{TenantID: "comune-a", UserID: "u-2"}
	scopeB      = types.Scope{TenantID: "comune-b", UserID: "u-1"}
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)

	// Deterministic, strictly increasing clock
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	storage.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func boolPtr(b bool) *bool { return &b }

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)

	v, err := SchemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fusionrag.db")

	first, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer second.Close()

	var applied int
	require.NoError(t, second.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&applied))
	assert.Equal(t, len(AllMigrations), applied)
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))
	v, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	v, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestUpsertRecord(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	rec := &types.Record{
		TenantID:       "comune-a",
		ProtocolNumber: "123/2024",
		RecordType:     "delibera",
		Title:          "Approvazione bilancio",
		Year:           2024,
	}
	require.NoError(t, storage.UpsertRecord(ctx, rec))
	assert.Greater(t, rec.ID, int64(0))
	originalID := rec.ID

	// Same protocol number updates in place
	again := &types.Record{
		TenantID:       "comune-a",
		ProtocolNumber: "123/2024",
		RecordType:     "delibera",
		Title:          "Approvazione bilancio consuntivo",
		Year:           2024,
		Certified:      true,
	}
	require.NoError(t, storage.UpsertRecord(ctx, again))
	assert.Equal(t, originalID, again.ID)

	got, err := storage.GetRecord(ctx, scopeA, originalID)
	require.NoError(t, err)
	assert.Equal(t, "Approvazione bilancio consuntivo", got.Title)
	assert.True(t, got.Certified)
	assert.Equal(t, "123/2024", got.ProtocolNumber)

	// Records without a protocol number never collide
	a := &types.Record{TenantID: "comune-a", Title: "Avviso senza numero"}
	b := &types.Record{TenantID: "comune-a", Title: "Avviso senza numero"}
	require.NoError(t, storage.UpsertRecord(ctx, a))
	require.NoError(t, storage.UpsertRecord(ctx, b))
	assert.NotEqual(t, a.ID, b.ID)

	// Same protocol number in another tenant is a different record
	other := &types.Record{TenantID: "comune-b", ProtocolNumber: "123/2024", Title: "Altro"}
	require.NoError(t, storage.UpsertRecord(ctx, other))
	assert.NotEqual(t, originalID, other.ID)
}

func TestUpsertRecord_NormalizesProtocolNumber(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	padded := &types.Record{TenantID: "comune-a", ProtocolNumber: " 0042/2024 ", Title: "Ordinanza viabilita", Year: 2024}
	require.NoError(t, storage.UpsertRecord(ctx, padded))
	assert.Equal(t, "42/2024", padded.ProtocolNumber)

	// The unpadded form is the same record
	plain := &types.Record{TenantID: "comune-a", ProtocolNumber: "42/2024", Title: "Ordinanza viabilita rettificata", Year: 2024}
	require.NoError(t, storage.UpsertRecord(ctx, plain))
	assert.Equal(t, padded.ID, plain.ID)

	cascade := keyword.New(storage, nil)
	for _, q := range []string{"protocollo 0042/2024", "protocollo 42/2024"} {
		match, err := cascade.SearchWithStage(ctx, q, scopeA)
		require.NoError(t, err)
		assert.Equal(t, "identifier", match.Stage, q)
		require.Equal(t, 1, match.Set.Len(), q)
	}

	found, err := storage.FindRecords(ctx, scopeA, types.RecordFilter{ProtocolNumber: "0042/2024"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, padded.ID, found[0].ID)
}

func TestUpsertRecord_Invalid(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	err := storage.UpsertRecord(ctx, &types.Record{Title: "no tenant"})
	assert.ErrorIs(t, err, types.ErrScopeRequired)

	err = storage.UpsertRecord(ctx, &types.Record{TenantID: "comune-a", Title: "  "})
	assert.ErrorIs(t, err, types.ErrEmptyContent)
}

func TestGetRecord_Scope(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	private := &types.Record{TenantID: "comune-a", OwnerID: "u-1", Title: "Pratica personale"}
	require.NoError(t, storage.UpsertRecord(ctx, private))

	_, err := storage.GetRecord(ctx, scopeA, private.ID)
	require.NoError(t, err)

	_, err = storage.GetRecord(ctx, scopeAOther, private.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = storage.GetRecord(ctx, scopeB, private.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = storage.GetRecord(ctx, types.Scope{TenantID: "comune-a"}, private.ID)
	assert.ErrorIs(t, err, types.ErrScopeRequired)
}

func seedRecords(t *testing.T, storage *SQLiteStorage) {
	t.Helper()
	ctx := context.Background()
	recs := []types.Record{
		{TenantID: "comune-a", ProtocolNumber: "1/2022", RecordType: "delibera", Title: "Approvazione bilancio di previsione", Year: 2022, Certified: true},
		{TenantID: "comune-a", ProtocolNumber: "2/2023", RecordType: "determina", Title: "Affidamento servizio mensa scolastica", Year: 2023},
		{TenantID: "comune-a", ProtocolNumber: "3/2023", RecordType: "ordinanza", Title: "Chiusura strada comunale", Year: 2023, Anchored: true},
		{TenantID: "comune-a", ProtocolNumber: "4/2024", RecordType: "delibera", Title: "Variazione bilancio esercizio", Year: 2024, Certified: true, Anchored: true},
		{TenantID: "comune-a", OwnerID: "u-2", ProtocolNumber: "5/2024", RecordType: "delibera", Title: "Bilancio riservato", Year: 2024},
		{TenantID: "comune-b", ProtocolNumber: "6/2024", RecordType: "delibera", Title: "Bilancio altro comune", Year: 2024},
	}
	for i := range recs {
		require.NoError(t, storage.UpsertRecord(ctx, &recs[i]))
	}
}

func protocols(recs []types.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ProtocolNumber
	}
	return out
}

func TestFindRecords(t *testing.T) {
	storage := setupTestDB(t)
	seedRecords(t, storage)
	ctx := context.Background()

	tests := []struct {
		name   string
		scope  types.Scope
		filter types.RecordFilter
		want   []string
	}{
		{
			name:   "protocol number",
			scope:  scopeA,
			filter: types.RecordFilter{ProtocolNumber: "3/2023"},
			want:   []string{"3/2023"},
		},
		{
			name:   "record types newest first",
			scope:  scopeA,
			filter: types.RecordFilter{RecordTypes: []string{"delibera"}},
			want:   []string{"4/2024", "1/2022"},
		},
		{
			name:   "owner sees private record",
			scope:  scopeAOther,
			filter: types.RecordFilter{RecordTypes: []string{"delibera"}},
			want:   []string{"5/2024", "4/2024", "1/2022"},
		},
		{
			name:   "certified and anchored",
			scope:  scopeA,
			filter: types.RecordFilter{Certified: boolPtr(true), Anchored: boolPtr(true)},
			want:   []string{"4/2024"},
		},
		{
			name:   "not certified",
			scope:  scopeA,
			filter: types.RecordFilter{Certified: boolPtr(false)},
			want:   []string{"3/2023", "2/2023"},
		},
		{
			name:   "year range",
			scope:  scopeA,
			filter: types.RecordFilter{YearFrom: 2023, YearTo: 2023},
			want:   []string{"3/2023", "2/2023"},
		},
		{
			name:   "title terms all required",
			scope:  scopeA,
			filter: types.RecordFilter{TitleTerms: []string{"bilancio", "previsione"}},
			want:   []string{"1/2022"},
		},
		{
			name:   "title term prefix",
			scope:  scopeA,
			filter: types.RecordFilter{TitleTerms: []string{"bilanc"}},
			want:   []string{"4/2024", "1/2022"},
		},
		{
			name:   "quotes in terms are ignored",
			scope:  scopeA,
			filter: types.RecordFilter{TitleTerms: []string{`"mensa`}},
			want:   []string{"2/2023"},
		},
		{
			name:   "limit",
			scope:  scopeA,
			filter: types.RecordFilter{Limit: 1},
			want:   []string{"4/2024"},
		},
		{
			name:   "other tenant",
			scope:  scopeB,
			filter: types.RecordFilter{TitleTerms: []string{"bilancio"}},
			want:   []string{"6/2024"},
		},
		{
			name:   "no match",
			scope:  scopeA,
			filter: types.RecordFilter{ProtocolNumber: "99/2020"},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := storage.FindRecords(ctx, tt.scope, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, protocols(recs))
		})
	}
}

func TestFindRecords_ScopeRequired(t *testing.T) {
	storage := setupTestDB(t)
	_, err := storage.FindRecords(context.Background(), types.Scope{UserID: "u-1"}, types.RecordFilter{})
	assert.ErrorIs(t, err, types.ErrScopeRequired)
}

func TestRecentRecords(t *testing.T) {
	storage := setupTestDB(t)
	seedRecords(t, storage)
	ctx := context.Background()

	recs, err := storage.RecentRecords(ctx, scopeA, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"4/2024", "3/2023"}, protocols(recs))

	recs, err = storage.RecentRecords(ctx, scopeA, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDocumentsAndChunks(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	doc := &Document{
		TenantID:    "comune-a",
		Title:       "Regolamento edilizio",
		SourceURI:   "file:///regolamento.txt",
		ContentHash: [32]byte{1},
		ChunkCount:  2,
	}
	require.NoError(t, storage.UpsertDocument(ctx, doc))
	assert.Greater(t, doc.ID, int64(0))

	for i, content := range []string{"Articolo 1", "Articolo 2"} {
		c := &Chunk{DocumentID: doc.ID, Position: i, Content: content, ContentHash: [32]byte{byte(i + 1)}, TokenCount: 3}
		require.NoError(t, storage.UpsertChunk(ctx, c))
		require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{
			SourceType: types.SourceDocument, ItemID: c.ID,
			Vector: SerializeVector([]float32{1, 0}), Dimension: 2, Provider: "local", Model: "test",
		}))
	}

	got, err := storage.GetDocument(ctx, "comune-a", "file:///regolamento.txt")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, [32]byte{1}, got.ContentHash)

	_, err = storage.GetDocument(ctx, "comune-b", "file:///regolamento.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	chunks, err := storage.ListChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Articolo 1", chunks[0].Content)
	assert.Equal(t, 1, chunks[1].Position)

	status, err := storage.GetStatus(ctx, "comune-a")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Embeddings)

	// Deleting chunks also removes their embeddings
	require.NoError(t, storage.DeleteDocumentChunks(ctx, doc.ID))
	chunks, err = storage.ListChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	status, err = storage.GetStatus(ctx, "comune-a")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Embeddings)
	assert.Equal(t, 1, status.Documents)
}

func TestUpsertEmbedding_UnsupportedSource(t *testing.T) {
	storage := setupTestDB(t)
	err := storage.UpsertEmbedding(context.Background(), &Embedding{SourceType: types.SourceWeb, ItemID: 1})
	assert.Error(t, err)
}

func TestBeginTx_CommitRollback(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertRecord(ctx, &types.Record{TenantID: "comune-a", ProtocolNumber: "7/2024", Title: "Rolled back"}))
	require.NoError(t, tx.Rollback())

	recs, err := storage.FindRecords(ctx, scopeA, types.RecordFilter{ProtocolNumber: "7/2024"})
	require.NoError(t, err)
	assert.Empty(t, recs)

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	doc := &Document{TenantID: "comune-a", Title: "Doc", SourceURI: "mem://doc"}
	require.NoError(t, tx.UpsertDocument(ctx, doc))
	require.NoError(t, tx.UpsertChunk(ctx, &Chunk{DocumentID: doc.ID, Content: "testo", ContentHash: [32]byte{9}}))
	require.NoError(t, tx.Commit())

	chunks, err := storage.ListChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestChatTurns(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	turns := []ChatTurn{
		{TenantID: "comune-a", UserID: "u-1", SessionID: "s1", Role: "user", Content: "prima domanda"},
		{TenantID: "comune-a", UserID: "u-1", SessionID: "s1", Role: "assistant", Content: "prima risposta"},
		{TenantID: "comune-a", UserID: "u-1", SessionID: "s2", Role: "user", Content: "altra sessione"},
		{TenantID: "comune-a", UserID: "u-2", SessionID: "s1", Role: "user", Content: "altro utente"},
	}
	for i := range turns {
		require.NoError(t, storage.AppendTurn(ctx, &turns[i]))
		assert.Greater(t, turns[i].ID, int64(0))
	}

	got, err := storage.RecentTurns(ctx, scopeA, "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "prima risposta", got[0].Content)
	assert.Equal(t, "prima domanda", got[1].Content)

	got, err = storage.RecentTurns(ctx, scopeA, "", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "altra sessione", got[0].Content)

	err = storage.AppendTurn(ctx, &ChatTurn{TenantID: "comune-a", UserID: "u-1", Role: "system", Content: "x"})
	assert.Error(t, err)

	err = storage.AppendTurn(ctx, &ChatTurn{TenantID: "comune-a", Role: "user", Content: "x"})
	assert.ErrorIs(t, err, types.ErrScopeRequired)
}

func TestConsent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	ok, err := storage.HasConsent(ctx, scopeA)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, storage.GrantConsent(ctx, scopeA))
	ok, err = storage.HasConsent(ctx, scopeA)
	require.NoError(t, err)
	assert.True(t, ok)

	// Consent is per user
	ok, err = storage.HasConsent(ctx, scopeAOther)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, storage.RevokeConsent(ctx, scopeA))
	require.NoError(t, storage.RevokeConsent(ctx, scopeA))
	ok, err = storage.HasConsent(ctx, scopeA)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, storage.GrantConsent(ctx, scopeA))
	ok, err = storage.HasConsent(ctx, scopeA)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = storage.HasConsent(ctx, types.Scope{})
	assert.ErrorIs(t, err, types.ErrScopeRequired)
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	seedRecords(t, storage)
	ctx := context.Background()

	require.NoError(t, storage.GrantConsent(ctx, scopeA))
	require.NoError(t, storage.AppendTurn(ctx, &ChatTurn{TenantID: "comune-a", UserID: "u-1", Role: "user", Content: "ciao"}))

	status, err := storage.GetStatus(ctx, "comune-a")
	require.NoError(t, err)
	assert.Equal(t, 5, status.Records)
	assert.Equal(t, 1, status.ChatTurns)
	assert.Equal(t, 1, status.ConsentedUsers)
	assert.Equal(t, BuildMode, status.BuildMode)
	assert.True(t, status.Health.DatabaseAccessible)
	assert.False(t, status.Health.EmbeddingsAvailable)

	_, err = storage.GetStatus(ctx, "")
	assert.ErrorIs(t, err, types.ErrScopeRequired)
}
