package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/fusionrag/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer; this also keeps ":memory:" databases
	// on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (or creates) the database at dbPath and migrates it
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) UpsertRecord(ctx context.Context, rec *types.Record) error {
	return t.storage.upsertRecordWithQuerier(ctx, t.tx, rec)
}

func (t *sqliteTx) UpsertDocument(ctx context.Context, doc *Document) error {
	return t.storage.upsertDocumentWithQuerier(ctx, t.tx, doc)
}

func (t *sqliteTx) DeleteDocumentChunks(ctx context.Context, documentID int64) error {
	return t.storage.deleteDocumentChunksWithQuerier(ctx, t.tx, documentID)
}

func (t *sqliteTx) UpsertChunk(ctx context.Context, chunk *Chunk) error {
	return t.storage.upsertChunkWithQuerier(ctx, t.tx, chunk)
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return t.storage.upsertEmbeddingWithQuerier(ctx, t.tx, embedding)
}

// Document operations

func (s *SQLiteStorage) upsertDocumentWithQuerier(ctx context.Context, q querier, doc *Document) error {
	if doc.TenantID == "" {
		return types.ErrScopeRequired
	}
	if doc.SourceURI == "" {
		return errors.New("document source uri is required")
	}

	query := `
		INSERT INTO documents (
			tenant_id, owner_id, title, source_uri, content_hash, chunk_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, source_uri)
		DO UPDATE SET
			owner_id = excluded.owner_id,
			title = excluded.title,
			content_hash = excluded.content_hash,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := s.now()
	err := q.QueryRowContext(ctx, query,
		doc.TenantID, doc.OwnerID, doc.Title, doc.SourceURI, doc.ContentHash[:],
		doc.ChunkCount, now, now,
	).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	return nil
}

// UpsertDocument inserts a document or updates the one with the same source URI
func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *Document) error {
	return s.upsertDocumentWithQuerier(ctx, s.db, doc)
}

// GetDocument looks a document up by its tenant and source URI
func (s *SQLiteStorage) GetDocument(ctx context.Context, tenantID, sourceURI string) (*Document, error) {
	query := `
		SELECT id, tenant_id, owner_id, title, source_uri, content_hash, chunk_count,
		       created_at, updated_at
		FROM documents
		WHERE tenant_id = ? AND source_uri = ?
	`
	doc := &Document{}
	var hash []byte
	err := s.db.QueryRowContext(ctx, query, tenantID, sourceURI).Scan(
		&doc.ID, &doc.TenantID, &doc.OwnerID, &doc.Title, &doc.SourceURI, &hash,
		&doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	copy(doc.ContentHash[:], hash)
	return doc, nil
}

func (s *SQLiteStorage) deleteDocumentChunksWithQuerier(ctx context.Context, q querier, documentID int64) error {
	// chunks_ad removes the matching embeddings
	if _, err := q.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// DeleteDocumentChunks removes every chunk and chunk embedding of a document
func (s *SQLiteStorage) DeleteDocumentChunks(ctx context.Context, documentID int64) error {
	return s.deleteDocumentChunksWithQuerier(ctx, s.db, documentID)
}

func (s *SQLiteStorage) upsertChunkWithQuerier(ctx context.Context, q querier, chunk *Chunk) error {
	query := `
		INSERT INTO chunks (
			document_id, position, content, content_hash, token_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, position)
		DO UPDATE SET
			content = excluded.content,
			content_hash = excluded.content_hash,
			token_count = excluded.token_count
		RETURNING id
	`
	now := s.now()
	err := q.QueryRowContext(ctx, query,
		chunk.DocumentID, chunk.Position, chunk.Content, chunk.ContentHash[:],
		chunk.TokenCount, now,
	).Scan(&chunk.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	chunk.CreatedAt = now
	return nil
}

// UpsertChunk inserts a chunk or replaces the one at the same position
func (s *SQLiteStorage) UpsertChunk(ctx context.Context, chunk *Chunk) error {
	return s.upsertChunkWithQuerier(ctx, s.db, chunk)
}

// ListChunksByDocument returns the chunks of a document in position order
func (s *SQLiteStorage) ListChunksByDocument(ctx context.Context, documentID int64) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, position, content, content_hash, token_count, created_at
		FROM chunks
		WHERE document_id = ?
		ORDER BY position
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*Chunk
	for rows.Next() {
		chunk := &Chunk{}
		var hash []byte
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Position, &chunk.Content,
			&hash, &chunk.TokenCount, &chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		copy(chunk.ContentHash[:], hash)
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// Embedding operations

func (s *SQLiteStorage) upsertEmbeddingWithQuerier(ctx context.Context, q querier, embedding *Embedding) error {
	if embedding.SourceType != types.SourceDocument && embedding.SourceType != types.SourceRecord {
		return fmt.Errorf("embeddings are not stored for source %q", embedding.SourceType)
	}

	query := `
		INSERT INTO embeddings (source_type, item_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_type, item_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model
		RETURNING id
	`
	now := s.now()
	err := q.QueryRowContext(ctx, query,
		string(embedding.SourceType), embedding.ItemID, embedding.Vector, embedding.Dimension,
		embedding.Provider, embedding.Model, now,
	).Scan(&embedding.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	embedding.CreatedAt = now
	return nil
}

// UpsertEmbedding stores the vector of a chunk or record
func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return s.upsertEmbeddingWithQuerier(ctx, s.db, embedding)
}

// Conversation memory

// AppendTurn stores one conversation message
func (s *SQLiteStorage) AppendTurn(ctx context.Context, turn *ChatTurn) error {
	if err := turn.Scope().Validate(); err != nil {
		return err
	}
	if turn.Role != "user" && turn.Role != "assistant" {
		return fmt.Errorf("invalid chat role %q", turn.Role)
	}

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_turns (tenant_id, user_id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, turn.TenantID, turn.UserID, turn.SessionID, turn.Role, turn.Content, turn.CreatedAt).Scan(&turn.ID)
	if err != nil {
		return fmt.Errorf("failed to append chat turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to n turns of the user, newest first. An empty
// sessionID spans every session of the user.
func (s *SQLiteStorage) RecentTurns(ctx context.Context, scope types.Scope, sessionID string, n int) ([]ChatTurn, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, session_id, role, content, created_at
		FROM chat_turns
		WHERE tenant_id = ? AND user_id = ? AND (? = '' OR session_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, scope.TenantID, scope.UserID, sessionID, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []ChatTurn
	for rows.Next() {
		var t ChatTurn
		if err := rows.Scan(&t.ID, &t.TenantID, &t.UserID, &t.SessionID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Consent

// GrantConsent records (or renews) the user's consent to data processing
func (s *SQLiteStorage) GrantConsent(ctx context.Context, scope types.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consents (tenant_id, user_id, granted_at, revoked_at)
		VALUES (?, ?, ?, NULL)
		ON CONFLICT(tenant_id, user_id) DO UPDATE SET
			granted_at = excluded.granted_at,
			revoked_at = NULL
	`, scope.TenantID, scope.UserID, s.now())
	if err != nil {
		return fmt.Errorf("failed to grant consent: %w", err)
	}
	return nil
}

// RevokeConsent withdraws the user's consent. Revoking twice is not an error.
func (s *SQLiteStorage) RevokeConsent(ctx context.Context, scope types.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE consents SET revoked_at = ?
		WHERE tenant_id = ? AND user_id = ? AND revoked_at IS NULL
	`, s.now(), scope.TenantID, scope.UserID)
	if err != nil {
		return fmt.Errorf("failed to revoke consent: %w", err)
	}
	return nil
}

// HasConsent reports whether the user currently has an active consent
func (s *SQLiteStorage) HasConsent(ctx context.Context, scope types.Scope) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM consents
		WHERE tenant_id = ? AND user_id = ? AND revoked_at IS NULL
	`, scope.TenantID, scope.UserID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check consent: %w", err)
	}
	return n > 0, nil
}

// Status

// GetStatus reports row counts for a tenant and the size of the database
func (s *SQLiteStorage) GetStatus(ctx context.Context, tenantID string) (*Status, error) {
	if tenantID == "" {
		return nil, types.ErrScopeRequired
	}
	status := &Status{TenantID: tenantID, BuildMode: BuildMode}

	counts := []struct {
		dst   *int
		query string
		args  int
	}{
		{&status.Records, "SELECT COUNT(*) FROM records WHERE tenant_id = ?", 1},
		{&status.Documents, "SELECT COUNT(*) FROM documents WHERE tenant_id = ?", 1},
		{&status.Chunks, `
			SELECT COUNT(*) FROM chunks c
			JOIN documents d ON c.document_id = d.id
			WHERE d.tenant_id = ?`, 1},
		{&status.Embeddings, `
			SELECT
				(SELECT COUNT(*) FROM embeddings e
				 JOIN chunks c ON e.source_type = 'document' AND e.item_id = c.id
				 JOIN documents d ON c.document_id = d.id
				 WHERE d.tenant_id = ?) +
				(SELECT COUNT(*) FROM embeddings e
				 JOIN records r ON e.source_type = 'record' AND e.item_id = r.id
				 WHERE r.tenant_id = ?)`, 2},
		{&status.ChatTurns, "SELECT COUNT(*) FROM chat_turns WHERE tenant_id = ?", 1},
		{&status.ConsentedUsers, "SELECT COUNT(*) FROM consents WHERE tenant_id = ? AND revoked_at IS NULL", 1},
	}
	for _, c := range counts {
		args := make([]interface{}, c.args)
		for i := range args {
			args[i] = tenantID
		}
		if err := s.db.QueryRowContext(ctx, c.query, args...).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to collect status: %w", err)
		}
	}

	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.Embeddings > 0,
		FTSIndexesBuilt:     true, // records_fts is created by the first migration
	}
	return status, nil
}
