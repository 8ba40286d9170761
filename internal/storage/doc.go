// Package storage provides SQLite-based persistence for the retrieval engine.
//
// The storage layer manages:
//   - Public records (protocol register entries) with an FTS5 title index
//   - Ingested documents and their chunks
//   - Vector embeddings for chunks and records
//   - Conversation memory (chat turns)
//   - Per-user data-processing consent
//
// # Scoping
//
// Every read takes a types.Scope. Rows belong to a tenant; documents and
// records may additionally carry an owner, in which case only that user sees
// them. An incomplete scope is rejected with types.ErrScopeRequired before
// any query runs.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("fusionrag.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	scope := types.Scope{TenantID: "comune-a", UserID: "u-1"}
//	recs, err := db.FindRecords(ctx, scope, types.RecordFilter{
//	    RecordTypes: []string{"delibera"},
//	    YearFrom:    2023,
//	})
//
// # Transactions
//
// Ingestion writes a document, its chunks and their embeddings atomically:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	_ = tx.UpsertDocument(ctx, doc)
//	_ = tx.DeleteDocumentChunks(ctx, doc.ID)
//	_ = tx.UpsertChunk(ctx, chunk)
//	_ = tx.UpsertEmbedding(ctx, embedding)
//
//	return tx.Commit()
//
// # Vectors
//
// Embeddings are stored as little-endian float32 blobs. EmbeddedPool returns
// the scoped items with their vectors; similarity ranking is done in Go by
// the ranker package.
//
// # Build Tags
//
// Pure Go build (default, or purego tag): modernc.org/sqlite.
//
// CGO build (sqlite_vec tag): github.com/mattn/go-sqlite3, which needs the
// fts5 tag as well:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,fts5"
package storage
