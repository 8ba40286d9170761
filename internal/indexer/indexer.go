package indexer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/fusionrag/internal/audit"
	"github.com/dshills/fusionrag/internal/chunker"
	"github.com/dshills/fusionrag/internal/embedder"
	"github.com/dshills/fusionrag/internal/logging"
	"github.com/dshills/fusionrag/internal/storage"
	"github.com/dshills/fusionrag/pkg/types"
)

// Errors returned by the indexer
var (
	ErrIngestInProgress = errors.New("ingest already in progress for tenant")
	ErrInvalidDocument  = errors.New("invalid document")
)

// Indexer coordinates the ingestion pipeline: chunk -> embed -> store
type Indexer struct {
	chunker  *chunker.Chunker
	storage  storage.Storage
	embedder embedder.Embedder
	audit    audit.Emitter
	log      *logging.Logger
	locks    *tenantLocks
	recorder Recorder
}

// Recorder observes stored items; metrics implement it
type Recorder interface {
	Ingested(kind string, n int)
}

// Config contains configuration for a single ingest run
type Config struct {
	Workers   int // Number of documents processed concurrently (default: runtime.NumCPU())
	BatchSize int // Texts per embedding request (default: embedder.DefaultBatchSize)
}

// DocumentInput is a document submitted for ingestion
type DocumentInput struct {
	OwnerID   string // empty makes the document visible to the whole tenant
	Title     string
	SourceURI string // identifies the document within the tenant; re-ingesting replaces it
	Content   string
}

// Statistics contains statistics about an ingest run
type Statistics struct {
	DocumentsIndexed  int
	DocumentsSkipped  int
	DocumentsFailed   int
	RecordsIndexed    int
	ChunksCreated     int
	EmbeddingsCreated int
	Duration          time.Duration
	ErrorMessages     []string
}

// counters are shared by the workers of one run
type counters struct {
	indexed, skipped, failed, records, chunks, embeddings atomic.Int32

	mu     sync.Mutex
	errors []string
}

func (c *counters) fail(key string, err error) {
	c.failed.Add(1)
	c.mu.Lock()
	c.errors = append(c.errors, fmt.Sprintf("%s: %v", key, err))
	c.mu.Unlock()
}

func (c *counters) statistics(start time.Time) *Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]string, len(c.errors))
	copy(msgs, c.errors)
	return &Statistics{
		DocumentsIndexed:  int(c.indexed.Load()),
		DocumentsSkipped:  int(c.skipped.Load()),
		DocumentsFailed:   int(c.failed.Load()),
		RecordsIndexed:    int(c.records.Load()),
		ChunksCreated:     int(c.chunks.Load()),
		EmbeddingsCreated: int(c.embeddings.Load()),
		Duration:          time.Since(start),
		ErrorMessages:     msgs,
	}
}

// New creates a new Indexer. emb may be nil, in which case content is stored
// without embeddings and only reachable through keyword search.
func New(store storage.Storage, emb embedder.Embedder, log *logging.Logger, emitter audit.Emitter) *Indexer {
	if log == nil {
		log = logging.NewNop()
	}
	if emitter == nil {
		emitter = audit.Nop{}
	}
	return &Indexer{
		chunker:  chunker.New(chunker.DefaultMaxTokens),
		storage:  store,
		embedder: emb,
		audit:    emitter,
		log:      log,
		locks:    newTenantLocks(),
	}
}

// WithChunker replaces the default chunker
func (idx *Indexer) WithChunker(c *chunker.Chunker) *Indexer {
	idx.chunker = c
	return idx
}

// WithRecorder reports ingested documents and records to r
func (idx *Indexer) WithRecorder(r Recorder) *Indexer {
	idx.recorder = r
	return idx
}

func (idx *Indexer) record(kind string, n int) {
	if idx.recorder != nil {
		idx.recorder.Ingested(kind, n)
	}
}

func normalizeConfig(config *Config) Config {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > embedder.MaxBatchSize {
		cfg.BatchSize = embedder.DefaultBatchSize
	}
	return cfg
}

// IndexDocuments ingests documents for a tenant. Documents whose content and
// title are unchanged since the last ingest are skipped. A failing document is
// reported in Statistics.ErrorMessages and does not stop the others.
func (idx *Indexer) IndexDocuments(ctx context.Context, tenantID string, docs []DocumentInput, config *Config) (*Statistics, error) {
	if tenantID == "" {
		return nil, types.ErrScopeRequired
	}
	lock := idx.locks.get(tenantID)
	if !lock.TryAcquire() {
		return nil, ErrIngestInProgress
	}
	defer lock.Release()

	cfg := normalizeConfig(config)
	start := time.Now()
	c := &counters{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range docs {
		doc := docs[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := idx.indexDocument(gctx, tenantID, doc, cfg, c); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.fail(doc.SourceURI, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := c.statistics(start)
	idx.log.Info("documents ingested",
		"tenant_id", tenantID,
		"indexed", stats.DocumentsIndexed,
		"skipped", stats.DocumentsSkipped,
		"failed", stats.DocumentsFailed,
		"chunks", stats.ChunksCreated,
		"duration_ms", stats.Duration.Milliseconds())
	idx.audit.Emit(audit.EventIngest, map[string]any{
		"tenant_id":  tenantID,
		"kind":       "documents",
		"indexed":    stats.DocumentsIndexed,
		"skipped":    stats.DocumentsSkipped,
		"failed":     stats.DocumentsFailed,
		"chunks":     stats.ChunksCreated,
		"embeddings": stats.EmbeddingsCreated,
	})
	idx.record("documents", stats.DocumentsIndexed)
	return stats, nil
}

// indexDocument runs the pipeline for one document and commits it in a
// single transaction, so readers never see a half-replaced document.
func (idx *Indexer) indexDocument(ctx context.Context, tenantID string, in DocumentInput, cfg Config, c *counters) error {
	if strings.TrimSpace(in.SourceURI) == "" {
		return fmt.Errorf("%w: source uri is required", ErrInvalidDocument)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = in.SourceURI
	}
	hash := sha256.Sum256([]byte(in.Content))

	shouldSkip, err := idx.checkDocumentChanged(ctx, tenantID, in.SourceURI, title, hash)
	if err != nil {
		return err
	}
	if shouldSkip {
		c.skipped.Add(1)
		return nil
	}

	chunks, err := idx.chunker.Chunk(0, in.Content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vectors, err := idx.embedTexts(ctx, texts, cfg.BatchSize)
	if err != nil {
		return err
	}

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	doc := &storage.Document{
		TenantID:    tenantID,
		OwnerID:     in.OwnerID,
		Title:       title,
		SourceURI:   in.SourceURI,
		ContentHash: hash,
		ChunkCount:  len(chunks),
	}
	if err := tx.UpsertDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	if err := tx.DeleteDocumentChunks(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete old chunks: %w", err)
	}

	embedded := 0
	for i, ch := range chunks {
		sc := &storage.Chunk{
			DocumentID:  doc.ID,
			Position:    ch.Position,
			Content:     ch.Content,
			ContentHash: ch.ContentHash,
			TokenCount:  ch.TokenCount,
		}
		if err := tx.UpsertChunk(ctx, sc); err != nil {
			return fmt.Errorf("failed to store chunk: %w", err)
		}
		if vectors == nil {
			continue
		}
		if err := tx.UpsertEmbedding(ctx, idx.embeddingRow(types.SourceDocument, sc.ID, vectors[i])); err != nil {
			return fmt.Errorf("failed to store embedding: %w", err)
		}
		embedded++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	c.indexed.Add(1)
	c.chunks.Add(int32(len(chunks)))
	c.embeddings.Add(int32(embedded))
	return nil
}

// checkDocumentChanged reports whether a stored document already has this
// content and title
func (idx *Indexer) checkDocumentChanged(ctx context.Context, tenantID, sourceURI, title string, hash [32]byte) (bool, error) {
	existing, err := idx.storage.GetDocument(ctx, tenantID, sourceURI)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return existing.ContentHash == hash && existing.Title == title, nil
}

// IndexRecords ingests structured records for a tenant. Each record is stored
// with an embedding of its title and body. Records carrying a protocol number
// replace the stored record with the same number.
func (idx *Indexer) IndexRecords(ctx context.Context, tenantID string, records []types.Record, config *Config) (*Statistics, error) {
	if tenantID == "" {
		return nil, types.ErrScopeRequired
	}
	lock := idx.locks.get(tenantID)
	if !lock.TryAcquire() {
		return nil, ErrIngestInProgress
	}
	defer lock.Release()

	cfg := normalizeConfig(config)
	start := time.Now()
	c := &counters{}

	valid := make([]types.Record, 0, len(records))
	for i := range records {
		rec := records[i]
		rec.TenantID = tenantID
		if err := rec.Validate(); err != nil {
			c.fail(recordKey(rec, i), err)
			continue
		}
		valid = append(valid, rec)
	}

	for startIdx := 0; startIdx < len(valid); startIdx += cfg.BatchSize {
		end := startIdx + cfg.BatchSize
		if end > len(valid) {
			end = len(valid)
		}
		if err := idx.indexRecordBatch(ctx, valid[startIdx:end], cfg, c); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
	}

	stats := c.statistics(start)
	idx.log.Info("records ingested",
		"tenant_id", tenantID,
		"indexed", stats.RecordsIndexed,
		"failed", stats.DocumentsFailed,
		"duration_ms", stats.Duration.Milliseconds())
	idx.audit.Emit(audit.EventIngest, map[string]any{
		"tenant_id":  tenantID,
		"kind":       "records",
		"indexed":    stats.RecordsIndexed,
		"failed":     stats.DocumentsFailed,
		"embeddings": stats.EmbeddingsCreated,
	})
	idx.record("records", stats.RecordsIndexed)
	return stats, nil
}

// indexRecordBatch embeds and stores one batch in a single transaction
func (idx *Indexer) indexRecordBatch(ctx context.Context, batch []types.Record, cfg Config, c *counters) error {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text()
	}
	vectors, err := idx.embedTexts(ctx, texts, cfg.BatchSize)
	if err != nil {
		return err
	}

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	embedded := 0
	for i := range batch {
		rec := &batch[i]
		if err := tx.UpsertRecord(ctx, rec); err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}
		if vectors == nil {
			continue
		}
		if err := tx.UpsertEmbedding(ctx, idx.embeddingRow(types.SourceRecord, rec.ID, vectors[i])); err != nil {
			return fmt.Errorf("failed to store embedding: %w", err)
		}
		embedded++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	c.records.Add(int32(len(batch)))
	c.embeddings.Add(int32(embedded))
	return nil
}

// embedTexts embeds texts in batches of batchSize, issuing the batches
// concurrently. It returns nil vectors when no embedder is configured.
func (idx *Indexer) embedTexts(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if idx.embedder == nil || len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			resp, err := idx.embedder.GenerateBatch(gctx, embedder.BatchEmbeddingRequest{Texts: texts[start:end]})
			if err != nil {
				return fmt.Errorf("failed to generate embeddings: %w", err)
			}
			if len(resp.Embeddings) != end-start {
				return fmt.Errorf("%w: got %d embeddings for %d texts", embedder.ErrProviderFailed, len(resp.Embeddings), end-start)
			}
			for i, emb := range resp.Embeddings {
				vectors[start+i] = emb.Vector
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (idx *Indexer) embeddingRow(source types.SourceType, itemID int64, vector []float32) *storage.Embedding {
	return &storage.Embedding{
		SourceType: source,
		ItemID:     itemID,
		Vector:     storage.SerializeVector(vector),
		Dimension:  len(vector),
		Provider:   idx.embedder.Provider(),
		Model:      idx.embedder.Model(),
	}
}

func recordKey(rec types.Record, i int) string {
	if rec.ProtocolNumber != "" {
		return rec.ProtocolNumber
	}
	return fmt.Sprintf("record[%d]", i)
}
