package storage

import (
	"context"
	"time"

	"github.com/dshills/fusionrag/pkg/types"
)

// Storage defines the tenant-scoped persistence used by retrieval and ingestion.
// Every read takes a types.Scope; rows owned by another tenant or user are
// never returned.
type Storage interface {
	Writer

	// Record operations
	GetRecord(ctx context.Context, scope types.Scope, id int64) (*types.Record, error)
	FindRecords(ctx context.Context, scope types.Scope, filter types.RecordFilter) ([]types.Record, error)
	RecentRecords(ctx context.Context, scope types.Scope, n int) ([]types.Record, error)

	// Document operations
	GetDocument(ctx context.Context, tenantID, sourceURI string) (*Document, error)
	ListChunksByDocument(ctx context.Context, documentID int64) ([]*Chunk, error)

	// Embedding operations
	EmbeddedPool(ctx context.Context, scope types.Scope, sources []types.SourceType) ([]EmbeddedItem, error)

	// Conversation memory
	AppendTurn(ctx context.Context, turn *ChatTurn) error
	RecentTurns(ctx context.Context, scope types.Scope, sessionID string, n int) ([]ChatTurn, error)

	// Consent
	GrantConsent(ctx context.Context, scope types.Scope) error
	RevokeConsent(ctx context.Context, scope types.Scope) error
	HasConsent(ctx context.Context, scope types.Scope) (bool, error)

	// Status operations
	GetStatus(ctx context.Context, tenantID string) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Writer holds the mutations that may run inside a transaction
type Writer interface {
	UpsertRecord(ctx context.Context, rec *types.Record) error
	UpsertDocument(ctx context.Context, doc *Document) error
	DeleteDocumentChunks(ctx context.Context, documentID int64) error
	UpsertChunk(ctx context.Context, chunk *Chunk) error
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Writer
}

// Document is an ingested text document
type Document struct {
	ID          int64
	TenantID    string
	OwnerID     string // empty means visible to the whole tenant
	Title       string
	SourceURI   string // unique per tenant
	ContentHash [32]byte
	ChunkCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is a stored section of a document
type Chunk struct {
	ID          int64
	DocumentID  int64
	Position    int
	Content     string
	ContentHash [32]byte
	TokenCount  int
	CreatedAt   time.Time
}

// Embedding is a vector for a stored item. ItemID refers to a chunk for
// documents and to a record for records.
type Embedding struct {
	ID         int64
	SourceType types.SourceType
	ItemID     int64
	Vector     []byte // Serialized float32 array
	Dimension  int
	Provider   string
	Model      string
	CreatedAt  time.Time
}

// ChatTurn is one message of a user's conversation
type ChatTurn struct {
	ID        int64
	TenantID  string
	UserID    string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Scope returns the tenant/user scope of the turn
func (t ChatTurn) Scope() types.Scope {
	return types.Scope{TenantID: t.TenantID, UserID: t.UserID}
}

// EmbeddedItem is a stored item together with its vector, ready for ranking.
// Spec.Relevance is left at zero for the ranker to fill in.
type EmbeddedItem struct {
	Spec   types.CandidateSpec
	Vector []float32
}

// Status contains statistics about a tenant's stored data
type Status struct {
	TenantID       string
	Records        int
	Documents      int
	Chunks         int
	Embeddings     int
	ChatTurns      int
	ConsentedUsers int
	SizeMB         float64
	BuildMode      string
	Health         HealthStatus
}

// HealthStatus represents the health of the store
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	FTSIndexesBuilt     bool
}
