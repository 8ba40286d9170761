package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dshills/fusionrag/pkg/types"
)

// EmbeddedPool loads every embedded item of the requested sources that is
// visible in scope. Ranking happens in the caller; the pool is bounded by the
// tenant's corpus. Only documents and records carry embeddings; other source
// types are ignored.
func (s *SQLiteStorage) EmbeddedPool(ctx context.Context, scope types.Scope, sources []types.SourceType) ([]EmbeddedItem, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var pool []EmbeddedItem
	for _, src := range sources {
		var (
			items []EmbeddedItem
			err   error
		)
		switch src {
		case types.SourceDocument:
			items, err = s.documentPool(ctx, scope)
		case types.SourceRecord:
			items, err = s.recordPool(ctx, scope)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		pool = append(pool, items...)
	}
	return pool, nil
}

func (s *SQLiteStorage) documentPool(ctx context.Context, scope types.Scope) ([]EmbeddedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.position, c.content, c.created_at, d.title, e.vector
		FROM chunks c
		INNER JOIN documents d ON c.document_id = d.id
		INNER JOIN embeddings e ON e.source_type = 'document' AND e.item_id = c.id
		WHERE d.tenant_id = ? AND (d.owner_id = '' OR d.owner_id = ?)
		ORDER BY c.id
	`, scope.TenantID, scope.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to query document embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []EmbeddedItem
	for rows.Next() {
		var (
			p    types.DocumentPayload
			text string
			blob []byte
			spec types.CandidateSpec
		)
		if err := rows.Scan(&p.ChunkID, &p.DocumentID, &p.Position, &text, &spec.CreatedAt, &p.Title, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan document embedding: %w", err)
		}
		spec.Payload = p
		spec.Text = text
		spec.CitationID = types.DocumentCitationID(p.DocumentID, p.Position)
		spec.Metadata = map[string]string{"source": "documents"}
		items = append(items, EmbeddedItem{Spec: spec, Vector: deserializeVector(blob)})
	}
	return items, rows.Err()
}

func (s *SQLiteStorage) recordPool(ctx context.Context, scope types.Scope) ([]EmbeddedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`, e.vector
		FROM records r
		INNER JOIN embeddings e ON e.source_type = 'record' AND e.item_id = r.id
		WHERE r.tenant_id = ? AND (r.owner_id = '' OR r.owner_id = ?)
		ORDER BY r.id
	`, scope.TenantID, scope.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to query record embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []EmbeddedItem
	for rows.Next() {
		var (
			rec      types.Record
			protocol sql.NullString
			blob     []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.OwnerID, &protocol, &rec.RecordType, &rec.Title,
			&rec.Body, &rec.Year, &rec.Certified, &rec.Anchored, &rec.CreatedAt, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan record embedding: %w", err)
		}
		rec.ProtocolNumber = protocol.String
		items = append(items, EmbeddedItem{
			Spec: types.CandidateSpec{
				Payload:    rec.Payload(),
				Text:       rec.Text(),
				CitationID: rec.CitationID(),
				CreatedAt:  rec.CreatedAt,
				Metadata:   map[string]string{"source": "records"},
			},
			Vector: deserializeVector(blob),
		})
	}
	return items, rows.Err()
}

func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// SerializeVector encodes a vector as little-endian float32 bytes
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector decodes a blob written by SerializeVector
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}
