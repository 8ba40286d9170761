package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/fusionrag/pkg/types"
)

// defaultRecordLimit caps FindRecords when the filter sets no limit
const defaultRecordLimit = 20

const recordColumns = `r.id, r.tenant_id, r.owner_id, r.protocol_number, r.record_type, r.title,
	r.body, r.year, r.certified, r.anchored, r.created_at`

func (s *SQLiteStorage) upsertRecordWithQuerier(ctx context.Context, q querier, rec *types.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.ProtocolNumber = types.NormalizeProtocolNumber(rec.ProtocolNumber)

	// NULL protocol numbers never collide, so unnumbered records always insert
	var protocol interface{}
	if rec.ProtocolNumber != "" {
		protocol = rec.ProtocolNumber
	}

	query := `
		INSERT INTO records (
			tenant_id, owner_id, protocol_number, record_type, title, body,
			year, certified, anchored, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, protocol_number)
		DO UPDATE SET
			owner_id = excluded.owner_id,
			record_type = excluded.record_type,
			title = excluded.title,
			body = excluded.body,
			year = excluded.year,
			certified = excluded.certified,
			anchored = excluded.anchored,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := s.now()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	err := q.QueryRowContext(ctx, query,
		rec.TenantID, rec.OwnerID, protocol, rec.RecordType, rec.Title, rec.Body,
		rec.Year, rec.Certified, rec.Anchored, createdAt, now,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	rec.CreatedAt = createdAt
	return nil
}

// UpsertRecord inserts a record or updates the one with the same protocol number
func (s *SQLiteStorage) UpsertRecord(ctx context.Context, rec *types.Record) error {
	return s.upsertRecordWithQuerier(ctx, s.db, rec)
}

// GetRecord returns a single record visible in scope
func (s *SQLiteStorage) GetRecord(ctx context.Context, scope types.Scope, id int64) (*types.Record, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records r
		WHERE r.id = ? AND r.tenant_id = ? AND (r.owner_id = '' OR r.owner_id = ?)
	`, id, scope.TenantID, scope.UserID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindRecords returns the records in scope matching every set field of the
// filter, newest year first.
func (s *SQLiteStorage) FindRecords(ctx context.Context, scope types.Scope, filter types.RecordFilter) ([]types.Record, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	query, args := buildRecordQuery(scope, filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRecords(rows)
}

// RecentRecords returns the n most recently created records in scope
func (s *SQLiteStorage) RecentRecords(ctx context.Context, scope types.Scope, n int) ([]types.Record, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records r
		WHERE r.tenant_id = ? AND (r.owner_id = '' OR r.owner_id = ?)
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?
	`, scope.TenantID, scope.UserID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRecords(rows)
}

// buildRecordQuery translates a RecordFilter into SQL. Scope conditions are
// always present.
func buildRecordQuery(scope types.Scope, filter types.RecordFilter) (string, []interface{}) {
	var b strings.Builder
	b.WriteString("SELECT " + recordColumns + " FROM records r WHERE r.tenant_id = ? AND (r.owner_id = '' OR r.owner_id = ?)")
	args := []interface{}{scope.TenantID, scope.UserID}

	if filter.ProtocolNumber != "" {
		b.WriteString(" AND r.protocol_number = ?")
		args = append(args, types.NormalizeProtocolNumber(filter.ProtocolNumber))
	}
	if len(filter.RecordTypes) > 0 {
		placeholders := make([]string, len(filter.RecordTypes))
		for i, t := range filter.RecordTypes {
			placeholders[i] = "?"
			args = append(args, t)
		}
		b.WriteString(" AND r.record_type IN (" + strings.Join(placeholders, ",") + ")")
	}
	if filter.Certified != nil {
		b.WriteString(" AND r.certified = ?")
		args = append(args, *filter.Certified)
	}
	if filter.Anchored != nil {
		b.WriteString(" AND r.anchored = ?")
		args = append(args, *filter.Anchored)
	}
	if filter.YearFrom > 0 {
		b.WriteString(" AND r.year >= ?")
		args = append(args, filter.YearFrom)
	}
	if filter.YearTo > 0 {
		b.WriteString(" AND r.year <= ?")
		args = append(args, filter.YearTo)
	}
	if match := titleMatchExpr(filter.TitleTerms); match != "" {
		b.WriteString(" AND r.id IN (SELECT rowid FROM records_fts WHERE records_fts MATCH ?)")
		args = append(args, match)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRecordLimit
	}
	b.WriteString(" ORDER BY r.year DESC, r.id DESC LIMIT ?")
	args = append(args, limit)

	return b.String(), args
}

// titleMatchExpr builds an FTS5 expression requiring every term as a prefix.
// Terms are quoted so FTS5 operators inside them are taken literally.
func titleMatchExpr(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(strings.ReplaceAll(t, `"`, ""))
		if t == "" {
			continue
		}
		parts = append(parts, `"`+t+`"*`)
	}
	return strings.Join(parts, " AND ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (types.Record, error) {
	var rec types.Record
	var protocol sql.NullString
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.OwnerID, &protocol, &rec.RecordType, &rec.Title,
		&rec.Body, &rec.Year, &rec.Certified, &rec.Anchored, &rec.CreatedAt)
	if err != nil {
		return types.Record{}, err
	}
	rec.ProtocolNumber = protocol.String
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]types.Record, error) {
	var out []types.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
