package cdr

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the call_records table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS call_records (
    id          TEXT PRIMARY KEY,
    call_sid    TEXT NOT NULL,
    direction   TEXT NOT NULL,
    to_number   TEXT NOT NULL DEFAULT '',
    from_number TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL,
    ended_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_call_records_call_sid ON call_records(call_sid);
CREATE INDEX IF NOT EXISTS idx_call_records_started ON call_records(started_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store using the given connection or pool. The
// caller is responsible for calling [PostgresStore.Migrate] before issuing
// queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("cdr: migrate: %w", err)
	}
	return nil
}

// Started implements [Store].
func (s *PostgresStore) Started(ctx context.Context, rec Record) error {
	const query = `
		INSERT INTO call_records (id, call_sid, direction, to_number, from_number, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.Exec(ctx, query,
		rec.ID, rec.CallSID, rec.Direction, rec.To, rec.From, rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("cdr: insert record: %w", err)
	}
	return nil
}

// Ended implements [Store].
func (s *PostgresStore) Ended(ctx context.Context, callSID string, at time.Time) error {
	const query = `
		UPDATE call_records SET ended_at = $2
		WHERE id = (
			SELECT id FROM call_records
			WHERE call_sid = $1 AND ended_at IS NULL
			ORDER BY started_at DESC
			LIMIT 1
		)`

	if _, err := s.db.Exec(ctx, query, callSID, at); err != nil {
		return fmt.Errorf("cdr: close record %q: %w", callSID, err)
	}
	return nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	const query = `
		SELECT id, call_sid, direction, to_number, from_number, started_at, ended_at
		FROM call_records
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("cdr: list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.CallSID, &rec.Direction, &rec.To, &rec.From,
			&rec.StartedAt, &rec.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("cdr: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cdr: list records: %w", err)
	}
	return records, nil
}
