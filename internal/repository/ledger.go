package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"taxledger/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// PostgresLedgerStore persists ledger entries in an append-only table.
// The primary key (assessment_id, sequence) is what makes concurrent appends
// safe: two writers that both computed the next entry from the same latest
// entry collide on the sequence, and the loser gets ErrConcurrentAppend.
// There is deliberately no update or delete statement in this file.
type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db}
}

// EnsureSchema creates the ledger table and indexes if missing. The payload
// column is json, not jsonb: the payload bytes are part of the entry hash and
// jsonb would rewrite them.
func (s *PostgresLedgerStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			assessment_id TEXT        NOT NULL,
			sequence      BIGINT      NOT NULL,
			event_type    TEXT        NOT NULL,
			ts            TIMESTAMPTZ NOT NULL,
			actor_id      TEXT        NOT NULL,
			actor_role    TEXT        NOT NULL,
			payload       JSON        NOT NULL,
			changes       JSONB       NOT NULL,
			previous_hash TEXT        NOT NULL,
			current_hash  TEXT        NOT NULL,
			PRIMARY KEY (assessment_id, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_event_type
			ON ledger_entries (event_type, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresLedgerStore) Append(ctx context.Context, e domain.LedgerEntry) error {
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO ledger_entries
			(assessment_id, sequence, event_type, ts, actor_id, actor_role, payload, changes, previous_hash, current_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.db.ExecContext(ctx, query,
		e.AssessmentID,
		e.Sequence,
		string(e.EventType),
		e.Timestamp,
		e.ActorID,
		e.ActorRole,
		[]byte(e.Payload),
		changes,
		e.PreviousHash,
		e.CurrentHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.ErrConcurrentAppend
		}
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (s *PostgresLedgerStore) ReadAll(ctx context.Context, assessmentID string) ([]domain.LedgerEntry, error) {
	query := `
		SELECT assessment_id, sequence, event_type, ts, actor_id, actor_role, payload, changes, previous_hash, current_hash
		FROM ledger_entries
		WHERE assessment_id = $1
		ORDER BY sequence ASC
	`

	rows, err := s.db.QueryContext(ctx, query, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresLedgerStore) ReadLatest(ctx context.Context, assessmentID string) (*domain.LedgerEntry, error) {
	query := `
		SELECT assessment_id, sequence, event_type, ts, actor_id, actor_role, payload, changes, previous_hash, current_hash
		FROM ledger_entries
		WHERE assessment_id = $1
		ORDER BY sequence DESC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query, assessmentID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.LedgerEntry, error) {
	var (
		e          domain.LedgerEntry
		eventType  string
		rawPayload []byte
		rawChanges []byte
	)

	if err := row.Scan(
		&e.AssessmentID,
		&e.Sequence,
		&eventType,
		&e.Timestamp,
		&e.ActorID,
		&e.ActorRole,
		&rawPayload,
		&rawChanges,
		&e.PreviousHash,
		&e.CurrentHash,
	); err != nil {
		return domain.LedgerEntry{}, err
	}

	e.EventType = domain.EventType(eventType)
	e.Payload = json.RawMessage(rawPayload)
	if len(rawChanges) > 0 {
		if err := json.Unmarshal(rawChanges, &e.Changes); err != nil {
			return domain.LedgerEntry{}, fmt.Errorf("unmarshal changes: %w", err)
		}
	}
	return e, nil
}
