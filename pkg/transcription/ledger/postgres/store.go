// Package postgres provides a PostgreSQL-backed implementation of
// [ledger.Store].
//
// Each ledger record is one row; the chunk list and terminal timestamps are
// stored as JSONB. Records are single-writer by contract, but UpsertChunk
// still runs its read-modify-write inside a transaction with a row lock so
// an accidental concurrent caller corrupts nothing.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tavernlog/tavernlog/pkg/transcription"
	"github.com/tavernlog/tavernlog/pkg/transcription/ledger"
)

// Compile-time check that Store satisfies ledger.Store.
var _ ledger.Store = (*Store)(nil)

const ddlLedgers = `
CREATE TABLE IF NOT EXISTS transcription_ledgers (
    id              TEXT         PRIMARY KEY,
    session_id      TEXT         NOT NULL,
    total_chunks    INT          NOT NULL,
    completed_chunks INT         NOT NULL DEFAULT 0,
    last_processed  INT          NOT NULL DEFAULT -1,
    is_complete     BOOLEAN      NOT NULL DEFAULT FALSE,
    status          TEXT         NOT NULL,
    chunks          JSONB        NOT NULL DEFAULT '[]',
    raw_transcript  TEXT         NOT NULL DEFAULT '',
    timestamps      JSONB        NOT NULL DEFAULT '[]',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcription_ledgers_session
    ON transcription_ledgers (session_id, created_at DESC);`

// Store implements [ledger.Store] over a pgx connection pool.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an existing pool. Call [Migrate] once at startup
// before using the store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the ledger table and indexes if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlLedgers); err != nil {
		return fmt.Errorf("ledger store: migrate: %w", err)
	}
	return nil
}

// Initialize implements [ledger.Store].
func (s *Store) Initialize(ctx context.Context, sessionID string, totalChunks int) (*ledger.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transcription_ledgers WHERE session_id = $1 AND NOT is_complete)`,
		sessionID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("ledger store: check incomplete: %w", err)
	}
	if exists {
		return nil, ledger.ErrIncompleteExists
	}

	now := time.Now().UTC()
	rec := &ledger.Record{
		ID:                      uuid.NewString(),
		SessionID:               sessionID,
		TotalChunks:             totalChunks,
		LastProcessedChunkIndex: -1,
		Status:                  ledger.RecordInProgress,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO transcription_ledgers
		    (id, session_id, total_chunks, completed_chunks, last_processed, is_complete, status, created_at, updated_at)
		VALUES ($1, $2, $3, 0, -1, FALSE, $4, $5, $5)`,
		rec.ID, rec.SessionID, rec.TotalChunks, rec.Status, now,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger store: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ledger store: commit: %w", err)
	}
	return rec, nil
}

// Get implements [ledger.Store].
func (s *Store) Get(ctx context.Context, id string) (*ledger.Record, error) {
	return scanRecord(s.pool.QueryRow(ctx, selectRecord+` WHERE id = $1`, id))
}

// FindIncomplete implements [ledger.Store].
func (s *Store) FindIncomplete(ctx context.Context, sessionID string) (*ledger.Record, error) {
	return scanRecord(s.pool.QueryRow(ctx,
		selectRecord+` WHERE session_id = $1 AND NOT is_complete ORDER BY created_at DESC LIMIT 1`,
		sessionID,
	))
}

// FindLatest implements [ledger.Store].
func (s *Store) FindLatest(ctx context.Context, sessionID string) (*ledger.Record, error) {
	return scanRecord(s.pool.QueryRow(ctx,
		selectRecord+` WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`,
		sessionID,
	))
}

// UpsertChunk implements [ledger.Store]. The record row is locked for the
// duration of the read-modify-write.
func (s *Store) UpsertChunk(ctx context.Context, id string, chunk ledger.ChunkState) (*ledger.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := scanRecord(tx.QueryRow(ctx, selectRecord+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	if existing := rec.Chunk(chunk.Index); existing != nil {
		if err := ledger.Transition(existing.Status, chunk.Status); err != nil {
			return nil, err
		}
		*existing = chunk
	} else {
		if chunk.Status != ledger.StatusPending {
			if err := ledger.Transition(ledger.StatusPending, chunk.Status); err != nil {
				return nil, err
			}
		}
		rec.Chunks = append(rec.Chunks, chunk)
	}
	rec.Recompute()
	rec.UpdatedAt = time.Now().UTC()

	chunksJSON, err := json.Marshal(rec.Chunks)
	if err != nil {
		return nil, fmt.Errorf("ledger store: marshal chunks: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE transcription_ledgers
		SET    chunks = $2, completed_chunks = $3, last_processed = $4, is_complete = $5, updated_at = $6
		WHERE  id = $1`,
		id, chunksJSON, rec.CompletedChunks, rec.LastProcessedChunkIndex, rec.IsComplete, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger store: update chunks: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ledger store: commit: %w", err)
	}
	return rec, nil
}

// MarkComplete implements [ledger.Store].
func (s *Store) MarkComplete(ctx context.Context, id string, result transcription.Result) error {
	timestampsJSON, err := json.Marshal(result.Segments)
	if err != nil {
		return fmt.Errorf("ledger store: marshal timestamps: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE transcription_ledgers
		SET    raw_transcript = $2, timestamps = $3, status = $4, is_complete = TRUE, updated_at = now()
		WHERE  id = $1`,
		id, result.RawTranscript, timestampsJSON, ledger.RecordCompleted,
	)
	if err != nil {
		return fmt.Errorf("ledger store: mark complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// Clear implements [ledger.Store].
func (s *Store) Clear(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transcription_ledgers
		SET    chunks = '[]', completed_chunks = 0, last_processed = -1, is_complete = FALSE,
		       status = $2, raw_transcript = '', timestamps = '[]', updated_at = now()
		WHERE  id = $1`,
		id, ledger.RecordInProgress,
	)
	if err != nil {
		return fmt.Errorf("ledger store: clear: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

const selectRecord = `
	SELECT id, session_id, total_chunks, completed_chunks, last_processed,
	       is_complete, status, chunks, raw_transcript, timestamps, created_at, updated_at
	FROM   transcription_ledgers`

// scanRecord scans one ledger row, translating pgx.ErrNoRows to
// ledger.ErrNotFound and unpacking the JSONB columns.
func scanRecord(row pgx.Row) (*ledger.Record, error) {
	var (
		rec            ledger.Record
		chunksJSON     []byte
		timestampsJSON []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.SessionID,
		&rec.TotalChunks,
		&rec.CompletedChunks,
		&rec.LastProcessedChunkIndex,
		&rec.IsComplete,
		&rec.Status,
		&chunksJSON,
		&rec.RawTranscript,
		&timestampsJSON,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger store: scan: %w", err)
	}
	if err := json.Unmarshal(chunksJSON, &rec.Chunks); err != nil {
		return nil, fmt.Errorf("ledger store: unmarshal chunks: %w", err)
	}
	if err := json.Unmarshal(timestampsJSON, &rec.Timestamps); err != nil {
		return nil, fmt.Errorf("ledger store: unmarshal timestamps: %w", err)
	}
	return &rec, nil
}
