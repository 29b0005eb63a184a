package search

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/tavernlog/tavernlog/pkg/provider/embeddings"
	"github.com/tavernlog/tavernlog/pkg/transcription"
)

var _ Index = (*Store)(nil)

// ddlSegments returns the segment table DDL with the embedding dimension
// substituted. The dimension is baked into the column type, so it must match
// the configured embedding model and cannot change without a manual rebuild.
func ddlSegments(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcript_segments (
    session_id    TEXT         NOT NULL,
    segment_index INT          NOT NULL,
    time_seconds  INT          NOT NULL,
    speaker       TEXT         NOT NULL DEFAULT '',
    content       TEXT         NOT NULL,
    embedding     vector(%d),
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, segment_index)
);

CREATE INDEX IF NOT EXISTS idx_transcript_segments_session
    ON transcript_segments (session_id);

CREATE INDEX IF NOT EXISTS idx_transcript_segments_embedding
    ON transcript_segments USING hnsw (embedding vector_cosine_ops);
`, dimensions)
}

// Store is the PostgreSQL implementation of [Index]. It owns its connection
// pool so pgvector types can be registered on every connection.
// All methods are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// NewStore connects to the database at dsn, registers pgvector types on
// every connection, and ensures the segment table exists with a vector
// column sized to embedder.Dimensions().
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("search store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("search store: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlSegments(embedder.Dimensions())); err != nil {
		pool.Close()
		return nil, fmt.Errorf("search store: migrate: %w", err)
	}
	return &Store{pool: pool, embedder: embedder}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// IndexSession implements [Index]. Segments are embedded in one batch call
// and the session's previous rows are replaced in a single transaction.
func (s *Store) IndexSession(ctx context.Context, sessionID string, result transcription.Result) error {
	contents := make([]string, len(result.Segments))
	for i, seg := range result.Segments {
		contents[i] = segmentContent(seg)
	}

	var vectors [][]float32
	if len(contents) > 0 {
		var err error
		vectors, err = s.embedder.EmbedBatch(ctx, contents)
		if err != nil {
			return fmt.Errorf("search store: embed session %s: %w", sessionID, err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("search store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM transcript_segments WHERE session_id = $1`, sessionID,
	); err != nil {
		return fmt.Errorf("search store: clear session %s: %w", sessionID, err)
	}

	batch := &pgx.Batch{}
	for i, seg := range result.Segments {
		batch.Queue(`
			INSERT INTO transcript_segments
			    (session_id, segment_index, time_seconds, speaker, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			sessionID, i, seg.TimeSeconds, seg.Speaker, contents[i], pgvector.NewVector(vectors[i]),
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("search store: insert session %s: %w", sessionID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("search store: commit: %w", err)
	}
	return nil
}

// Search implements [Index].
func (s *Store) Search(ctx context.Context, query string, limit int, filter Filter) ([]Snippet, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search store: embed query: %w", err)
	}

	args := []any{pgvector.NewVector(vec)}
	where := ""
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		where = fmt.Sprintf("WHERE session_id = $%d", len(args))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT session_id, time_seconds, speaker, content,
		       embedding <=> $1 AS distance
		FROM   transcript_segments
		%s
		ORDER  BY distance
		LIMIT  $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search store: query: %w", err)
	}

	snippets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Snippet, error) {
		var sn Snippet
		err := row.Scan(&sn.SessionID, &sn.TimeSeconds, &sn.Speaker, &sn.Text, &sn.Distance)
		return sn, err
	})
	if err != nil {
		return nil, fmt.Errorf("search store: scan rows: %w", err)
	}
	if snippets == nil {
		snippets = []Snippet{}
	}
	return snippets, nil
}

// DeleteSession implements [Index].
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM transcript_segments WHERE session_id = $1`, sessionID,
	); err != nil {
		return fmt.Errorf("search store: delete session %s: %w", sessionID, err)
	}
	return nil
}
