// Package search provides semantic search over finished session transcripts.
//
// Every transcript segment is embedded with a [embeddings.Provider] and
// stored alongside its session, timestamp and speaker. Queries are embedded
// with the same provider and ranked by cosine distance, so "the fight at the
// lighthouse" finds the right scene even when no words overlap.
//
// Two implementations exist: [Store] persists vectors in PostgreSQL with the
// pgvector extension, [MemIndex] keeps them in process memory for
// deployments without a database.
package search

import (
	"context"
	"errors"
	"strings"

	"github.com/tavernlog/tavernlog/pkg/transcription"
)

// ErrEmptyQuery is returned by Search when the query contains no text.
var ErrEmptyQuery = errors.New("search: empty query")

// DefaultLimit is the number of snippets returned when the caller asks for
// zero or a negative limit.
const DefaultLimit = 10

// Snippet is one transcript segment returned by a search, ranked by cosine
// distance (lower is more similar).
type Snippet struct {
	SessionID   string  `json:"sessionId"`
	TimeSeconds int     `json:"timeSeconds"`
	Speaker     string  `json:"speaker,omitempty"`
	Text        string  `json:"text"`
	Distance    float64 `json:"distance"`
}

// Filter narrows a search. The zero value matches everything.
type Filter struct {
	// SessionID, when non-empty, restricts results to one session.
	SessionID string
}

// Index is the abstraction over a transcript vector index.
type Index interface {
	// IndexSession embeds and stores every segment of result under
	// sessionID, replacing any previously indexed segments for that session.
	IndexSession(ctx context.Context, sessionID string, result transcription.Result) error

	// Search embeds query and returns up to limit snippets ordered by
	// ascending cosine distance. A limit <= 0 uses [DefaultLimit].
	Search(ctx context.Context, query string, limit int, filter Filter) ([]Snippet, error)

	// DeleteSession removes all indexed segments of a session.
	DeleteSession(ctx context.Context, sessionID string) error
}

// segmentContent renders a segment as the text that gets embedded. The
// speaker label is included so queries like "what did the GM say about the
// curse" attach to the right voice.
func segmentContent(s transcription.Segment) string {
	if s.Speaker == "" {
		return s.Text
	}
	return s.Speaker + ": " + s.Text
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

func validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}
	return nil
}
