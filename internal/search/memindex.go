package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/tavernlog/tavernlog/pkg/provider/embeddings"
	"github.com/tavernlog/tavernlog/pkg/transcription"
)

var _ Index = (*MemIndex)(nil)

type memEntry struct {
	snippet   Snippet
	embedding []float32
}

// MemIndex is an in-memory implementation of [Index] backed by brute-force
// cosine distance. It serves deployments without a PostgreSQL database; the
// index is lost on restart. Safe for concurrent use.
type MemIndex struct {
	embedder embeddings.Provider

	mu       sync.RWMutex
	sessions map[string][]memEntry
}

// NewMemIndex creates an empty in-memory index over the given embedder.
func NewMemIndex(embedder embeddings.Provider) *MemIndex {
	return &MemIndex{
		embedder: embedder,
		sessions: make(map[string][]memEntry),
	}
}

// IndexSession implements [Index].
func (m *MemIndex) IndexSession(ctx context.Context, sessionID string, result transcription.Result) error {
	contents := make([]string, len(result.Segments))
	for i, seg := range result.Segments {
		contents[i] = segmentContent(seg)
	}

	var vectors [][]float32
	if len(contents) > 0 {
		var err error
		vectors, err = m.embedder.EmbedBatch(ctx, contents)
		if err != nil {
			return fmt.Errorf("search memindex: embed session %s: %w", sessionID, err)
		}
	}

	entries := make([]memEntry, len(result.Segments))
	for i, seg := range result.Segments {
		entries[i] = memEntry{
			snippet: Snippet{
				SessionID:   sessionID,
				TimeSeconds: seg.TimeSeconds,
				Speaker:     seg.Speaker,
				Text:        seg.Text,
			},
			embedding: vectors[i],
		}
	}

	m.mu.Lock()
	m.sessions[sessionID] = entries
	m.mu.Unlock()
	return nil
}

// Search implements [Index].
func (m *MemIndex) Search(ctx context.Context, query string, limit int, filter Filter) ([]Snippet, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search memindex: embed query: %w", err)
	}

	m.mu.RLock()
	var results []Snippet
	for sessionID, entries := range m.sessions {
		if filter.SessionID != "" && filter.SessionID != sessionID {
			continue
		}
		for _, e := range entries {
			sn := e.snippet
			sn.Distance = cosineDistance(vec, e.embedding)
			results = append(results, sn)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []Snippet{}
	}
	return results, nil
}

// DeleteSession implements [Index].
func (m *MemIndex) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

// cosineDistance returns 1 - cosine similarity, matching the pgvector <=>
// operator. Mismatched or zero-magnitude vectors get the maximum distance so
// they sort last instead of erroring.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
