package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tavernlog/tavernlog/pkg/transcription"
)

// Compile-time check that MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store] for tests and single-process use.
// Records do not survive a restart; production deployments use the postgres
// subpackage. Safe for concurrent use.
type MemStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*Record)}
}

// Initialize implements [Store].
func (s *MemStore) Initialize(_ context.Context, sessionID string, totalChunks int) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.SessionID == sessionID && !r.IsComplete {
			return nil, ErrIncompleteExists
		}
	}

	now := time.Now().UTC()
	rec := &Record{
		ID:                      uuid.NewString(),
		SessionID:               sessionID,
		TotalChunks:             totalChunks,
		CompletedChunks:         0,
		LastProcessedChunkIndex: -1,
		Status:                  RecordInProgress,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	s.records[rec.ID] = rec
	return cloneRecord(rec), nil
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// FindIncomplete implements [Store].
func (s *MemStore) FindIncomplete(_ context.Context, sessionID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*Record
	for _, r := range s.records {
		if r.SessionID == sessionID && !r.IsComplete {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return cloneRecord(candidates[0]), nil
}

// FindLatest implements [Store].
func (s *MemStore) FindLatest(_ context.Context, sessionID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *Record
	for _, r := range s.records {
		if r.SessionID != sessionID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneRecord(latest), nil
}

// UpsertChunk implements [Store].
func (s *MemStore) UpsertChunk(_ context.Context, id string, chunk ChunkState) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}

	if existing := rec.Chunk(chunk.Index); existing != nil {
		if err := Transition(existing.Status, chunk.Status); err != nil {
			return nil, err
		}
		*existing = chunk
	} else {
		if chunk.Status != StatusPending {
			if err := Transition(StatusPending, chunk.Status); err != nil {
				return nil, err
			}
		}
		rec.Chunks = append(rec.Chunks, chunk)
	}

	rec.Recompute()
	rec.UpdatedAt = time.Now().UTC()
	return cloneRecord(rec), nil
}

// MarkComplete implements [Store].
func (s *MemStore) MarkComplete(_ context.Context, id string, result transcription.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.RawTranscript = result.RawTranscript
	rec.Timestamps = append([]transcription.Segment(nil), result.Segments...)
	rec.Status = RecordCompleted
	rec.IsComplete = true
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Clear implements [Store].
func (s *MemStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Chunks = nil
	rec.CompletedChunks = 0
	rec.LastProcessedChunkIndex = -1
	rec.IsComplete = false
	rec.Status = RecordInProgress
	rec.RawTranscript = ""
	rec.Timestamps = nil
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// cloneRecord deep-copies a record so callers cannot mutate store state
// behind the lock.
func cloneRecord(r *Record) *Record {
	out := *r
	out.Chunks = make([]ChunkState, len(r.Chunks))
	copy(out.Chunks, r.Chunks)
	for i := range out.Chunks {
		out.Chunks[i].Segments = append([]transcription.RawSegment(nil), r.Chunks[i].Segments...)
	}
	out.Timestamps = append([]transcription.Segment(nil), r.Timestamps...)
	return &out
}
