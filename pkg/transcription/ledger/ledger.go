// Package ledger provides durable, resumable bookkeeping for chunked
// transcription attempts.
//
// A [Record] tracks one transcription attempt: the chunk list, each chunk's
// state, and aggregate completion counters. Records survive process restarts,
// so a failed or interrupted run resumes from the last completed chunk
// instead of re-transcribing the whole session.
//
// Chunk state changes follow a fixed finite-state machine validated by
// [Transition]; stores reject illegal transitions so a buggy caller cannot
// silently corrupt completion accounting.
//
// The [Store] interface abstracts persistence as a keyed-record store with
// point lookup, point write, and a "find latest incomplete for session"
// query. [MemStore] backs tests; the postgres subpackage is the production
// implementation. Chunk processing is single-writer per record: exactly one
// orchestrator drives a given record at any time.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tavernlog/tavernlog/pkg/transcription"
)

// ChunkStatus is the processing state of a single chunk within a record.
type ChunkStatus string

const (
	StatusPending    ChunkStatus = "pending"
	StatusProcessing ChunkStatus = "processing"
	StatusCompleted  ChunkStatus = "completed"
	StatusFailed     ChunkStatus = "failed"
)

// IsValid reports whether s is a recognised chunk status.
func (s ChunkStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s ends a processing attempt for the chunk.
func (s ChunkStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrIllegalTransition is returned when a chunk status change violates the
// pending → processing → {completed | failed} state machine.
var ErrIllegalTransition = errors.New("ledger: illegal chunk status transition")

// Transition validates a chunk status change. Legal transitions:
//
//	pending    → processing
//	processing → processing   (re-claim after a crashed run)
//	processing → completed
//	processing → failed
//	failed     → processing   (retry)
//
// A chunk left in processing by a run that died mid-call must stay
// claimable, otherwise the record could never be resumed. Records are
// single-writer per session, so a re-claim never races a live attempt.
//
// Completed is absorbing: a completed chunk is never reprocessed.
func Transition(from, to ChunkStatus) error {
	ok := false
	switch from {
	case StatusPending:
		ok = to == StatusProcessing
	case StatusProcessing:
		ok = to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	case StatusFailed:
		ok = to == StatusProcessing
	case StatusCompleted:
		ok = false
	}
	if !ok {
		return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// ChunkState is the persisted state of one chunk. Entries are looked up by
// Index and updated in place as processing advances; a record never holds
// two entries with the same index.
type ChunkState struct {
	Index            int     `json:"index"`
	StartTimeSeconds float64 `json:"startTimeSeconds"`
	EndTimeSeconds   float64 `json:"endTimeSeconds"`
	DurationSeconds  float64 `json:"durationSeconds"`

	Status ChunkStatus `json:"status"`

	// Segments holds the raw model output for a completed chunk, kept so a
	// resumed attempt can merge without re-transcribing.
	Segments []transcription.RawSegment `json:"segments,omitempty"`

	// Error is the failure message for a failed chunk.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of processing attempts beyond the first.
	RetryCount int `json:"retryCount"`

	// ProcessingTimeMs is the wall-clock duration of the last attempt.
	ProcessingTimeMs int64 `json:"processingTimeMs"`
}

// RecordStatus is the overall state of a transcription attempt.
type RecordStatus string

const (
	RecordInProgress RecordStatus = "in_progress"
	RecordCompleted  RecordStatus = "completed"
)

// Record is the durable state of one transcription attempt.
type Record struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`

	TotalChunks             int  `json:"totalChunks"`
	CompletedChunks         int  `json:"completedChunks"`
	LastProcessedChunkIndex int  `json:"lastProcessedChunkIndex"`
	IsComplete              bool `json:"isComplete"`

	Status RecordStatus `json:"status"`
	Chunks []ChunkState `json:"chunks"`

	// Terminal artifact, written only at completion.
	RawTranscript string                  `json:"rawTranscript,omitempty"`
	Timestamps    []transcription.Segment `json:"timestamps,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Chunk returns a pointer to the entry with the given index, or nil.
func (r *Record) Chunk(index int) *ChunkState {
	for i := range r.Chunks {
		if r.Chunks[i].Index == index {
			return &r.Chunks[i]
		}
	}
	return nil
}

// Recompute refreshes the aggregate fields from the chunk list: the
// completed-chunk count, the highest index that reached a terminal status,
// and the completion flag. Invariant: CompletedChunks always equals the
// number of completed entries, and IsComplete holds iff every chunk of a
// non-empty chunk set completed.
func (r *Record) Recompute() {
	completed := 0
	last := -1
	for _, c := range r.Chunks {
		if c.Status == StatusCompleted {
			completed++
		}
		if c.Status.IsTerminal() && c.Index > last {
			last = c.Index
		}
	}
	r.CompletedChunks = completed
	r.LastProcessedChunkIndex = last
	r.IsComplete = r.TotalChunks > 0 && completed == r.TotalChunks
}

// Store errors.
var (
	// ErrNotFound is returned by point lookups and FindIncomplete misses.
	ErrNotFound = errors.New("ledger: record not found")

	// ErrIncompleteExists is returned by Initialize when the session already
	// has a resumable record; callers must resume or Clear it explicitly.
	ErrIncompleteExists = errors.New("ledger: incomplete record exists for session")
)

// Store is the persistence abstraction for ledger records.
//
// Implementations must be safe for concurrent use, but each record is
// single-writer: callers guarantee at most one orchestrator mutates a given
// record at any time, so read-modify-write updates need no cross-process
// locking.
type Store interface {
	// Initialize creates a new in-progress record for sessionID with the
	// given chunk count, zero completions, and an empty chunk list. Returns
	// ErrIncompleteExists if the session already has a non-complete record.
	Initialize(ctx context.Context, sessionID string, totalChunks int) (*Record, error)

	// Get returns the record with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// FindIncomplete returns the most recently created non-complete record
	// for sessionID, or ErrNotFound when the session has none.
	FindIncomplete(ctx context.Context, sessionID string) (*Record, error)

	// FindLatest returns the most recently created record for sessionID
	// regardless of completion, or ErrNotFound when the session has none.
	FindLatest(ctx context.Context, sessionID string) (*Record, error)

	// UpsertChunk replaces the entry whose Index matches chunk, or appends
	// it when absent, then recomputes the aggregate fields. The status
	// change must satisfy [Transition] (an absent entry starts from
	// pending). Returns the updated record.
	UpsertChunk(ctx context.Context, id string, chunk ChunkState) (*Record, error)

	// MarkComplete writes the terminal transcript fields and flips the
	// record status to completed.
	MarkComplete(ctx context.Context, id string, result transcription.Result) error

	// Clear resets the chunk list, counters, and terminal fields without
	// deleting the record, forcing the next run to start fresh.
	Clear(ctx context.Context, id string) error
}
