package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/tavernlog/tavernlog/pkg/transcription"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to ChunkStatus
		legal    bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusProcessing, true}, // re-claim after a crashed run
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusFailed, StatusProcessing, true},

		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusProcessing, StatusPending, false},
	}

	for _, tt := range tests {
		err := Transition(tt.from, tt.to)
		if tt.legal && err != nil {
			t.Errorf("Transition(%s, %s) = %v, want nil", tt.from, tt.to, err)
		}
		if !tt.legal && !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("Transition(%s, %s) = %v, want ErrIllegalTransition", tt.from, tt.to, err)
		}
	}
}

func TestMemStore_Initialize(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	rec, err := store.Initialize(ctx, "session-1", 3)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if rec.TotalChunks != 3 || rec.CompletedChunks != 0 {
		t.Errorf("counters = %d/%d, want 0/3", rec.CompletedChunks, rec.TotalChunks)
	}
	if rec.LastProcessedChunkIndex != -1 {
		t.Errorf("LastProcessedChunkIndex = %d, want -1", rec.LastProcessedChunkIndex)
	}
	if rec.IsComplete {
		t.Error("new record must not be complete")
	}
	if len(rec.Chunks) != 0 {
		t.Errorf("new record has %d chunks, want empty list", len(rec.Chunks))
	}

	// A second Initialize over the incomplete record must fail.
	if _, err := store.Initialize(ctx, "session-1", 3); !errors.Is(err, ErrIncompleteExists) {
		t.Fatalf("second Initialize err = %v, want ErrIncompleteExists", err)
	}

	// Other sessions are unaffected.
	if _, err := store.Initialize(ctx, "session-2", 1); err != nil {
		t.Fatalf("Initialize other session: %v", err)
	}
}

func TestMemStore_UpsertChunkAccounting(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	rec, _ := store.Initialize(ctx, "session-1", 3)

	state := ChunkState{Index: 0, StartTimeSeconds: 0, EndTimeSeconds: 600, DurationSeconds: 600, Status: StatusProcessing}
	rec, err := store.UpsertChunk(ctx, rec.ID, state)
	if err != nil {
		t.Fatalf("UpsertChunk processing: %v", err)
	}
	if rec.CompletedChunks != 0 {
		t.Errorf("CompletedChunks = %d, want 0 while processing", rec.CompletedChunks)
	}

	state.Status = StatusCompleted
	state.Segments = []transcription.RawSegment{{TimeSeconds: 4, Text: "hi"}}
	rec, err = store.UpsertChunk(ctx, rec.ID, state)
	if err != nil {
		t.Fatalf("UpsertChunk completed: %v", err)
	}
	if rec.CompletedChunks != 1 {
		t.Errorf("CompletedChunks = %d, want 1", rec.CompletedChunks)
	}
	if rec.LastProcessedChunkIndex != 0 {
		t.Errorf("LastProcessedChunkIndex = %d, want 0", rec.LastProcessedChunkIndex)
	}
	if len(rec.Chunks) != 1 {
		t.Fatalf("chunk entry duplicated: %d entries", len(rec.Chunks))
	}
	if rec.IsComplete {
		t.Error("record complete with 1/3 chunks")
	}

	// Invariant: CompletedChunks equals the count of completed entries.
	completed := 0
	for _, c := range rec.Chunks {
		if c.Status == StatusCompleted {
			completed++
		}
	}
	if completed != rec.CompletedChunks {
		t.Errorf("invariant violated: %d completed entries vs counter %d", completed, rec.CompletedChunks)
	}
}

func TestMemStore_UpsertChunkRejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	rec, _ := store.Initialize(ctx, "session-1", 1)

	// Absent entry may not jump straight to completed.
	_, err := store.UpsertChunk(ctx, rec.ID, ChunkState{Index: 0, Status: StatusCompleted})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}

	mustUpsert(t, store, rec.ID, ChunkState{Index: 0, Status: StatusProcessing})
	mustUpsert(t, store, rec.ID, ChunkState{Index: 0, Status: StatusCompleted})

	// Completed is absorbing.
	_, err = store.UpsertChunk(ctx, rec.ID, ChunkState{Index: 0, Status: StatusProcessing})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("reprocessing completed chunk: err = %v, want ErrIllegalTransition", err)
	}
}

func TestMemStore_CompleteLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	rec, _ := store.Initialize(ctx, "session-1", 2)

	for i := range 2 {
		mustUpsert(t, store, rec.ID, ChunkState{Index: i, Status: StatusProcessing})
		mustUpsert(t, store, rec.ID, ChunkState{
			Index:    i,
			Status:   StatusCompleted,
			Segments: []transcription.RawSegment{{TimeSeconds: float64(i), Text: "x"}},
		})
	}

	got, _ := store.Get(ctx, rec.ID)
	if !got.IsComplete {
		t.Fatal("record should be complete after all chunks complete")
	}

	result := transcription.NewResult([]transcription.Segment{{TimeSeconds: 0, Text: "x"}})
	if err := store.MarkComplete(ctx, rec.ID, result); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}

	got, _ = store.Get(ctx, rec.ID)
	if got.Status != RecordCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.RawTranscript != result.RawTranscript {
		t.Errorf("RawTranscript = %q", got.RawTranscript)
	}

	// Completed record no longer blocks a fresh attempt.
	if _, err := store.FindIncomplete(ctx, "session-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindIncomplete after completion: err = %v, want ErrNotFound", err)
	}
}

func TestMemStore_FailedChunkLeavesResumableState(t *testing.T) {
	// 25-minute recording, 10-minute chunks: chunk 0 completes, chunk 1 fails.
	ctx := context.Background()
	store := NewMemStore()
	rec, _ := store.Initialize(ctx, "session-1", 3)

	mustUpsert(t, store, rec.ID, ChunkState{Index: 0, Status: StatusProcessing})
	mustUpsert(t, store, rec.ID, ChunkState{Index: 0, Status: StatusCompleted})
	mustUpsert(t, store, rec.ID, ChunkState{Index: 1, Status: StatusProcessing})
	rec, _ = store.UpsertChunk(ctx, rec.ID, ChunkState{Index: 1, Status: StatusFailed, Error: "validation failed", RetryCount: 3})

	if rec.CompletedChunks != 1 {
		t.Errorf("CompletedChunks = %d, want 1", rec.CompletedChunks)
	}
	if rec.IsComplete {
		t.Error("record must stay incomplete after a failed chunk")
	}

	found, err := store.FindIncomplete(ctx, "session-1")
	if err != nil {
		t.Fatalf("FindIncomplete: %v", err)
	}
	if found.ID != rec.ID {
		t.Errorf("FindIncomplete returned %s, want %s", found.ID, rec.ID)
	}
	if c := found.Chunk(1); c == nil || c.Status != StatusFailed || c.RetryCount != 3 {
		t.Errorf("chunk 1 state = %+v, want failed with retryCount 3", c)
	}
}

func TestMemStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	rec, _ := store.Initialize(ctx, "session-1", 1)
	mustUpsert(t, store, rec.ID, ChunkState{Index: 0, Status: StatusProcessing})

	if err := store.Clear(ctx, rec.ID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, _ := store.Get(ctx, rec.ID)
	if len(got.Chunks) != 0 || got.CompletedChunks != 0 || got.LastProcessedChunkIndex != -1 {
		t.Errorf("cleared record = %+v, want reset counters and empty chunks", got)
	}
}

func TestMemStore_GetNotFound(t *testing.T) {
	store := NewMemStore()
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func mustUpsert(t *testing.T, store Store, id string, chunk ChunkState) *Record {
	t.Helper()
	rec, err := store.UpsertChunk(context.Background(), id, chunk)
	if err != nil {
		t.Fatalf("UpsertChunk(%d → %s): %v", chunk.Index, chunk.Status, err)
	}
	return rec
}
