package search

import (
	"context"
	"errors"
	"testing"

	embedmock "github.com/tavernlog/tavernlog/pkg/provider/embeddings/mock"
	"github.com/tavernlog/tavernlog/pkg/transcription"
)

func testIndex(t *testing.T) *MemIndex {
	t.Helper()
	return NewMemIndex(&embedmock.Provider{})
}

func indexSession(t *testing.T, idx *MemIndex, sessionID string, segments ...transcription.Segment) {
	t.Helper()
	if err := idx.IndexSession(context.Background(), sessionID, transcription.NewResult(segments)); err != nil {
		t.Fatalf("IndexSession(%s): %v", sessionID, err)
	}
}

func TestSearch_ExactTextRanksFirst(t *testing.T) {
	idx := testIndex(t)
	indexSession(t, idx, "session-1",
		transcription.Segment{TimeSeconds: 10, Text: "the party enters the lighthouse"},
		transcription.Segment{TimeSeconds: 90, Text: "a long rest at the tavern"},
	)

	got, err := idx.Search(context.Background(), "the party enters the lighthouse", 5, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	if got[0].Text != "the party enters the lighthouse" {
		t.Errorf("top result = %q, want the exact segment", got[0].Text)
	}
	if got[0].Distance > got[1].Distance {
		t.Errorf("results not ordered by distance: %v then %v", got[0].Distance, got[1].Distance)
	}
	if got[0].TimeSeconds != 10 || got[0].SessionID != "session-1" {
		t.Errorf("top result metadata = %+v", got[0])
	}
}

func TestSearch_SessionFilter(t *testing.T) {
	idx := testIndex(t)
	indexSession(t, idx, "session-1", transcription.Segment{TimeSeconds: 0, Text: "dragon attack"})
	indexSession(t, idx, "session-2", transcription.Segment{TimeSeconds: 0, Text: "dragon attack"})

	got, err := idx.Search(context.Background(), "dragon", 10, Filter{SessionID: "session-2"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "session-2" {
		t.Errorf("got %+v, want only session-2", got)
	}
}

func TestSearch_LimitApplied(t *testing.T) {
	idx := testIndex(t)
	indexSession(t, idx, "session-1",
		transcription.Segment{TimeSeconds: 0, Text: "one"},
		transcription.Segment{TimeSeconds: 1, Text: "two"},
		transcription.Segment{TimeSeconds: 2, Text: "three"},
	)

	got, err := idx.Search(context.Background(), "one", 2, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("results = %d, want 2", len(got))
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	idx := testIndex(t)
	if _, err := idx.Search(context.Background(), "   ", 5, Filter{}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestIndexSession_ReplacesPreviousSegments(t *testing.T) {
	idx := testIndex(t)
	indexSession(t, idx, "session-1",
		transcription.Segment{TimeSeconds: 0, Text: "old content"},
		transcription.Segment{TimeSeconds: 5, Text: "more old content"},
	)
	indexSession(t, idx, "session-1", transcription.Segment{TimeSeconds: 0, Text: "new content"})

	got, err := idx.Search(context.Background(), "content", 10, Filter{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Text != "new content" {
		t.Errorf("got %+v, want only the re-indexed segment", got)
	}
}

func TestDeleteSession(t *testing.T) {
	idx := testIndex(t)
	indexSession(t, idx, "session-1", transcription.Segment{TimeSeconds: 0, Text: "gone soon"})

	if err := idx.DeleteSession(context.Background(), "session-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	got, err := idx.Search(context.Background(), "gone", 10, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("results = %d, want 0 after delete", len(got))
	}
}

func TestSearch_EmbedErrorPropagates(t *testing.T) {
	wantErr := errors.New("backend down")
	idx := NewMemIndex(&embedmock.Provider{EmbedErr: wantErr})
	if _, err := idx.Search(context.Background(), "anything", 5, Filter{}); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestSegmentContent_IncludesSpeaker(t *testing.T) {
	seg := transcription.Segment{TimeSeconds: 3, Text: "roll initiative", Speaker: "GM"}
	if got := segmentContent(seg); got != "GM: roll initiative" {
		t.Errorf("segmentContent = %q", got)
	}
	seg.Speaker = ""
	if got := segmentContent(seg); got != "roll initiative" {
		t.Errorf("segmentContent without speaker = %q", got)
	}
}
