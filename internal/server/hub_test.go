package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tavernlog/tavernlog/internal/pipeline"
)

func TestHub_PublishFiltersBySession(t *testing.T) {
	h := NewHub()
	sub := h.subscribe("session-1")
	defer h.unsubscribe(sub)

	h.Publish(pipeline.Event{SessionID: "session-2", Stage: pipeline.StageDecoding})
	h.Publish(pipeline.Event{SessionID: "session-1", Stage: pipeline.StageChunkCompleted, ChunkIndex: 3})

	select {
	case ev := <-sub.events:
		if ev.SessionID != "session-1" || ev.Stage != pipeline.StageChunkCompleted || ev.ChunkIndex != 3 {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("no event delivered")
	}
	select {
	case ev := <-sub.events:
		t.Errorf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := NewHub()
	sub := h.subscribe("session-1")
	defer h.unsubscribe(sub)

	// Overfill the subscriber queue; Publish must drop, not block.
	for i := 0; i < subscriberBuffer*2; i++ {
		h.Publish(pipeline.Event{SessionID: "session-1", ChunkIndex: i})
	}
	if got := len(sub.events); got != subscriberBuffer {
		t.Errorf("queued events = %d, want %d", got, subscriberBuffer)
	}
}

func TestProgressWebsocket(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/session-1/progress"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The subscription registers asynchronously after the upgrade, so keep
	// publishing until the event comes through.
	pubCtx, stopPublishing := context.WithCancel(ctx)
	defer stopPublishing()
	go func() {
		tick := time.NewTicker(5 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-pubCtx.Done():
				return
			case <-tick.C:
				s.Hub().Publish(pipeline.Event{
					SessionID:   "session-1",
					Stage:       pipeline.StageChunkCompleted,
					ChunkIndex:  1,
					TotalChunks: 4,
				})
			}
		}
	}()

	var ev pipeline.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.SessionID != "session-1" || ev.Stage != pipeline.StageChunkCompleted || ev.TotalChunks != 4 {
		t.Errorf("event = %+v", ev)
	}
}
