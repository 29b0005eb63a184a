package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tavernlog/tavernlog/internal/pipeline"
)

// subscriberBuffer is the per-connection event queue depth. A subscriber
// that falls this far behind starts losing events; progress is advisory and
// the ledger endpoint always has the authoritative state.
const subscriberBuffer = 16

var _ pipeline.Sink = (*Hub)(nil)

type subscriber struct {
	sessionID string
	events    chan pipeline.Event
}

// Hub fans transcription progress events out to websocket subscribers.
// It implements [pipeline.Sink]; Publish never blocks. Safe for concurrent
// use.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Publish implements [pipeline.Sink]. Events are delivered to every
// subscriber watching the event's session; full subscriber queues drop.
func (h *Hub) Publish(ev pipeline.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.sessionID != ev.SessionID {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}

func (h *Hub) subscribe(sessionID string) *subscriber {
	sub := &subscriber{
		sessionID: sessionID,
		events:    make(chan pipeline.Event, subscriberBuffer),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// ServeWS upgrades the request to a websocket and streams progress events
// for sessionID until the client disconnects or the server shuts down.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "hub closed")

	sub := h.subscribe(sessionID)
	defer h.unsubscribe(sub)

	// Reads are discarded; their only job is surfacing client disconnects.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-sub.events:
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}
