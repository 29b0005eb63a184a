package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/tavernlog/tavernlog/internal/recap"
	"github.com/tavernlog/tavernlog/internal/search"
	"github.com/tavernlog/tavernlog/pkg/transcription"
	"github.com/tavernlog/tavernlog/pkg/transcription/ledger"
)

// defaultMaxUploadBytes caps uploads when the config leaves the limit unset.
// Multi-hour WAV session recordings run large.
const defaultMaxUploadBytes = 2 << 30

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleUpload stores the session recording. WAV is the preferred format
// since only WAV can be chunked; other audio containers are accepted and
// transcribed whole in a single request. The audio is held until a
// transcribe request consumes it, so a failed run can be retried without
// re-uploading.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	limit := s.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds limit")
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty upload")
		return
	}

	s.mu.Lock()
	s.uploads[sessionID] = body
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId": sessionID,
		"bytes":     len(body),
	})
}

// handleTranscribe starts or resumes an asynchronous transcription run for
// previously uploaded audio.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	s.mu.Lock()
	src, ok := s.uploads[sessionID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no audio uploaded for session")
		return
	}

	if !s.acquireRun(sessionID) {
		writeError(w, http.StatusConflict, "transcription already running for session")
		return
	}
	s.startRun(sessionID, src)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"sessionId": sessionID,
		"status":    "started",
	})
}

// handleTranscriptionState returns the latest ledger record for the session:
// per-chunk states, retry counts and completion counters.
func (s *Server) handleTranscriptionState(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	rec, err := s.store.FindLatest(r.Context(), sessionID)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no transcription for session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// completedResult loads the finished transcript for a session, or writes the
// appropriate error response and returns false.
func (s *Server) completedResult(w http.ResponseWriter, r *http.Request, sessionID string) (transcription.Result, bool) {
	rec, err := s.store.FindLatest(r.Context(), sessionID)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no transcription for session")
		return transcription.Result{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return transcription.Result{}, false
	}
	if rec.Status != ledger.RecordCompleted {
		writeError(w, http.StatusConflict, "transcription not finished")
		return transcription.Result{}, false
	}
	return transcription.Result{
		Segments:      rec.Timestamps,
		RawTranscript: rec.RawTranscript,
	}, true
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	result, ok := s.completedResult(w, r, sessionID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":     sessionID,
		"segments":      result.Segments,
		"rawTranscript": result.RawTranscript,
	})
}

// recapRequest is the optional JSON body of the recap and podcast endpoints.
type recapRequest struct {
	// ContextQuery, when set and search is configured, pulls matching
	// snippets from earlier sessions into the generation prompt.
	ContextQuery string `json:"contextQuery"`
	ContextLimit int    `json:"contextLimit"`
}

func (s *Server) buildRecapRequest(w http.ResponseWriter, r *http.Request, sessionID string) (recap.Request, bool) {
	result, ok := s.completedResult(w, r, sessionID)
	if !ok {
		return recap.Request{}, false
	}

	var body recapRequest
	if r.Body != nil {
		// An empty body means no campaign context; anything else must parse.
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return recap.Request{}, false
		}
	}

	req := recap.Request{SessionID: sessionID, Transcript: result}
	if body.ContextQuery != "" && s.index != nil {
		snippets, err := s.index.Search(r.Context(), body.ContextQuery, body.ContextLimit, search.Filter{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "context search: "+err.Error())
			return recap.Request{}, false
		}
		req.Context = snippets
	}
	return req, true
}

func (s *Server) handleRecap(w http.ResponseWriter, r *http.Request) {
	if s.recapper == nil {
		writeError(w, http.StatusServiceUnavailable, "recap provider not configured")
		return
	}
	sessionID := r.PathValue("id")
	req, ok := s.buildRecapRequest(w, r, sessionID)
	if !ok {
		return
	}
	text, err := s.recapper.Recap(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"recap":     text,
	})
}

func (s *Server) handlePodcast(w http.ResponseWriter, r *http.Request) {
	if s.recapper == nil {
		writeError(w, http.StatusServiceUnavailable, "recap provider not configured")
		return
	}
	sessionID := r.PathValue("id")
	req, ok := s.buildRecapRequest(w, r, sessionID)
	if !ok {
		return
	}
	script, err := s.recapper.PodcastScript(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"script":    script,
	})
}

// handleSearch answers GET /api/search?q=...&session=...&limit=N over the
// transcript vector index.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "search not configured")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	filter := search.Filter{SessionID: r.URL.Query().Get("session")}

	snippets, err := s.index.Search(r.Context(), q, limit, filter)
	if errors.Is(err, search.ErrEmptyQuery) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": snippets})
}

// handleProgress upgrades to a websocket streaming progress events for one
// session.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, r.PathValue("id"))
}
