// Package server exposes the transcription pipeline over an HTTP JSON API.
//
// Sessions are driven through three steps: upload the recording, start (or
// resume) transcription, and fetch the finished transcript. Progress streams
// over a websocket while a run is active, and finished transcripts feed the
// recap, podcast and search endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tavernlog/tavernlog/internal/config"
	"github.com/tavernlog/tavernlog/internal/health"
	"github.com/tavernlog/tavernlog/internal/observe"
	"github.com/tavernlog/tavernlog/internal/recap"
	"github.com/tavernlog/tavernlog/internal/search"
	"github.com/tavernlog/tavernlog/pkg/transcription"
	"github.com/tavernlog/tavernlog/pkg/transcription/ledger"
)

const shutdownTimeout = 10 * time.Second

// Runner starts or resumes a transcription run. *pipeline.Orchestrator is
// the production implementation.
type Runner interface {
	Run(ctx context.Context, sessionID string, src []byte) (transcription.Result, error)
}

// Recapper generates narrative artifacts from a transcript.
// *recap.Generator is the production implementation.
type Recapper interface {
	Recap(ctx context.Context, req recap.Request) (string, error)
	PodcastScript(ctx context.Context, req recap.Request) (string, error)
}

// Option configures a [Server].
type Option func(*Server)

// WithRecapper enables the recap and podcast endpoints.
func WithRecapper(r Recapper) Option {
	return func(s *Server) { s.recapper = r }
}

// WithSearchIndex enables the search endpoint and post-run indexing.
func WithSearchIndex(idx search.Index) Option {
	return func(s *Server) { s.index = idx }
}

// WithMetrics attaches request metrics and the /metrics endpoint.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth attaches readiness checkers to /readyz.
func WithHealth(checkers ...health.Checker) Option {
	return func(s *Server) { s.health = health.New(checkers...) }
}

// Server is the HTTP front end. Construct with [New], then call [Server.Run].
type Server struct {
	cfg      config.ServerConfig
	store    ledger.Store
	runner   Runner
	recapper Recapper
	index    search.Index
	metrics  *observe.Metrics
	health   *health.Handler
	hub      *Hub

	httpServer *http.Server

	mu      sync.Mutex
	uploads map[string][]byte
	active  map[string]struct{}
}

// New assembles the server and its routes. The returned Server's [Hub]
// should be attached to the orchestrator as its progress sink.
func New(cfg config.ServerConfig, store ledger.Store, runner Runner, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		runner:  runner,
		hub:     NewHub(),
		uploads: make(map[string][]byte),
		active:  make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	return s
}

// Hub returns the progress hub; wire it into the orchestrator via
// [pipeline.WithProgressSink].
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions/{id}/audio", s.handleUpload)
	mux.HandleFunc("POST /api/sessions/{id}/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /api/sessions/{id}/transcription", s.handleTranscriptionState)
	mux.HandleFunc("GET /api/sessions/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("POST /api/sessions/{id}/recap", s.handleRecap)
	mux.HandleFunc("POST /api/sessions/{id}/podcast", s.handlePodcast)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /ws/sessions/{id}/progress", s.handleProgress)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if s.metrics != nil {
		handler = observe.Middleware(s.metrics)(mux)
	}
	return handler
}

// Run serves until ctx is cancelled, then drains in-flight requests. The
// listener is bound before Run returns control to the group, so callers can
// rely on the port being open once Run is underway.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS != nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if s.cfg.TLS != nil {
			err = s.httpServer.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.httpServer.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// acquireRun marks a session as having an active run. Reports false when a
// run is already underway.
func (s *Server) acquireRun(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[sessionID]; busy {
		return false
	}
	s.active[sessionID] = struct{}{}
	return true
}

func (s *Server) releaseRun(sessionID string) {
	s.mu.Lock()
	delete(s.active, sessionID)
	s.mu.Unlock()
}

// startRun launches an asynchronous transcription run for the stored audio.
// On success the transcript is indexed for search when an index is
// configured.
func (s *Server) startRun(sessionID string, src []byte) {
	go func() {
		defer s.releaseRun(sessionID)
		ctx := context.Background()

		result, err := s.runner.Run(ctx, sessionID, src)
		if err != nil {
			slog.Error("transcription run failed", "session_id", sessionID, "error", err)
			return
		}
		if s.index != nil {
			if err := s.index.IndexSession(ctx, sessionID, result); err != nil {
				slog.Error("search indexing failed", "session_id", sessionID, "error", err)
			}
		}
	}()
}
