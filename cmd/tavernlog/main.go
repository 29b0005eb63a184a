// Command tavernlog is the TavernLog transcription server: it turns long
// tabletop RPG session recordings into timestamped transcripts, recaps, and
// a searchable campaign archive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/tavernlog/tavernlog/internal/config"
	"github.com/tavernlog/tavernlog/internal/health"
	"github.com/tavernlog/tavernlog/internal/observe"
	"github.com/tavernlog/tavernlog/internal/pipeline"
	"github.com/tavernlog/tavernlog/internal/recap"
	"github.com/tavernlog/tavernlog/internal/resilience"
	"github.com/tavernlog/tavernlog/internal/search"
	"github.com/tavernlog/tavernlog/internal/server"
	"github.com/tavernlog/tavernlog/internal/transcript"
	embopenai "github.com/tavernlog/tavernlog/pkg/provider/embeddings/openai"
	"github.com/tavernlog/tavernlog/pkg/provider/llm"
	"github.com/tavernlog/tavernlog/pkg/provider/llm/anyllm"
	llmopenai "github.com/tavernlog/tavernlog/pkg/provider/llm/openai"
	"github.com/tavernlog/tavernlog/pkg/provider/model"
	"github.com/tavernlog/tavernlog/pkg/provider/model/gemini"
	"github.com/tavernlog/tavernlog/pkg/provider/model/whisper"
	"github.com/tavernlog/tavernlog/pkg/transcription"
	"github.com/tavernlog/tavernlog/pkg/transcription/ledger"
	ledgerpg "github.com/tavernlog/tavernlog/pkg/transcription/ledger/postgres"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tavernlog: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tavernlog: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("tavernlog starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "tavernlog",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Storage ───────────────────────────────────────────────────────────
	var (
		store ledger.Store
		pool  *pgxpool.Pool
	)
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		pool, err = pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("postgres connect failed", "err", err)
			return 1
		}
		defer pool.Close()
		if err := ledgerpg.Migrate(ctx, pool); err != nil {
			slog.Error("ledger migration failed", "err", err)
			return 1
		}
		store = ledgerpg.New(pool)
		slog.Info("ledger store ready", "backend", "postgres")
	} else {
		store = ledger.NewMemStore()
		slog.Warn("no postgres_dsn configured, transcription runs will not survive restarts")
	}

	// ── Transcription provider ────────────────────────────────────────────
	modelProvider, closeModel, err := buildModelProvider(ctx, cfg.Transcription)
	if err != nil {
		slog.Error("transcription provider init failed", "err", err)
		return 1
	}
	defer closeModel()

	guarded := resilience.NewGuardedModel(
		cfg.Transcription.Provider.Name,
		modelProvider,
		resilience.CircuitBreakerConfig{Name: cfg.Transcription.Provider.Name},
		metrics,
	)

	var transcriberOpts []pipeline.TranscriberOption
	if len(cfg.Transcription.Vocabulary) > 0 {
		transcriberOpts = append(transcriberOpts, pipeline.WithVocabulary(cfg.Transcription.Vocabulary))
	}
	if cfg.Transcription.MaxOutputTokens > 0 {
		transcriberOpts = append(transcriberOpts, pipeline.WithMaxOutputTokens(cfg.Transcription.MaxOutputTokens))
	}
	transcriber := pipeline.NewChunkTranscriber(guarded, transcriberOpts...)

	retryCfg := resilience.RetryConfig{
		Name:       "chunk-transcription",
		Retryable:  transcription.IsRetryable,
		IsOverload: transcription.IsRetryable,
	}
	if cfg.Transcription.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.Transcription.MaxRetries
	}

	// The progress hub is owned by the server, which is built after the
	// orchestrator; the sink indirection closes that loop.
	var hub *server.Hub
	orchOpts := []pipeline.OrchestratorOption{
		pipeline.WithRetrier(resilience.NewRetrier(retryCfg)),
		pipeline.WithMetrics(metrics),
		pipeline.WithProgressSink(pipeline.SinkFunc(func(ev pipeline.Event) {
			if hub != nil {
				hub.Publish(ev)
			}
		})),
	}
	if d := cfg.Transcription.ChunkDurationSeconds; d > 0 {
		orchOpts = append(orchOpts, pipeline.WithChunkDuration(secondsToDuration(d)))
	}
	if len(cfg.Transcription.Vocabulary) > 0 {
		orchOpts = append(orchOpts, pipeline.WithCorrector(transcript.NewCorrector(cfg.Transcription.Vocabulary)))
	}
	orchestrator := pipeline.NewOrchestrator(store, transcriber, orchOpts...)

	// ── Optional subsystems ───────────────────────────────────────────────
	serverOpts := []server.Option{server.WithMetrics(metrics)}

	if cfg.Recap.Provider.Name != "" {
		llmProvider, err := buildLLMProvider(cfg.Recap.Provider)
		if err != nil {
			slog.Error("recap provider init failed", "err", err)
			return 1
		}
		recapOpts := []recap.Option{recap.WithMetrics(metrics)}
		if cfg.Recap.Temperature > 0 {
			recapOpts = append(recapOpts, recap.WithTemperature(cfg.Recap.Temperature))
		}
		if cfg.Recap.MaxTokens > 0 {
			recapOpts = append(recapOpts, recap.WithMaxTokens(cfg.Recap.MaxTokens))
		}
		serverOpts = append(serverOpts, server.WithRecapper(recap.NewGenerator(llmProvider, recapOpts...)))
		slog.Info("recap provider ready", "name", cfg.Recap.Provider.Name, "model", cfg.Recap.Provider.Model)
	}

	if cfg.Search.Embeddings.Name != "" {
		index, closeIndex, err := buildSearchIndex(ctx, cfg)
		if err != nil {
			slog.Error("search index init failed", "err", err)
			return 1
		}
		defer closeIndex()
		serverOpts = append(serverOpts, server.WithSearchIndex(index))
	}

	var checkers []health.Checker
	if pool != nil {
		checkers = append(checkers, health.Database(pool))
	}
	serverOpts = append(serverOpts, server.WithHealth(checkers...))

	srv := server.New(cfg.Server, store, orchestrator, serverOpts...)
	hub = srv.Hub()

	slog.Info("server ready")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildModelProvider constructs the configured transcription backend. The
// returned close function releases native resources; it is a no-op for API
// backends.
func buildModelProvider(ctx context.Context, cfg config.TranscriptionConfig) (model.Provider, func(), error) {
	entry := cfg.Provider
	switch entry.Name {
	case "gemini":
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		p, err := gemini.New(ctx, entry.APIKey, opts...)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	case "whisper":
		var opts []whisper.Option
		if cfg.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Language))
		}
		p, err := whisper.New(cfg.WhisperModelPath, opts...)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {
			if err := p.Close(); err != nil {
				slog.Warn("whisper close error", "err", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transcription provider %q", entry.Name)
	}
}

// buildLLMProvider constructs the recap completion backend. "openai" uses the
// native client; everything else goes through the any-llm multiplexer.
func buildLLMProvider(entry config.ProviderEntry) (llm.Provider, error) {
	if entry.Name == "openai" {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	}

	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

// buildSearchIndex constructs the embeddings provider and the vector index
// over it: pgvector-backed when a database is configured, in-memory
// otherwise.
func buildSearchIndex(ctx context.Context, cfg *config.Config) (search.Index, func(), error) {
	entry := cfg.Search.Embeddings
	if entry.Name != "openai" {
		return nil, nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}

	var opts []embopenai.Option
	if entry.BaseURL != "" {
		opts = append(opts, embopenai.WithBaseURL(entry.BaseURL))
	}
	embedder, err := embopenai.New(entry.APIKey, entry.Model, opts...)
	if err != nil {
		return nil, nil, err
	}
	if want := cfg.Search.EmbeddingDimensions; want > 0 && want != embedder.Dimensions() {
		slog.Warn("embedding_dimensions does not match the model, using the model's dimension",
			"configured", want,
			"model", embedder.Dimensions(),
		)
	}

	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		store, err := search.NewStore(ctx, dsn, embedder)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("search index ready", "backend", "pgvector", "dimensions", embedder.Dimensions())
		return store, store.Close, nil
	}

	slog.Warn("search index is in-memory, it will not survive restarts")
	return search.NewMemIndex(embedder), func() {}, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
