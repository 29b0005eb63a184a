package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcription": {"gemini", "whisper"},
	"recap":         {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings":    {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("transcription", cfg.Transcription.Provider.Name)
	validateProviderName("recap", cfg.Recap.Provider.Name)
	validateProviderName("embeddings", cfg.Search.Embeddings.Name)

	// Transcription
	tc := cfg.Transcription
	if tc.Provider.Name == "" {
		errs = append(errs, errors.New("transcription.provider.name is required"))
	}
	if tc.Provider.Name == "gemini" && tc.Provider.APIKey == "" {
		errs = append(errs, errors.New("transcription.provider.api_key is required for the gemini provider"))
	}
	if tc.Provider.Name == "whisper" && tc.WhisperModelPath == "" {
		errs = append(errs, errors.New("transcription.whisper_model_path is required for the whisper provider"))
	}
	if tc.ChunkDurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("transcription.chunk_duration_seconds %d must not be negative", tc.ChunkDurationSeconds))
	}
	if tc.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("transcription.max_retries %d must not be negative", tc.MaxRetries))
	}

	// Recap
	if cfg.Recap.Provider.Name != "" {
		if cfg.Recap.Temperature < 0 || cfg.Recap.Temperature > 2 {
			errs = append(errs, fmt.Errorf("recap.temperature %.2f is out of range [0.0, 2.0]", cfg.Recap.Temperature))
		}
	}

	// Search requires persistent storage for the vector index.
	if cfg.Search.Embeddings.Name != "" {
		if cfg.Database.PostgresDSN == "" {
			errs = append(errs, errors.New("search.embeddings is configured but database.postgres_dsn is empty; the vector index requires PostgreSQL"))
		}
		if cfg.Search.EmbeddingDimensions <= 0 {
			slog.Warn("search.embedding_dimensions is not set; defaulting to 1536")
		}
	}

	// Ledger persistence
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; transcription runs will not be resumable across restarts")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
