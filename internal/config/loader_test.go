package config_test

import (
	"strings"
	"testing"

	"github.com/tavernlog/tavernlog/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  log_level: info
database:
  postgres_dsn: "postgres://localhost/tavernlog"
transcription:
  provider:
    name: gemini
    api_key: test-key
    model: gemini-2.5-flash
  chunk_duration_seconds: 600
  max_retries: 3
  vocabulary:
    - Greymantle
    - Ravenloft
recap:
  provider:
    name: openai
    api_key: sk-test
    model: gpt-4o
  temperature: 0.7
search:
  embeddings:
    name: openai
    api_key: sk-test
  embedding_dimensions: 1536
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Transcription.ChunkDurationSeconds != 600 {
		t.Errorf("ChunkDurationSeconds = %d, want 600", cfg.Transcription.ChunkDurationSeconds)
	}
	if len(cfg.Transcription.Vocabulary) != 2 {
		t.Errorf("Vocabulary has %d entries, want 2", len(cfg.Transcription.Vocabulary))
	}
	if cfg.Recap.Provider.Model != "gpt-4o" {
		t.Errorf("Recap model = %q, want gpt-4o", cfg.Recap.Provider.Model)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
transcription:
  provider:
    name: gemini
    api_key: k
  chunk_minutes: 10
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field chunk_minutes, got nil")
	}
}

func TestValidate_MissingTranscriptionProvider(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing transcription provider, got nil")
	}
	if !strings.Contains(err.Error(), "transcription.provider.name") {
		t.Errorf("error should mention transcription.provider.name, got: %v", err)
	}
}

func TestValidate_GeminiRequiresAPIKey(t *testing.T) {
	t.Parallel()
	yaml := `
transcription:
  provider:
    name: gemini
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for gemini provider without api key, got nil")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error should mention api_key, got: %v", err)
	}
}

func TestValidate_WhisperRequiresModelPath(t *testing.T) {
	t.Parallel()
	yaml := `
transcription:
  provider:
    name: whisper
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for whisper provider without model path, got nil")
	}
	if !strings.Contains(err.Error(), "whisper_model_path") {
		t.Errorf("error should mention whisper_model_path, got: %v", err)
	}
}

func TestValidate_SearchRequiresDatabase(t *testing.T) {
	t.Parallel()
	yaml := `
transcription:
  provider:
    name: whisper
  whisper_model_path: /models/ggml-base.bin
search:
  embeddings:
    name: openai
    api_key: sk-test
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for search without database, got nil")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
transcription:
  provider:
    name: whisper
  whisper_model_path: /models/ggml-base.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_RecapTemperatureRange(t *testing.T) {
	t.Parallel()
	yaml := `
transcription:
  provider:
    name: whisper
  whisper_model_path: /models/ggml-base.bin
recap:
  provider:
    name: openai
  temperature: 3.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range temperature, got nil")
	}
	if !strings.Contains(err.Error(), "temperature") {
		t.Errorf("error should mention temperature, got: %v", err)
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/certs/server.pem
transcription:
  provider:
    name: whisper
  whisper_model_path: /models/ggml-base.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for TLS config missing key_file, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}
