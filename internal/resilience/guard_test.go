package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tavernlog/tavernlog/pkg/provider/model"
	modelmock "github.com/tavernlog/tavernlog/pkg/provider/model/mock"
	"github.com/tavernlog/tavernlog/pkg/transcription"
)

func TestGuardedModel_PassesThroughSuccess(t *testing.T) {
	inner := modelmock.New(modelmock.Call{
		Response: model.Response{Text: `{"segments":[]}`, FinishReason: "stop"},
	})
	g := NewGuardedModel("test", inner, CircuitBreakerConfig{}, nil)

	resp, err := g.Transcribe(context.Background(), model.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
}

func TestGuardedModel_OpenBreakerSignalsOverload(t *testing.T) {
	inner := modelmock.New(modelmock.Call{Err: errTest})
	g := NewGuardedModel("test", inner, CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	}, nil)

	_, err := g.Transcribe(context.Background(), model.Request{})
	if !errors.Is(err, errTest) {
		t.Fatalf("first call err = %v, want errTest", err)
	}

	// The breaker is now open; the rejection must be retryable as overload
	// so the orchestrator backs off instead of failing the run.
	_, err = g.Transcribe(context.Background(), model.Request{})
	if !errors.Is(err, transcription.ErrProviderOverloaded) {
		t.Fatalf("err = %v, want ErrProviderOverloaded", err)
	}
	if inner.Calls() != 1 {
		t.Errorf("inner calls = %d, want 1 (open breaker must not forward)", inner.Calls())
	}
}
