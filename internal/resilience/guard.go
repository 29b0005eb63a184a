package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/tavernlog/tavernlog/internal/observe"
	"github.com/tavernlog/tavernlog/pkg/provider/model"
	"github.com/tavernlog/tavernlog/pkg/transcription"
)

var _ model.Provider = (*GuardedModel)(nil)

// GuardedModel decorates a [model.Provider] with a circuit breaker and
// request/error metrics. Retry policy stays with the orchestrator, which owns
// the sequential backoff between chunk attempts; the breaker here only stops
// hammering a provider that is consistently failing.
type GuardedModel struct {
	name    string
	inner   model.Provider
	breaker *CircuitBreaker
	metrics *observe.Metrics
}

// NewGuardedModel wraps inner with a breaker configured by cfg. The name is
// used for metrics attributes and breaker logs.
func NewGuardedModel(name string, inner model.Provider, cfg CircuitBreakerConfig, metrics *observe.Metrics) *GuardedModel {
	cfg.Name = name
	return &GuardedModel{
		name:    name,
		inner:   inner,
		breaker: NewCircuitBreaker(cfg),
		metrics: metrics,
	}
}

// Transcribe implements model.Provider. A rejected call (breaker open) is
// reported as a transient overload so the orchestrator's backoff applies.
func (g *GuardedModel) Transcribe(ctx context.Context, req model.Request) (model.Response, error) {
	var resp model.Response
	err := g.breaker.Execute(func() error {
		var innerErr error
		resp, innerErr = g.inner.Transcribe(ctx, req)
		return innerErr
	})

	if g.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			g.metrics.RecordProviderError(ctx, g.name, "transcription")
		}
		g.metrics.RecordProviderRequest(ctx, g.name, "transcription", status)
	}

	if errors.Is(err, ErrCircuitOpen) {
		return model.Response{}, fmt.Errorf("%w: %s circuit open", transcription.ErrProviderOverloaded, g.name)
	}
	return resp, err
}
