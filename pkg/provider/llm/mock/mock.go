// Package mock provides a scripted llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/tavernlog/tavernlog/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Call is a single scripted Complete outcome.
type Call struct {
	Response *llm.CompletionResponse
	Err      error
}

// Provider replays scripted completions in order and records every request.
// Once the script is exhausted the last call repeats.
type Provider struct {
	mu       sync.Mutex
	script   []Call
	pos      int
	requests []llm.CompletionRequest
}

// New creates a mock provider that replays the given calls.
func New(calls ...Call) *Provider {
	return &Provider{script: calls}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if len(p.script) == 0 {
		return &llm.CompletionResponse{Content: "ok"}, nil
	}
	call := p.script[p.pos]
	if p.pos < len(p.script)-1 {
		p.pos++
	}
	return call.Response, call.Err
}

// Requests returns a copy of every request seen so far.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}
