// Package mock provides a scripted model.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/tavernlog/tavernlog/pkg/provider/model"
)

var _ model.Provider = (*Provider)(nil)

// Call is a single scripted Transcribe outcome.
type Call struct {
	Response model.Response
	Err      error
}

// Provider replays scripted responses in order and records every request it
// receives. Once the script is exhausted the last call repeats.
type Provider struct {
	mu       sync.Mutex
	script   []Call
	pos      int
	requests []model.Request
}

// New creates a mock provider that replays the given calls.
func New(calls ...Call) *Provider {
	return &Provider{script: calls}
}

// Transcribe implements model.Provider.
func (p *Provider) Transcribe(_ context.Context, req model.Request) (model.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if len(p.script) == 0 {
		return model.Response{FinishReason: "stop"}, nil
	}
	call := p.script[p.pos]
	if p.pos < len(p.script)-1 {
		p.pos++
	}
	return call.Response, call.Err
}

// Requests returns a copy of every request seen so far.
func (p *Provider) Requests() []model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Calls returns how many times Transcribe was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
