// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/tavernlog/tavernlog/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider.
//
// By default it produces deterministic vectors derived from the input text,
// so tests can index and query without configuring per-text results.
type Provider struct {
	mu sync.Mutex

	// EmbedErr, if non-nil, is returned as the error from Embed and EmbedBatch.
	EmbedErr error

	// DimensionsValue is returned by Dimensions. Zero defaults to 8.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedTexts records every text submitted, in order, across Embed and
	// EmbedBatch calls.
	EmbedTexts []string
}

// Embed records the call and returns a deterministic vector for text.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	p.EmbedTexts = append(p.EmbedTexts, text)
	return p.vectorFor(text), nil
}

// EmbedBatch records the call and returns one deterministic vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		p.EmbedTexts = append(p.EmbedTexts, t)
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.DimensionsValue > 0 {
		return p.DimensionsValue
	}
	return 8
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	if p.ModelIDValue != "" {
		return p.ModelIDValue
	}
	return "mock-embed"
}

// vectorFor hashes the text into Dimensions() buckets. Identical texts map
// to identical vectors.
func (p *Provider) vectorFor(text string) []float32 {
	dims := p.DimensionsValue
	if dims <= 0 {
		dims = 8
	}
	vec := make([]float32, dims)
	for i, r := range text {
		vec[i%dims] += float32(r%97) / 97
	}
	return vec
}
