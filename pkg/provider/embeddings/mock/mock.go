// Package mock provides a test double for the embeddings.Provider interface.
//
// The mock produces deterministic vectors derived from the input text so that
// similarity-based tests behave reproducibly without a live model.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parleur/pkg/provider/embeddings"
)

// Compile-time interface assertion.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Dims is the vector length returned by Dimensions and produced by Embed.
	// Zero defaults to 4.
	Dims int

	// Vectors maps input text to a fixed return vector. Texts not present fall
	// back to a deterministic hash-derived vector.
	Vectors map[string][]float32

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// EmbedCalls records the texts passed to Embed and EmbedBatch, flattened,
	// in order.
	EmbedCalls []string
}

func (p *Provider) dims() int {
	if p.Dims == 0 {
		return 4
	}
	return p.Dims
}

// Embed records the call and returns the scripted or derived vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vectorFor(text), nil
}

// EmbedBatch records the call and returns one vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

// Dimensions returns Dims (default 4).
func (p *Provider) Dimensions() int {
	return p.dims()
}

// ModelID identifies the mock in logs.
func (*Provider) ModelID() string {
	return "mock-embed"
}

// vectorFor returns the scripted vector for text, or a deterministic vector
// derived from its bytes. Caller must hold mu.
func (p *Provider) vectorFor(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	out := make([]float32, p.dims())
	var h uint32 = 2166136261
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
	}
	for i := range out {
		h = h*1664525 + 1013904223
		out[i] = float32(h%1000) / 1000
	}
	return out
}
