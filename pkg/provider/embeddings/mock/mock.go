// Package mock provides a deterministic test double for the
// embeddings.Provider interface. Vectors are derived from a hash of the input
// text, so equal texts embed identically and distinct texts almost never
// collide — enough for exercising similarity ranking without a live model.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/promptpane/promptpane/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a hash-based in-memory embeddings provider.
type Provider struct {
	// Dims is the vector length produced. Defaults to 8 when zero.
	Dims int

	// Err, when non-nil, is returned by Embed.
	Err error

	mu    sync.Mutex
	calls []string
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	p.mu.Lock()
	p.calls = append(p.calls, text)
	p.mu.Unlock()
	return p.vector(text), nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dims <= 0 {
		return 8
	}
	return p.Dims
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock-embed-v1" }

// Calls returns every text submitted to Embed, in order.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// vector derives a unit-norm vector from the FNV hash of text.
func (p *Provider) vector(text string) []float32 {
	dims := p.Dimensions()
	out := make([]float32, dims)

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	var norm float64
	for i := range out {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>11)) / float64(1<<52)
		out[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range out {
			out[i] *= scale
		}
	}
	return out
}
