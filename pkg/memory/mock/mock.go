// Package mock provides an in-memory memory.Store for tests and for running
// without a database.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/promptpane/promptpane/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// Store is an in-memory implementation of [memory.Store]. Safe for concurrent
// use.
type Store struct {
	mu        sync.Mutex
	exchanges []memory.Exchange
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// SaveExchange implements [memory.Store].
func (s *Store) SaveExchange(_ context.Context, ex memory.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.exchanges {
		if existing.ID == ex.ID {
			s.exchanges[i] = ex
			return nil
		}
	}
	s.exchanges = append(s.exchanges, ex)
	return nil
}

// Recent implements [memory.Store].
func (s *Store) Recent(_ context.Context, limit int) ([]memory.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]memory.Exchange, 0, limit)
	for i := len(s.exchanges) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.exchanges[i])
	}
	return out, nil
}

// Similar implements [memory.Store] using cosine similarity over the stored
// embeddings. Exchanges without an embedding are skipped.
func (s *Store) Similar(_ context.Context, embedding []float32, limit int) ([]memory.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		ex    memory.Exchange
		score float64
	}
	var candidates []scored
	for _, ex := range s.exchanges {
		if len(ex.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, scored{ex, cosine(embedding, ex.Embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	out := make([]memory.Exchange, 0, limit)
	for _, c := range candidates {
		if len(out) == limit {
			break
		}
		out = append(out, c.ex)
	}
	return out, nil
}

// Close implements [memory.Store].
func (s *Store) Close() error { return nil }

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
