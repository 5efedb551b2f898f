package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/promptpane/promptpane/pkg/provider/answer"
	"github.com/promptpane/promptpane/pkg/provider/embeddings"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	answer     map[string]func(ProviderEntry) (answer.Provider, error)
	vision     map[string]func(ProviderEntry) (answer.Provider, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		answer:     make(map[string]func(ProviderEntry) (answer.Provider, error)),
		vision:     make(map[string]func(ProviderEntry) (answer.Provider, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
	}
}

// RegisterAnswer registers an answer provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAnswer(name string, factory func(ProviderEntry) (answer.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answer[name] = factory
}

// RegisterVision registers a vision provider factory under name.
func (r *Registry) RegisterVision(name string, factory func(ProviderEntry) (answer.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vision[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateAnswer instantiates an answer provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateAnswer(entry ProviderEntry) (answer.Provider, error) {
	r.mu.RLock()
	factory, ok := r.answer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: answer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVision instantiates a vision provider using the factory registered under entry.Name.
func (r *Registry) CreateVision(entry ProviderEntry) (answer.Provider, error) {
	r.mu.RLock()
	factory, ok := r.vision[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vision/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
