// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// Question embeddings power the exchange store's similarity search: each
// completed question/answer round is stored with the embedding of its
// question, and the answer provider can pull semantically close past
// exchanges into its context. All vectors from one Provider instance share
// the dimensionality reported by Dimensions.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
type Provider interface {
	// Embed computes the embedding vector for one text string. The returned
	// slice has length Dimensions().
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed vector length produced by this provider.
	// Constant for the lifetime of the instance; the exchange store's schema
	// is migrated against it.
	Dimensions() int

	// ModelID returns the backend model identifier, for logging and for
	// verifying that stored and queried vectors share a model.
	ModelID() string
}
