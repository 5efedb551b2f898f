// Package memory defines the question/answer exchange store.
//
// Completed answer sessions are persisted as Exchange records so the answer
// provider can ground new responses in earlier ones: recent exchanges feed the
// rolling QA context window, and embedding search surfaces older exchanges
// that are semantically close to the current question.
//
// The interfaces are public so external packages can supply alternative
// storage backends (Postgres/pgvector, in-memory, …). Every implementation
// must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Exchange is one completed question → answer round.
type Exchange struct {
	// ID is the unique identifier for this exchange (a UUID).
	ID string

	// SessionID is the answer-session id the exchange was produced by.
	SessionID uint64

	// Question is the cleaned question that was answered.
	Question string

	// Summary is the short question restatement streamed before the answer.
	Summary string

	// Answer is the full sanitized answer text.
	Answer string

	// Embedding is the vector representation of Question. May be empty when
	// no embedding provider is configured; such exchanges are excluded from
	// similarity search but still appear in Recent.
	Embedding []float32

	// CreatedAt is when the exchange completed.
	CreatedAt time.Time
}

// Store persists and retrieves exchanges.
type Store interface {
	// SaveExchange inserts one completed exchange. Saving the same ID twice
	// replaces the stored record.
	SaveExchange(ctx context.Context, ex Exchange) error

	// Recent returns up to limit exchanges ordered most recent first.
	Recent(ctx context.Context, limit int) ([]Exchange, error)

	// Similar returns up to limit exchanges whose question embeddings are
	// closest to the supplied embedding, most similar first.
	Similar(ctx context.Context, embedding []float32, limit int) ([]Exchange, error)

	// Close releases backing resources.
	Close() error
}
