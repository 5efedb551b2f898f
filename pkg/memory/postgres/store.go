package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/promptpane/promptpane/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// Store is the PostgreSQL-backed exchange store. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and runs [Migrate].
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [memory.Exchange.Embedding] values (e.g., 1536 for OpenAI
// text-embedding-3-small). Changing it after the first migration requires a
// manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// SaveExchange implements [memory.Store]. Saving an existing ID replaces the
// stored record.
func (s *Store) SaveExchange(ctx context.Context, ex memory.Exchange) error {
	const q = `
		INSERT INTO exchanges
		    (id, session_id, question, summary, answer, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    session_id = EXCLUDED.session_id,
		    question   = EXCLUDED.question,
		    summary    = EXCLUDED.summary,
		    answer     = EXCLUDED.answer,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`

	var vec any
	if len(ex.Embedding) > 0 {
		vec = pgvector.NewVector(ex.Embedding)
	}
	_, err := s.pool.Exec(ctx, q,
		ex.ID,
		int64(ex.SessionID),
		ex.Question,
		ex.Summary,
		ex.Answer,
		vec,
		ex.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save exchange: %w", err)
	}
	return nil
}

// Recent implements [memory.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]memory.Exchange, error) {
	const q = `
		SELECT id, session_id, question, summary, answer, created_at
		FROM exchanges
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	exchanges, err := pgx.CollectRows(rows, scanExchange)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	return exchanges, nil
}

// Similar implements [memory.Store]. Results are ordered by ascending cosine
// distance to the supplied embedding; rows without an embedding are excluded.
func (s *Store) Similar(ctx context.Context, embedding []float32, limit int) ([]memory.Exchange, error) {
	const q = `
		SELECT id, session_id, question, summary, answer, created_at
		FROM exchanges
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar: %w", err)
	}
	exchanges, err := pgx.CollectRows(rows, scanExchange)
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar: %w", err)
	}
	return exchanges, nil
}

// Close implements [memory.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanExchange(row pgx.CollectableRow) (memory.Exchange, error) {
	var (
		ex        memory.Exchange
		sessionID int64
	)
	err := row.Scan(&ex.ID, &sessionID, &ex.Question, &ex.Summary, &ex.Answer, &ex.CreatedAt)
	ex.SessionID = uint64(sessionID)
	return ex, err
}
