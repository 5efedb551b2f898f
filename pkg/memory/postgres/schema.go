// Package postgres provides a PostgreSQL-backed implementation of the
// exchange store.
//
// Exchanges live in a single table with a pgvector column for the question
// embedding; similarity search runs over an HNSW index with cosine distance.
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveExchange(ctx, ex)
//	recent, _ := store.Recent(ctx, 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlExtension = `CREATE EXTENSION IF NOT EXISTS vector;`

func ddlExchanges(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS exchanges (
    id          TEXT         PRIMARY KEY,
    session_id  BIGINT       NOT NULL,
    question    TEXT         NOT NULL,
    summary     TEXT         NOT NULL DEFAULT '',
    answer      TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_exchanges_created_at
    ON exchanges (created_at DESC);

CREATE INDEX IF NOT EXISTS idx_exchanges_embedding
    ON exchanges USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate ensures the pgvector extension, the exchanges table, and its
// indexes exist. It is idempotent and runs automatically from [NewStore].
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	for _, stmt := range []string{ddlExtension, ddlExchanges(embeddingDimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
