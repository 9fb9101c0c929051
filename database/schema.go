package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ChunkTable = "paper_chunks"

// EnsurePaperSchema creates the pgvector extension and the chunk table with
// an embedding column of the given dimension.
func EnsurePaperSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			source_id TEXT NOT NULL,
			batch_id TEXT NOT NULL,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, ChunkTable, dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_session ON %[1]s(session_id)", ChunkTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_source ON %[1]s(source)", ChunkTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding ON %[1]s USING hnsw (embedding vector_cosine_ops)", ChunkTable),
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

// ChunkDimension reports the embedding dimension of the existing chunk
// table; ok is false when the table does not exist.
func ChunkDimension(ctx context.Context, pool *pgxpool.Pool) (dimension int, ok bool, err error) {
	err = pool.QueryRow(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		WHERE a.attrelid = to_regclass($1) AND a.attname = 'embedding'
	`, ChunkTable).Scan(&dimension)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query embedding dimension: %w", err)
	}
	return dimension, true, nil
}

func DropPaperSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+ChunkTable); err != nil {
		return fmt.Errorf("drop chunk table: %w", err)
	}
	return nil
}
