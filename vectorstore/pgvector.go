package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/paper-agent/database"
)

// Postgres stores chunks in the paper_chunks table and ranks them by cosine
// distance.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) EnsureIndex(ctx context.Context, dimension int) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	have, exists, err := database.ChunkDimension(ctx, s.pool)
	if err != nil {
		return err
	}
	if exists && have != dimension {
		return mismatch(database.ChunkTable, have, dimension)
	}
	return database.EnsurePaperSchema(ctx, s.pool, dimension)
}

func (s *Postgres) DropIndex(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	return database.DropPaperSchema(ctx, s.pool)
}

func (s *Postgres) Upsert(ctx context.Context, records []Record) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		m := r.Metadata
		batch.Queue(`
			INSERT INTO paper_chunks (id, source, session_id, source_id, batch_id, chunk_index, content, embedding, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE
			SET source = EXCLUDED.source,
			    session_id = EXCLUDED.session_id,
			    source_id = EXCLUDED.source_id,
			    batch_id = EXCLUDED.batch_id,
			    chunk_index = EXCLUDED.chunk_index,
			    content = EXCLUDED.content,
			    embedding = EXCLUDED.embedding,
			    updated_at = NOW()
		`, r.ID, m.Source, m.SessionID, m.SourceID, m.BatchID, m.ChunkIndex, m.Text, pgvector.NewVector(r.Values))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", records[i].ID, err)
		}
	}
	return nil
}

func (s *Postgres) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	where, arg := sqlFilter(filter)
	args := []any{pgvector.NewVector(vector), topK}
	if where != "" {
		where = "WHERE " + fmt.Sprintf(where, 3)
		args = append(args, arg)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, source, session_id, source_id, batch_id, chunk_index, content,
		       1 - (embedding <=> $1::vector) AS score
		FROM paper_chunks
		%s
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m     Match
			score float64
		)
		if err := rows.Scan(&m.ID, &m.Metadata.Source, &m.Metadata.SessionID, &m.Metadata.SourceID, &m.Metadata.BatchID, &m.Metadata.ChunkIndex, &m.Metadata.Text, &score); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		m.Metadata.ChunkID = m.ID
		m.Score = float32(score)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *Postgres) Delete(ctx context.Context, filter Filter) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	where, arg := sqlFilter(filter)
	var err error
	if where == "" {
		_, err = s.pool.Exec(ctx, "DELETE FROM paper_chunks")
	} else {
		_, err = s.pool.Exec(ctx, "DELETE FROM paper_chunks WHERE "+fmt.Sprintf(where, 1), arg)
	}
	if err != nil {
		return fmt.Errorf("delete chunks (%s): %w", filter, err)
	}
	return nil
}

// sqlFilter returns a WHERE fragment with a %d placeholder for the
// parameter position, and its argument.
func sqlFilter(f Filter) (string, any) {
	switch {
	case f.SessionID != "":
		return "session_id = $%d", f.SessionID
	case f.Source != "":
		return "source = $%d", f.Source
	default:
		return "", nil
	}
}

var _ Store = (*Postgres)(nil)
