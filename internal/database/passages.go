package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/snarg/meeting-copilot/internal/retrieval"
)

// Passage is one indexed text chunk.
type Passage struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float32
}

// PassageIndex is a pgvector-backed nearest-neighbour index over one table.
type PassageIndex struct {
	db    *DB
	table string // sanitized identifier
	dims  int
}

// Passages returns the index over table. Embeddings must have dims entries.
func (db *DB) Passages(table string, dims int) *PassageIndex {
	return &PassageIndex{db: db, table: pgx.Identifier{table}.Sanitize(), dims: dims}
}

// Query returns the topK passages closest to vector by cosine distance.
// Score is 1 - cosine distance.
func (p *PassageIndex) Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]retrieval.Match, error) {
	if len(vector) != p.dims {
		return nil, fmt.Errorf("query vector has %d dimensions, index has %d", len(vector), p.dims)
	}
	if topK <= 0 {
		return nil, nil
	}

	metaCol := "NULL::jsonb"
	if includeMetadata {
		metaCol = "metadata"
	}
	sql := fmt.Sprintf(`SELECT id, content, %s, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		ORDER BY embedding <=> $1::vector
		LIMIT $2`, metaCol, p.table)

	rows, err := p.db.Pool.Query(ctx, sql, vectorLiteral(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("query passages: %w", err)
	}
	defer rows.Close()

	var matches []retrieval.Match
	for rows.Next() {
		var m retrieval.Match
		if err := rows.Scan(&m.ID, &m.Text, &m.Metadata, &m.Score); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return matches, nil
}

// UpsertPassage inserts or replaces a passage by id.
func (p *PassageIndex) UpsertPassage(ctx context.Context, ps Passage) error {
	if ps.ID == "" {
		return errors.New("passage id is required")
	}
	if len(ps.Embedding) != p.dims {
		return fmt.Errorf("passage %s has %d dimensions, index has %d", ps.ID, len(ps.Embedding), p.dims)
	}
	meta := ps.Metadata
	if meta == nil {
		meta = map[string]any{}
	}

	_, err := p.db.Pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4::vector)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = now()`, p.table),
		ps.ID, ps.Content, meta, vectorLiteral(ps.Embedding),
	)
	if err != nil {
		return fmt.Errorf("upsert passage %s: %w", ps.ID, err)
	}
	return nil
}

// Count returns the number of indexed passages.
func (p *PassageIndex) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.Pool.QueryRow(ctx, "SELECT count(*) FROM "+p.table).Scan(&n)
	return n, err
}

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
