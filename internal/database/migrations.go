package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
	args  []any  // arguments for check
}

// passageMigrations is the ordered list of migrations for a passage table
// holding dims-dimensional embeddings.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
func passageMigrations(table string, dims int) []migration {
	ident := pgx.Identifier{table}.Sanitize()
	index := pgx.Identifier{table + "_embedding_idx"}.Sanitize()
	return []migration{
		{
			name:  "enable pgvector",
			sql:   `CREATE EXTENSION IF NOT EXISTS vector`,
			check: `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`,
		},
		{
			name: "create " + table + " table",
			sql: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id text PRIMARY KEY,
	content text NOT NULL,
	metadata jsonb NOT NULL DEFAULT '{}',
	embedding vector(%d) NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
)`, ident, dims),
			check: `SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = current_schema() AND tablename = $1)`,
			args:  []any{table},
		},
		{
			name:  "add " + table + " embedding hnsw index",
			sql:   fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`, index, ident),
			check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = $1)`,
			args:  []any{table + "_embedding_idx"},
		},
	}
}

// Migrate runs all pending schema migrations for the passage table.
// For each migration, it first checks whether the change is already present.
// If not, it attempts to apply it. If the apply fails (e.g. the vector
// extension is not installed on the server), the error is returned and the
// caller should treat this as fatal since retrieval depends on the table.
func (db *DB) Migrate(ctx context.Context, table string, dims int) error {
	var pending []migration
	for _, m := range passageMigrations(table, dims) {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check, m.args...).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart meeting-copilot.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
