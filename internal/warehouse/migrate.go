// Package warehouse loads the silver and gold tables into Postgres and
// records stage runs alongside them.
package warehouse

import (
	"context"
	"embed"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DefaultSchema is the schema used when none is configured.
const DefaultSchema = "warehouse"

// SchemaOrDefault returns schema, or DefaultSchema when it is blank.
func SchemaOrDefault(schema string) string {
	if strings.TrimSpace(schema) == "" {
		return DefaultSchema
	}
	return schema
}

// Migrate runs all pending SQL migrations in lexicographic order.
// It creates the schema and its schema_migrations tracking table if needed,
// then applies any .sql files not yet recorded. The {{schema}} placeholder
// in each file is replaced by the quoted schema name.
func Migrate(ctx context.Context, pool db.Pool, schema string) error {
	schema = SchemaOrDefault(schema)
	log := zap.L().With(zap.String("component", "warehouse.migrate"), zap.String("schema", schema))

	// Advisory lock prevents concurrent migration runs.
	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock(4201337)"); err != nil {
		return eris.Wrap(err, "warehouse: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock(4201337)"); err != nil {
			log.Warn("warehouse: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if err := ensureMigrationTable(ctx, pool, schema); err != nil {
		return err
	}

	names, err := migrationNames()
	if err != nil {
		return err
	}

	applied, err := appliedMigrations(ctx, pool, schema)
	if err != nil {
		return err
	}

	quoted := pgx.Identifier{schema}.Sanitize()
	for _, name := range names {
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "warehouse: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))

		sql := strings.ReplaceAll(string(data), "{{schema}}", quoted)
		if _, err := pool.Exec(ctx, sql); err != nil {
			return eris.Wrapf(err, "warehouse: apply migration %s", name)
		}

		if _, err := pool.Exec(ctx,
			"INSERT INTO "+pgx.Identifier{schema, "schema_migrations"}.Sanitize()+" (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "warehouse: record migration %s", name)
		}

		log.Info("migration applied", zap.String("file", name))
	}

	return nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: read migration dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	// Zero-padded names sort numerically.
	sort.Strings(names)
	return names, nil
}

func ensureMigrationTable(ctx context.Context, pool db.Pool, schema string) error {
	quoted := pgx.Identifier{schema}.Sanitize()
	sql := `
		CREATE SCHEMA IF NOT EXISTS ` + quoted + `;
		CREATE TABLE IF NOT EXISTS ` + quoted + `.schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "warehouse: ensure migration table")
	}
	return nil
}

func appliedMigrations(ctx context.Context, pool db.Pool, schema string) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM "+pgx.Identifier{schema, "schema_migrations"}.Sanitize())
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
