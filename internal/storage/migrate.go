package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one versioned schema step. Dialects diverge on types only
// (UUID and TIMESTAMPTZ on Postgres, TEXT and DATETIME on SQLite), never
// on shape.
type migration struct {
	version  string
	postgres string
	sqlite   string
}

var migrations = []migration{
	{
		version: "0001_documents",
		postgres: `
			CREATE TABLE IF NOT EXISTS documents (
				id UUID PRIMARY KEY,
				filename TEXT NOT NULL,
				content TEXT NOT NULL,
				content_hash TEXT NOT NULL,
				size_bytes BIGINT NOT NULL,
				mime_type TEXT,
				status TEXT NOT NULL DEFAULT 'uploaded',
				total_chunks INTEGER,
				confidence_score DOUBLE PRECISION,
				metadata TEXT NOT NULL DEFAULT '{}',
				uploaded_at TIMESTAMPTZ NOT NULL,
				processed_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_documents_content_hash ON documents(content_hash);
			CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
		`,
		sqlite: `
			CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				filename TEXT NOT NULL,
				content TEXT NOT NULL,
				content_hash TEXT NOT NULL,
				size_bytes INTEGER NOT NULL,
				mime_type TEXT,
				status TEXT NOT NULL DEFAULT 'uploaded',
				total_chunks INTEGER,
				confidence_score REAL,
				metadata TEXT NOT NULL DEFAULT '{}',
				uploaded_at DATETIME NOT NULL,
				processed_at DATETIME,
				created_at DATETIME NOT NULL DEFAULT (datetime('now')),
				updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX IF NOT EXISTS idx_documents_content_hash ON documents(content_hash);
			CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
		`,
	},
	{
		version: "0002_analyses",
		postgres: `
			CREATE TABLE IF NOT EXISTS analyses (
				id UUID PRIMARY KEY,
				document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
				status TEXT NOT NULL DEFAULT 'pending',
				content_hash TEXT NOT NULL,
				options_hash TEXT NOT NULL,
				options TEXT NOT NULL DEFAULT '{}',
				result TEXT,
				error TEXT,
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_analyses_document_id ON analyses(document_id);
			CREATE INDEX IF NOT EXISTS idx_analyses_reuse ON analyses(content_hash, options_hash, status);
		`,
		sqlite: `
			CREATE TABLE IF NOT EXISTS analyses (
				id TEXT PRIMARY KEY,
				document_id TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				content_hash TEXT NOT NULL,
				options_hash TEXT NOT NULL,
				options TEXT NOT NULL DEFAULT '{}',
				result TEXT,
				error TEXT,
				started_at DATETIME,
				completed_at DATETIME,
				created_at DATETIME NOT NULL DEFAULT (datetime('now')),
				updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
				FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_analyses_document_id ON analyses(document_id);
			CREATE INDEX IF NOT EXISTS idx_analyses_reuse ON analyses(content_hash, options_hash, status);
		`,
	},
}

// Migrate brings the schema up to date, applying any pending migrations in
// version order. Applied versions are recorded in schema_migrations so the
// call is idempotent. Driver is "postgres" or "sqlite"; empty defaults to
// sqlite.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	if err := ensureSchemaMigrationsTable(ctx, db, driver); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		stmt := m.postgres
		if driver == "sqlite" || driver == "" {
			stmt = m.sqlite
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run migration %s: %w", m.version, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
	}
	return nil
}

func ensureSchemaMigrationsTable(ctx context.Context, db *sql.DB, driver string) error {
	var query string
	switch driver {
	case "sqlite", "":
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				version TEXT UNIQUE NOT NULL,
				applied_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`
	default:
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				id SERIAL PRIMARY KEY,
				version TEXT UNIQUE NOT NULL,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`
	}
	_, err := db.ExecContext(ctx, query)
	return err
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
