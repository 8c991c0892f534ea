package db

import (
	"database/sql"
	"fmt"
)

// SchemaSQL is the complete schema for fresh installs. It reflects the
// state after all migrations.
//
// This is the single source of truth for the database schema. Repository
// tests load it via GetSchemaSQL() so a column referenced by code but
// missing here fails immediately with "no such column".
//
// When adding new columns or tables:
//  1. Add a migration to migrations.go
//  2. Update SchemaSQL here
const SchemaSQL = `
-- Outcomes (one row per reconciliation invocation)
CREATE TABLE IF NOT EXISTS outcomes (
	id TEXT PRIMARY KEY,
	cluster TEXT NOT NULL,
	service TEXT NOT NULL,
	phase TEXT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('success', 'rolled_back', 'failed', 'escalated')),
	revision_used TEXT,
	previous_revision TEXT,
	registered INTEGER NOT NULL DEFAULT 0,
	scaled INTEGER NOT NULL DEFAULT 0,
	desired_count INTEGER NOT NULL DEFAULT 0,
	running_count INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	reason TEXT,
	error TEXT,
	escalated INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_outcomes_service ON outcomes(cluster, service);
CREATE INDEX IF NOT EXISTS idx_outcomes_started ON outcomes(started_at);

-- Service locks (one holder per service key)
CREATE TABLE IF NOT EXISTS service_locks (
	key TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// InitSchema creates the schema on a fresh database or migrates an
// existing one.
func InitSchema(db *sql.DB) error {
	var tableCount int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableCount)
	if err != nil {
		return err
	}

	if tableCount > 0 {
		return RunMigrations(db)
	}

	// Fresh install: create the current schema and mark every migration
	// as applied.
	if _, err := db.Exec(SchemaSQL); err != nil {
		return err
	}
	if err := createVersionTable(db); err != nil {
		return err
	}
	for _, m := range migrations {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// GetSchemaSQL returns the authoritative schema SQL for use by tests.
// Tests should use this instead of hardcoding their own schema to prevent drift.
func GetSchemaSQL() string {
	return SchemaSQL
}
