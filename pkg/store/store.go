// Package store provides SQLite persistence for violation records, fix
// attempts, and the singleton agent configuration row. It is the only durable
// state in the system: an interrupted run resumes from pending records on the
// next loop start.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS violations (
	id TEXT PRIMARY KEY,
	log_id TEXT,
	event_id TEXT,
	driver_id TEXT NOT NULL,
	driver_name TEXT,
	company_id TEXT NOT NULL,
	company_name TEXT,
	violation_key TEXT NOT NULL,
	violation_name TEXT NOT NULL,
	message TEXT,
	severity TEXT NOT NULL DEFAULT 'medium',
	category TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	metadata TEXT,
	discovered_at TIMESTAMP NOT NULL,
	fixed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_violations_status ON violations(status);
CREATE INDEX IF NOT EXISTS idx_violations_driver ON violations(driver_id);
CREATE INDEX IF NOT EXISTS idx_violations_discovered ON violations(discovered_at);

CREATE TABLE IF NOT EXISTS fix_attempts (
	id TEXT PRIMARY KEY,
	violation_id TEXT NOT NULL REFERENCES violations(id) ON DELETE CASCADE,
	strategy_name TEXT NOT NULL,
	status TEXT NOT NULL,
	result_message TEXT,
	execution_time_ms INTEGER,
	screenshot_path TEXT,
	retries INTEGER NOT NULL DEFAULT 0,
	approved_by TEXT,
	approved_at TIMESTAMP,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_fix_attempts_violation ON fix_attempts(violation_id);
CREATE INDEX IF NOT EXISTS idx_fix_attempts_status ON fix_attempts(status);

CREATE TABLE IF NOT EXISTS agent_config (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	state TEXT NOT NULL,
	polling_interval_seconds INTEGER NOT NULL DEFAULT 300,
	max_concurrent_fixes INTEGER NOT NULL DEFAULT 1,
	require_approval INTEGER NOT NULL DEFAULT 1,
	dry_run_mode INTEGER NOT NULL DEFAULT 1,
	last_run_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DB wraps the SQLite connection and owns schema bootstrap.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
// Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes; one connection avoids SQLITE_BUSY churn.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Conn exposes the underlying connection for repository construction.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}
