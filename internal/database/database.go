package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// schema holds every table the loop persists: one row per session,
// the append-only transcript (iteration records and events), and
// the latency histogram.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	project_dir   TEXT NOT NULL,
	spec_hash     TEXT NOT NULL,
	status        TEXT NOT NULL,
	budget        INTEGER NOT NULL,
	iterations    INTEGER NOT NULL DEFAULT 0,
	snapshot_hash TEXT,
	created_at    INTEGER NOT NULL,
	completed_at  INTEGER
);

CREATE TABLE IF NOT EXISTS iteration_records (
	session_id   TEXT NOT NULL,
	iteration    INTEGER NOT NULL,
	proposal     TEXT NOT NULL,
	apply_status TEXT NOT NULL,
	conflicts    TEXT,
	test_status  TEXT,
	exit_code    INTEGER,
	output       TEXT,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	PRIMARY KEY (session_id, iteration)
);

CREATE TABLE IF NOT EXISTS events (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	state      TEXT NOT NULL,
	iteration  INTEGER NOT NULL,
	payload    TEXT,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);

CREATE TABLE IF NOT EXISTS latency_histogram (
	operation TEXT NOT NULL,
	bucket_ms INTEGER NOT NULL,
	count     INTEGER NOT NULL DEFAULT 0,
	timestamp INTEGER NOT NULL,
	PRIMARY KEY (operation, bucket_ms, timestamp)
);
`

// Open opens (creating if needed) the protoloop database at path
// and applies the schema.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; sqlite handles readers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database, used by tests.
func OpenMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}
