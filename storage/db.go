package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
    id               TEXT PRIMARY KEY,
    timestamp        INTEGER NOT NULL,
    category         TEXT NOT NULL,
    level            TEXT,
    type             TEXT,
    area             TEXT,
    summary          TEXT,
    details          TEXT,
    record_id        TEXT,
    object_api_name  TEXT,
    transaction_id   TEXT,
    duration_ms      INTEGER,
    created_at       INTEGER,
    error_message    TEXT,
    error_stack      TEXT,
    error_type       TEXT,
    origin_kind      TEXT,
    origin_name      TEXT,
    origin_function  TEXT,
    stack            TEXT,
    received_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_timestamp ON entries(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_entries_transaction ON entries(transaction_id);

CREATE TABLE IF NOT EXISTS scrub_rules (
    id         TEXT PRIMARY KEY,
    pattern    TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
);
`

// OpenDB pins the pool to one connection: every ":memory:" connection is a
// separate database, and SQLite serializes writers anyway.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

func OpenMemoryDB() (*sql.DB, error) {
	return OpenDB(":memory:")
}
