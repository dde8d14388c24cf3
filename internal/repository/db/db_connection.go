package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens/creates the terminal's SQLite file and ensures tables exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// One writer: preference flushes, offline redemptions and the scan log
	// all go through the same connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = FULL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

const sqliteDriverName = "sqlite"

const schemaPreferences = `
CREATE TABLE IF NOT EXISTS preferences (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL
);
`

const schemaScanEvents = `
CREATE TABLE IF NOT EXISTS scan_events (
    id TEXT PRIMARY KEY,
    occurred_at TIMESTAMP NOT NULL,
    code TEXT NOT NULL,
    type TEXT NOT NULL,
    message TEXT NOT NULL,
    mode TEXT NOT NULL
);
`

const schemaOperators = `
CREATE TABLE IF NOT EXISTS operators (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL
);
`

const schemaTickets = `
CREATE TABLE IF NOT EXISTS tickets (
    secret TEXT PRIMARY KEY,
    order_code TEXT NOT NULL,
    attendee_name TEXT NOT NULL,
    item TEXT NOT NULL,
    variation TEXT NOT NULL,
    paid BOOLEAN NOT NULL,
    redeemed BOOLEAN NOT NULL,
    require_attention BOOLEAN NOT NULL
);
`

const schemaQueuedCheckins = `
CREATE TABLE IF NOT EXISTS queued_checkins (
    nonce TEXT PRIMARY KEY,
    secret TEXT NOT NULL,
    datetime TIMESTAMP NOT NULL,
    uploaded_at TIMESTAMP
);
`

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaPreferences,
		schemaScanEvents,
		schemaOperators,
		schemaTickets,
		schemaQueuedCheckins,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
