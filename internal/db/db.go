// Package db provides a centralized database connection and schema for thermod.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Weekly schedule - one row per change point, keyed by weekday and
	// minutes from midnight so duplicate times are impossible by schema
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schedule_events (
			day INTEGER NOT NULL,
			minutes INTEGER NOT NULL,
			mode TEXT NOT NULL,
			temperature REAL,
			PRIMARY KEY (day, minutes)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schedule_events table: %w", err)
	}

	// Usage history - one row per calendar day, bounded by retention
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_history (
			date TEXT PRIMARY KEY,
			heating_seconds REAL NOT NULL DEFAULT 0,
			cooling_seconds REAL NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create usage_history table: %w", err)
	}

	// App state - JSON key-value rows for runtime state that must survive
	// a restart (safety config, active override, last sent command, usage
	// sample cursor)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create app_state table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
