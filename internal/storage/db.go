// Package storage owns the SQLite database shared by the lexical index and
// the evaluation log.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	SchemaVersion = 1
)

// DB represents the database connection
type DB struct {
	conn *sql.DB
}

// NewDB opens (creating if needed) the database at path and applies pending
// migrations.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=10000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	database := &DB{conn: db}

	if err := database.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return database, nil
}

// migrate applies database migrations
func (db *DB) migrate() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Check current schema version
	var version int
	err = tx.QueryRow("PRAGMA user_version").Scan(&version)
	if err != nil {
		return err
	}

	// Apply migrations incrementally
	for version < SchemaVersion {
		version++
		switch version {
		case 1:
			if err := db.applySchemaV1(tx); err != nil {
				return fmt.Errorf("failed to apply schema v%d: %w", version, err)
			}
		default:
			return fmt.Errorf("unknown schema version: %d", version)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

// applySchemaV1 applies the initial schema: the fragment corpus with its FTS5
// shadow table, and the append-only evaluation log.
func (db *DB) applySchemaV1(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS fragments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fragment_id TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			text TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// FTS5 is mandatory here; the lexical index is built on bm25().
	_, err = tx.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS fragments_fts USING fts5(
			text, source, content='fragments', content_rowid='id'
		)
	`)
	if err != nil {
		return fmt.Errorf("fts5 unavailable: %w", err)
	}

	// Triggers keep the FTS table in sync with the corpus.
	_, err = tx.Exec(`
		CREATE TRIGGER IF NOT EXISTS fragments_ai AFTER INSERT ON fragments BEGIN
			INSERT INTO fragments_fts(rowid, text, source) VALUES (new.id, new.text, new.source);
		END;
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		CREATE TRIGGER IF NOT EXISTS fragments_ad AFTER DELETE ON fragments BEGIN
			DELETE FROM fragments_fts WHERE rowid = old.id;
		END;
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		CREATE TRIGGER IF NOT EXISTS fragments_au AFTER UPDATE ON fragments BEGIN
			DELETE FROM fragments_fts WHERE rowid = old.id;
			INSERT INTO fragments_fts(rowid, text, source) VALUES (new.id, new.text, new.source);
		END;
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS eval_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			question TEXT NOT NULL,
			question_hash TEXT NOT NULL,
			answer TEXT,
			strategy TEXT NOT NULL,
			outcome TEXT NOT NULL,
			decision TEXT,
			confidence REAL,
			issues TEXT,
			candidate_count INTEGER,
			regenerated BOOLEAN DEFAULT FALSE,
			degradations TEXT,
			stages TEXT NOT NULL,
			duration_ms INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_eval_log_created ON eval_log(created_at)`)
	if err != nil {
		return err
	}

	// Update schema version
	_, err = tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion))
	return err
}

// Ping verifies the connection is usable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// GetConnection returns the underlying database connection
func (db *DB) GetConnection() *sql.DB {
	return db.conn
}
