package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on signals(reference) for trace lookups by gateway reference
const currentSchemaVersion = 1

// Store provides durable local state for confirmable operations.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db  *sql.DB
	seq atomic.Int64
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations and resumes the logical clock
// from the highest persisted seq.
//
// Use ":memory:" for an isolated in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection also keeps
	// ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db}
	last, err := s.maxSeq()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to resume clock: %w", err)
	}
	s.seq.Store(last)

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Prefer Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// NextSeq returns the next logical sequence number.
func (s *Store) NextSeq() int64 {
	return s.seq.Add(1)
}

// CurrentSeq returns the last issued sequence number.
func (s *Store) CurrentSeq() int64 {
	return s.seq.Load()
}

func (s *Store) maxSeq() (int64, error) {
	var last int64
	err := s.db.QueryRowContext(context.Background(), `
		SELECT MAX(m) FROM (
			SELECT COALESCE(MAX(seq), 0) AS m FROM operations
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM signals
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM applied_outcomes
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM sessions
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM accounts
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM balances
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM transactions
		)
	`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return last, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if _, err := db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_signals_reference
			ON signals(reference)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
