package session

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver, registers "sqlite"
)

// SQLiteStore keeps values in a single key/value table.
type SQLiteStore struct {
	conn *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (or creates) the database at path and ensures the table exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	// One connection: ":memory:" databases are per connection.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping session database: %w", err)
	}
	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS session_values (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create session table: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Get treats a query failure as absent.
func (s *SQLiteStore) Get(key Key) (string, bool) {
	var value string
	err := s.conn.QueryRow(`SELECT value FROM session_values WHERE key = ?`, string(key)).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

func (s *SQLiteStore) Set(key Key, value string) error {
	return s.SetAll(map[Key]string{key: value})
}

func (s *SQLiteStore) SetAll(values map[Key]string) error {
	return s.inTx(func(tx *sql.Tx) error {
		for k, v := range values {
			if _, err := tx.Exec(`
				INSERT INTO session_values (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
			`, string(k), v); err != nil {
				return fmt.Errorf("failed to write %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Clear(key Key) error {
	if _, err := s.conn.Exec(`DELETE FROM session_values WHERE key = ?`, string(key)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) ClearAll() error {
	return s.inTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM session_values`)
		return err
	})
}

func (s *SQLiteStore) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin session transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session transaction: %w", err)
	}
	return nil
}
