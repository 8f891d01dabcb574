// Package db persists items, price entries, and sub-categories in SQLite.
// The storage layer is the concurrency arbiter for items: the unique
// constraint on item_gid resolves concurrent first observations, and the
// dedup index converts near-duplicate price inserts into benign conflicts.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dofus-hdv/internal/logger"
	_ "modernc.org/sqlite"
)

// ErrConflict marks a unique-constraint violation. Callers treat it as
// the expected resolution of a race or a duplicate capture, not a failure.
var ErrConflict = errors.New("constraint conflict")

// DB wraps a SQLite database connection.
type DB struct {
	Session
	sql *sql.DB
}

func defaultPath() string {
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "hdv.db")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "hdv.db")
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// An empty path selects ./hdv.db.
func Open(path string) (*DB, error) {
	if path == "" {
		path = defaultPath()
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{Session: Session{q: sqlDB}, sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// SqlDB returns the underlying *sql.DB for use by other packages.
func (d *DB) SqlDB() *sql.DB {
	return d.sql
}

// WithTx runs fn inside a transaction, committing on nil and rolling
// back on error. All Session methods called through s share the tx.
func (d *DB) WithTx(fn func(s *Session) error) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Session{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS sub_categories (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				dofus_id   INTEGER NOT NULL UNIQUE CHECK (dofus_id > 0),
				name       TEXT NOT NULL CHECK (length(trim(name)) > 0),
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS items (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				item_gid        INTEGER NOT NULL UNIQUE CHECK (item_gid > 0),
				item_name       TEXT CHECK (item_name IS NULL OR length(trim(item_name)) > 0),
				sub_category_id INTEGER REFERENCES sub_categories(id) ON DELETE SET NULL,
				created_at      TEXT NOT NULL,
				updated_at      TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS price_entries (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				item_id          INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
				price            INTEGER NOT NULL CHECK (price > 0),
				quantity         INTEGER NOT NULL CHECK (quantity IN (1, 10, 100)),
				server_timestamp INTEGER CHECK (server_timestamp IS NULL OR server_timestamp > 0),
				created_at       TEXT NOT NULL,
				minute_bucket    TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_price_entries_created ON price_entries(created_at);
			CREATE INDEX IF NOT EXISTS idx_price_entries_item_qty ON price_entries(item_id, quantity);
			CREATE INDEX IF NOT EXISTS idx_price_entries_item_created ON price_entries(item_id, created_at DESC);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_price_entries_dedup
				ON price_entries(item_id, quantity, price, minute_bucket);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1 (items, price entries, sub-categories)")
	}

	return nil
}

// isConflict reports whether err is a SQLite UNIQUE violation. FOREIGN
// KEY and CHECK violations are real storage errors and must not be
// mistaken for the benign dedup/gid conflicts.
func isConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
