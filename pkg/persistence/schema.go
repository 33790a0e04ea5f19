// Package persistence provides SQLite-based storage for the reference index
// and run records, plus a JSON file store for run records.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"foamagent/pkg/logx"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 2

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Open creates and initializes the SQLite database with the required schema.
// This function is idempotent and safe to call multiple times.
func Open(dbPath string) (*sql.DB, error) {
	dsn := dbPath
	if dbPath != MemoryDSN && !strings.HasPrefix(dbPath, "file:") {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer; a single connection also keeps an
	// in-memory database alive for the lifetime of db.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logx.NewLogger("persistence").Debug("database ready: %s", dbPath)
	return db, nil
}

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}
	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}
	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies database migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 1:
		return execAll(db, indexTables)
	case 2:
		return execAll(db, runTables)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// indexTables hold the reference index (version 1).
//
//nolint:gochecknoglobals // schema definition
var indexTables = []string{
	`CREATE TABLE IF NOT EXISTS index_entries (
		seq INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		case_path TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		solver TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		content TEXT NOT NULL,
		embedding BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_index_entries_kind ON index_entries(kind)`,
	`CREATE TABLE IF NOT EXISTS index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// runTables hold run records (version 2).
//
//nolint:gochecknoglobals // schema definition
var runTables = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		requirement TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		iterations INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		record TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS run_iterations (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		snapshot_id TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		diagnosis_kind TEXT NOT NULL DEFAULT '',
		plan_delta TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (run_id, number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
}

// createSchema creates all required tables at the current version.
func createSchema(db *sql.DB) error {
	if err := execAll(db, indexTables); err != nil {
		return err
	}
	if err := execAll(db, runTables); err != nil {
		return err
	}
	return setSchemaVersion(db, CurrentSchemaVersion)
}

func execAll(db *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// setSchemaVersion records the current schema version.
func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
