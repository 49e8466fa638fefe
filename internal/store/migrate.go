package store

import (
	"database/sql"
	"fmt"
)

func Migrate(db *DB) error {
	if db.Dialect == Postgres {
		return migratePostgres(db.Pool)
	}
	return migrateSQLite(db.Pool)
}

func migrateSQLite(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return err
	}

	// ---- Schema v1 ----
	if v < 1 {
		stmts := []string{`
CREATE TABLE IF NOT EXISTS listings (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source TEXT NOT NULL,
  property_name TEXT NOT NULL,
  address TEXT NOT NULL,
  floor_suite TEXT NOT NULL,
  space_available TEXT NOT NULL DEFAULT '',
  price TEXT NOT NULL DEFAULT '',
  listing_url TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS listing_changes (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL,
  property_name TEXT NOT NULL,
  address TEXT NOT NULL,
  floor_suite TEXT NOT NULL,
  field_name TEXT NOT NULL,
  old_value TEXT NOT NULL,
  new_value TEXT NOT NULL,
  detected_at TEXT NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS scrape_runs (
  id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  status TEXT NOT NULL,
  item_count INTEGER NOT NULL DEFAULT 0,
  new_count INTEGER NOT NULL DEFAULT 0,
  modified_count INTEGER NOT NULL DEFAULT 0,
  removed_count INTEGER NOT NULL DEFAULT 0,
  message TEXT NOT NULL DEFAULT '',
  started_at TEXT NOT NULL,
  completed_at TEXT NOT NULL
);`}
		stmts = append(stmts, indexStatements...)
		if err := execAll(tx, stmts); err != nil {
			return err
		}
	}

	// ---- Schema v2: removal log ----
	if v < 2 {
		stmts := []string{`
CREATE TABLE IF NOT EXISTS listing_removals (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL,
  property_name TEXT NOT NULL,
  address TEXT NOT NULL,
  floor_suite TEXT NOT NULL,
  space_available TEXT NOT NULL DEFAULT '',
  price TEXT NOT NULL DEFAULT '',
  listing_url TEXT NOT NULL DEFAULT '',
  detected_at TEXT NOT NULL
);`, removalIndex}
		if err := execAll(tx, stmts); err != nil {
			return err
		}
	}

	if v < schemaVersion {
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const schemaVersion = 2

func execAll(tx *sql.Tx, stmts []string) error {
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Postgres has no user_version; every statement is idempotent instead.
func migratePostgres(db *sql.DB) error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS listings (
  id BIGSERIAL PRIMARY KEY,
  source TEXT NOT NULL,
  property_name TEXT NOT NULL,
  address TEXT NOT NULL,
  floor_suite TEXT NOT NULL,
  space_available TEXT NOT NULL DEFAULT '',
  price TEXT NOT NULL DEFAULT '',
  listing_url TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS listing_changes (
  id BIGSERIAL PRIMARY KEY,
  run_id TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL,
  property_name TEXT NOT NULL,
  address TEXT NOT NULL,
  floor_suite TEXT NOT NULL,
  field_name TEXT NOT NULL,
  old_value TEXT NOT NULL,
  new_value TEXT NOT NULL,
  detected_at TEXT NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS scrape_runs (
  id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  status TEXT NOT NULL,
  item_count INTEGER NOT NULL DEFAULT 0,
  new_count INTEGER NOT NULL DEFAULT 0,
  modified_count INTEGER NOT NULL DEFAULT 0,
  removed_count INTEGER NOT NULL DEFAULT 0,
  message TEXT NOT NULL DEFAULT '',
  started_at TEXT NOT NULL,
  completed_at TEXT NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS listing_removals (
  id BIGSERIAL PRIMARY KEY,
  run_id TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL,
  property_name TEXT NOT NULL,
  address TEXT NOT NULL,
  floor_suite TEXT NOT NULL,
  space_available TEXT NOT NULL DEFAULT '',
  price TEXT NOT NULL DEFAULT '',
  listing_url TEXT NOT NULL DEFAULT '',
  detected_at TEXT NOT NULL
);`}
	stmts = append(stmts, indexStatements...)
	stmts = append(stmts, removalIndex)

	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var indexStatements = []string{`
CREATE UNIQUE INDEX IF NOT EXISTS idx_listings_identity
ON listings(source, property_name, address, floor_suite);`, `
CREATE INDEX IF NOT EXISTS idx_listings_source_created
ON listings(source, created_at);`, `
CREATE INDEX IF NOT EXISTS idx_listing_changes_source_detected
ON listing_changes(source, detected_at);`, `
CREATE INDEX IF NOT EXISTS idx_scrape_runs_source_started
ON scrape_runs(source, started_at);`,
}

const removalIndex = `
CREATE INDEX IF NOT EXISTS idx_listing_removals_source_detected
ON listing_removals(source, detected_at);`
