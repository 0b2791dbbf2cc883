// Package store persists keyboard layouts in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations contains all database migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Layouts and their key tables",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Track where each layout was imported from",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS layouts (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    family_id       INTEGER NOT NULL,
    layout_id       INTEGER NOT NULL,
    language        TEXT NOT NULL DEFAULT '',
    frequency_score REAL NOT NULL DEFAULT 0,
    words           TEXT NOT NULL DEFAULT '[]',
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS layout_keys (
    layout      TEXT NOT NULL REFERENCES layouts(id) ON DELETE CASCADE,
    position    INTEGER NOT NULL CHECK (position BETWEEN 1 AND 26),
    char        TEXT NOT NULL,
    PRIMARY KEY (layout, position)
);

CREATE INDEX IF NOT EXISTS idx_layouts_family ON layouts(family_id, layout_id);
`

const migrationV1Down = `
DROP INDEX IF EXISTS idx_layouts_family;
DROP TABLE IF EXISTS layout_keys;
DROP TABLE IF EXISTS layouts;
`

const migrationV2Up = `
ALTER TABLE layouts ADD COLUMN source TEXT NOT NULL DEFAULT '';
`

const migrationV2Down = `
ALTER TABLE layouts DROP COLUMN source;
`

const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     INTEGER PRIMARY KEY,
    applied_at  INTEGER NOT NULL,
    description TEXT
)`

// MigrateDB applies all pending migrations to the database.
func MigrateDB(db *sql.DB) error {
	if _, err := db.Exec(migrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// RollbackMigration rolls back the last applied migration.
func RollbackMigration(db *sql.DB) error {
	current, err := currentVersion(db)
	if err != nil {
		return err
	}
	if current == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var m *Migration
	for i := range migrations {
		if migrations[i].Version == current {
			m = &migrations[i]
			break
		}
	}
	if m == nil {
		return fmt.Errorf("migration %d not found", current)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin rollback: %w", err)
	}
	if _, err := tx.Exec(m.Down); err != nil {
		tx.Rollback()
		return fmt.Errorf("rollback migration %d: %w", m.Version, err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", m.Version); err != nil {
		tx.Rollback()
		return fmt.Errorf("unrecord migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration.
func SchemaVersion(db *sql.DB) (int, error) {
	return currentVersion(db)
}

func currentVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return v, nil
}
