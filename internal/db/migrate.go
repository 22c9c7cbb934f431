// Package db provides database schema migration management.
package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// migrations is the ordered, embedded schema history. The terminal
// ships a single binary, so DDL is compiled in rather than loaded
// from a directory.
var migrations = []Migration{
	{
		Version:     1,
		Description: "orders and line items",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS orders (
				id TEXT PRIMARY KEY,
				remote_id TEXT,
				order_type TEXT NOT NULL,
				status TEXT NOT NULL,
				subtotal TEXT NOT NULL,
				total_amount TEXT NOT NULL,
				sync_state TEXT NOT NULL,
				revision INTEGER NOT NULL DEFAULT 1,
				pushed_revision INTEGER NOT NULL DEFAULT 0,
				delivery_address TEXT NOT NULL DEFAULT '',
				delivery_zone_id TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_remote_id
				ON orders(remote_id) WHERE remote_id IS NOT NULL;`,
			`CREATE TABLE IF NOT EXISTS order_items (
				id TEXT PRIMARY KEY,
				order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
				sku TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				quantity INTEGER NOT NULL,
				unit_price TEXT NOT NULL,
				line_total TEXT NOT NULL,
				position INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_order_items_order
				ON order_items(order_id);`,
			`CREATE TABLE IF NOT EXISTS status_log (
				id TEXT PRIMARY KEY,
				order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
				from_status TEXT NOT NULL,
				to_status TEXT NOT NULL,
				changed_by TEXT NOT NULL DEFAULT '',
				changed_at INTEGER NOT NULL
			);`,
		},
	},
	{
		Version:     2,
		Description: "sync outbox",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS sync_queue (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				operation TEXT NOT NULL,
				payload TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				enqueued_at INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_entity
				ON sync_queue(entity_type, entity_id, seq);`,
		},
	},
	{
		Version:     3,
		Description: "conflict records",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS conflict_records (
				id TEXT PRIMARY KEY,
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				local_revision INTEGER NOT NULL,
				remote_revision INTEGER NOT NULL,
				local_status TEXT NOT NULL DEFAULT '',
				remote_status TEXT NOT NULL DEFAULT '',
				detected_at INTEGER NOT NULL,
				resolution_strategy TEXT NOT NULL DEFAULT '',
				resolution TEXT NOT NULL DEFAULT '',
				resolved_at INTEGER NOT NULL DEFAULT 0
			);`,
			`CREATE INDEX IF NOT EXISTS idx_conflicts_entity
				ON conflict_records(entity_type, entity_id);`,
		},
	},
	{
		Version:     4,
		Description: "offline address cache",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS address_cache (
				fingerprint TEXT PRIMARY KEY,
				address_text TEXT NOT NULL,
				zone_id TEXT NOT NULL,
				latitude REAL NOT NULL DEFAULT 0,
				longitude REAL NOT NULL DEFAULT 0,
				verified INTEGER NOT NULL DEFAULT 0,
				last_refreshed_at INTEGER NOT NULL
			);`,
		},
	},
}

// Migrate brings the schema up to the latest embedded version.
func Migrate(db *sql.DB) error {
	if err := initVersionTable(db); err != nil {
		return err
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}

	return nil
}

// initVersionTable creates the schema_migrations table if missing.
func initVersionTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0)
	);`
	_, err := db.Exec(query)
	return err
}

// currentVersion returns the highest applied schema version.
func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// apply runs one migration inside a transaction.
func apply(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.Statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
		m.Version, time.Now().Unix(), m.Description,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}
