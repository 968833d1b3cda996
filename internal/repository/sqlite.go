package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes the embedded SQLite store
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// WAL keeps UI reads unblocked while a sync pass writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Scalar sync state (device_id, client_id, cursors)
	CREATE TABLE IF NOT EXISTS sync_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Outbox of local mutations awaiting upload
	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT,
		operation TEXT NOT NULL,
		payload TEXT,
		local_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		next_attempt_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		synced_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_type, entity_id);

	-- Syncable entity tables; version is server-authoritative, dirty marks
	-- unacknowledged local edits

	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		postal_code TEXT NOT NULL DEFAULT '',
		property_type TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL DEFAULT '',
		unit_number TEXT NOT NULL DEFAULT '',
		bedrooms INTEGER NOT NULL DEFAULT 0,
		bathrooms REAL NOT NULL DEFAULT 0,
		square_feet INTEGER NOT NULL DEFAULT 0,
		rent_amount REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_units_property_id ON units(property_id);

	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS leases (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL DEFAULT '',
		tenant_id TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL DEFAULT '',
		end_date TEXT NOT NULL DEFAULT '',
		rent_amount REAL NOT NULL DEFAULT 0,
		deposit_amount REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_leases_unit_id ON leases(unit_id);
	CREATE INDEX IF NOT EXISTS idx_leases_tenant_id ON leases(tenant_id);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		lease_id TEXT NOT NULL DEFAULT '',
		amount REAL NOT NULL DEFAULT 0,
		payment_date TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_payments_lease_id ON payments(lease_id);

	CREATE TABLE IF NOT EXISTS work_orders (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL DEFAULT '',
		unit_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		assigned_to TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_work_orders_property_id ON work_orders(property_id);
	`

	_, err := db.Exec(schema)
	return err
}
