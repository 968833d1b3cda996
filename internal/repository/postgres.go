package repository

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL store. Used by gateway
// deployments that sync on behalf of several devices; the schema mirrors the
// embedded SQLite layout so the repositories are shared between both drivers.
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id BIGSERIAL PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT,
		operation TEXT NOT NULL,
		payload TEXT,
		local_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		next_attempt_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		synced_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_type, entity_id);

	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		postal_code TEXT NOT NULL DEFAULT '',
		property_type TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL DEFAULT '',
		unit_number TEXT NOT NULL DEFAULT '',
		bedrooms INTEGER NOT NULL DEFAULT 0,
		bathrooms DOUBLE PRECISION NOT NULL DEFAULT 0,
		square_feet INTEGER NOT NULL DEFAULT 0,
		rent_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_units_property_id ON units(property_id);

	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS leases (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL DEFAULT '',
		tenant_id TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL DEFAULT '',
		end_date TEXT NOT NULL DEFAULT '',
		rent_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		deposit_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_leases_unit_id ON leases(unit_id);
	CREATE INDEX IF NOT EXISTS idx_leases_tenant_id ON leases(tenant_id);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		lease_id TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		payment_date TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
		version BIGINT NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_work_orders_property_id ON work_orders(property_id);
	`

	_, err := db.Exec(schema)
	return err
}
