package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/propsync/agent/internal/models"
)

// MetadataRepository persists scalar sync state (device identity, cursors)
// in a key-value table. Values are opaque strings; server timestamps are
// stored exactly as received.
type MetadataRepository struct {
	db *sql.DB
}

func NewMetadataRepository(db *sql.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

// Get returns the stored value, or "" when the key has never been set
func (r *MetadataRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM sync_metadata WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (r *MetadataRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_metadata (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value, time.Now().UTC())
	return err
}

// SetMany writes several keys in one transaction. Registration relies on
// this so device_id and client_id never persist half-written.
func (r *MetadataRepository) SetMany(ctx context.Context, values map[string]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_metadata (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for key, value := range values {
		if _, err := stmt.ExecContext(ctx, key, value, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Snapshot loads the full metadata state in one query
func (r *MetadataRepository) Snapshot(ctx context.Context) (*models.SyncMetadata, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM sync_metadata`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := &models.SyncMetadata{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case models.MetaDeviceID:
			meta.DeviceID = value
		case models.MetaDeviceName:
			meta.DeviceName = value
		case models.MetaClientID:
			meta.ClientID = value
		case models.MetaUserID:
			meta.UserID = value
		case models.MetaLastSyncAt:
			meta.LastSyncAt = value
		case models.MetaLastPullAt:
			meta.LastPullAt = value
		case models.MetaLastPushAt:
			meta.LastPushAt = value
		}
	}
	return meta, rows.Err()
}
