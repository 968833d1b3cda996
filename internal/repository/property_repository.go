package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/propsync/agent/internal/models"
)

const propertiesTable = "properties"

// PropertyRepository persists properties and implements EntityStore
type PropertyRepository struct {
	db *sql.DB
}

func NewPropertyRepository(db *sql.DB) *PropertyRepository {
	return &PropertyRepository{db: db}
}

func (r *PropertyRepository) EntityType() string {
	return models.EntityProperties
}

// Upsert writes a server change. The conditional update leaves dirty rows
// untouched and reports applied=false for them.
func (r *PropertyRepository) Upsert(ctx context.Context, id string, data map[string]interface{}, version int64) (bool, error) {
	p := models.PropertyFromData(id, data)
	p.Version = version

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO properties (id, name, address, city, state, postal_code, property_type, notes, version, dirty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, address = EXCLUDED.address, city = EXCLUDED.city,
			state = EXCLUDED.state, postal_code = EXCLUDED.postal_code,
			property_type = EXCLUDED.property_type, notes = EXCLUDED.notes,
			version = EXCLUDED.version, dirty = 0, updated_at = EXCLUDED.updated_at
		WHERE properties.dirty = 0
	`, p.ID, p.Name, p.Address, p.City, p.State, p.PostalCode, p.PropertyType, p.Notes, p.Version, p.UpdatedAt)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PropertyRepository) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	var p models.Property
	var dirty int
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, address, city, state, postal_code, property_type, notes, version, dirty, updated_at
		FROM properties WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Address, &p.City, &p.State, &p.PostalCode,
		&p.PropertyType, &p.Notes, &p.Version, &dirty, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Dirty = dirty != 0
	return &p, nil
}

func (r *PropertyRepository) Get(ctx context.Context, id string) (map[string]interface{}, int64, bool, error) {
	p, err := r.GetProperty(ctx, id)
	if err != nil {
		return nil, 0, false, err
	}
	return p.ToData(), p.Version, p.Dirty, nil
}

func (r *PropertyRepository) Delete(ctx context.Context, id string) error {
	return entityDelete(ctx, r.db, propertiesTable, id)
}

func (r *PropertyRepository) SetVersion(ctx context.Context, id string, version int64) error {
	return entitySetVersion(ctx, r.db, propertiesTable, id, version)
}

func (r *PropertyRepository) ClearDirty(ctx context.Context, id string) error {
	return entityClearDirty(ctx, r.db, propertiesTable, id)
}

func (r *PropertyRepository) Rekey(ctx context.Context, oldID, newID string) error {
	return entityRekey(ctx, r.db, propertiesTable, oldID, newID)
}

// UpsertLocal writes a local edit inside the caller's transaction, marking
// the row dirty. The version column is left as the last acknowledged base.
func (r *PropertyRepository) UpsertLocal(ctx context.Context, tx *sql.Tx, id string, data map[string]interface{}) error {
	p := models.PropertyFromData(id, data)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO properties (id, name, address, city, state, postal_code, property_type, notes, version, dirty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 1, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, address = EXCLUDED.address, city = EXCLUDED.city,
			state = EXCLUDED.state, postal_code = EXCLUDED.postal_code,
			property_type = EXCLUDED.property_type, notes = EXCLUDED.notes,
			dirty = 1, updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Address, p.City, p.State, p.PostalCode, p.PropertyType, p.Notes, time.Now().UTC())
	return err
}

func (r *PropertyRepository) DeleteLocal(ctx context.Context, tx *sql.Tx, id string) error {
	return entityDeleteLocal(ctx, tx, propertiesTable, id)
}
