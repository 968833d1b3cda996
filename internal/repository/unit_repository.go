package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/propsync/agent/internal/models"
)

const unitsTable = "units"

// UnitRepository persists rentable units and implements EntityStore
type UnitRepository struct {
	db *sql.DB
}

func NewUnitRepository(db *sql.DB) *UnitRepository {
	return &UnitRepository{db: db}
}

func (r *UnitRepository) EntityType() string {
	return models.EntityUnits
}

func (r *UnitRepository) Upsert(ctx context.Context, id string, data map[string]interface{}, version int64) (bool, error) {
	u := models.UnitFromData(id, data)
	u.Version = version

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO units (id, property_id, unit_number, bedrooms, bathrooms, square_feet, rent_amount, status, version, dirty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
		ON CONFLICT (id) DO UPDATE SET
			property_id = EXCLUDED.property_id, unit_number = EXCLUDED.unit_number,
			bedrooms = EXCLUDED.bedrooms, bathrooms = EXCLUDED.bathrooms,
			square_feet = EXCLUDED.square_feet, rent_amount = EXCLUDED.rent_amount,
			status = EXCLUDED.status, version = EXCLUDED.version, dirty = 0,
			updated_at = EXCLUDED.updated_at
		WHERE units.dirty = 0
	`, u.ID, u.PropertyID, u.UnitNumber, u.Bedrooms, u.Bathrooms, u.SquareFeet, u.RentAmount, u.Status, u.Version, u.UpdatedAt)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *UnitRepository) GetUnit(ctx context.Context, id string) (*models.Unit, error) {
	var u models.Unit
	var dirty int
	err := r.db.QueryRowContext(ctx, `
		SELECT id, property_id, unit_number, bedrooms, bathrooms, square_feet, rent_amount, status, version, dirty, updated_at
		FROM units WHERE id = $1
	`, id).Scan(&u.ID, &u.PropertyID, &u.UnitNumber, &u.Bedrooms, &u.Bathrooms,
		&u.SquareFeet, &u.RentAmount, &u.Status, &u.Version, &dirty, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Dirty = dirty != 0
	return &u, nil
}

func (r *UnitRepository) Get(ctx context.Context, id string) (map[string]interface{}, int64, bool, error) {
	u, err := r.GetUnit(ctx, id)
	if err != nil {
		return nil, 0, false, err
	}
	return u.ToData(), u.Version, u.Dirty, nil
}

func (r *UnitRepository) Delete(ctx context.Context, id string) error {
	return entityDelete(ctx, r.db, unitsTable, id)
}

func (r *UnitRepository) SetVersion(ctx context.Context, id string, version int64) error {
	return entitySetVersion(ctx, r.db, unitsTable, id, version)
}

func (r *UnitRepository) ClearDirty(ctx context.Context, id string) error {
	return entityClearDirty(ctx, r.db, unitsTable, id)
}

func (r *UnitRepository) Rekey(ctx context.Context, oldID, newID string) error {
	return entityRekey(ctx, r.db, unitsTable, oldID, newID)
}

func (r *UnitRepository) UpsertLocal(ctx context.Context, tx *sql.Tx, id string, data map[string]interface{}) error {
	u := models.UnitFromData(id, data)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO units (id, property_id, unit_number, bedrooms, bathrooms, square_feet, rent_amount, status, version, dirty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 1, $9)
		ON CONFLICT (id) DO UPDATE SET
			property_id = EXCLUDED.property_id, unit_number = EXCLUDED.unit_number,
			bedrooms = EXCLUDED.bedrooms, bathrooms = EXCLUDED.bathrooms,
			square_feet = EXCLUDED.square_feet, rent_amount = EXCLUDED.rent_amount,
			status = EXCLUDED.status, dirty = 1, updated_at = EXCLUDED.updated_at
	`, u.ID, u.PropertyID, u.UnitNumber, u.Bedrooms, u.Bathrooms, u.SquareFeet, u.RentAmount, u.Status, time.Now().UTC())
	return err
}

func (r *UnitRepository) DeleteLocal(ctx context.Context, tx *sql.Tx, id string) error {
	return entityDeleteLocal(ctx, tx, unitsTable, id)
}
