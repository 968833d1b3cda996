package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/propsync/agent/internal/models"
)

const leasesTable = "leases"

// LeaseRepository persists leases and implements EntityStore
type LeaseRepository struct {
	db *sql.DB
}

func NewLeaseRepository(db *sql.DB) *LeaseRepository {
	return &LeaseRepository{db: db}
}

func (r *LeaseRepository) EntityType() string {
	return models.EntityLeases
}

func (r *LeaseRepository) Upsert(ctx context.Context, id string, data map[string]interface{}, version int64) (bool, error) {
	l := models.LeaseFromData(id, data)
	l.Version = version

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO leases (id, unit_id, tenant_id, start_date, end_date, rent_amount, deposit_amount, status, version, dirty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
		ON CONFLICT (id) DO UPDATE SET
			unit_id = EXCLUDED.unit_id, tenant_id = EXCLUDED.tenant_id,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			rent_amount = EXCLUDED.rent_amount, deposit_amount = EXCLUDED.deposit_amount,
			status = EXCLUDED.status, version = EXCLUDED.version, dirty = 0,
			updated_at = EXCLUDED.updated_at
		WHERE leases.dirty = 0
	`, l.ID, l.UnitID, l.TenantID, l.StartDate, l.EndDate, l.RentAmount, l.DepositAmount, l.Status, l.Version, l.UpdatedAt)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *LeaseRepository) GetLease(ctx context.Context, id string) (*models.Lease, error) {
	var l models.Lease
	var dirty int
	err := r.db.QueryRowContext(ctx, `
		SELECT id, unit_id, tenant_id, start_date, end_date, rent_amount, deposit_amount, status, version, dirty, updated_at
		FROM leases WHERE id = $1
	`, id).Scan(&l.ID, &l.UnitID, &l.TenantID, &l.StartDate, &l.EndDate,
		&l.RentAmount, &l.DepositAmount, &l.Status, &l.Version, &dirty, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Dirty = dirty != 0
	return &l, nil
}

func (r *LeaseRepository) Get(ctx context.Context, id string) (map[string]interface{}, int64, bool, error) {
	l, err := r.GetLease(ctx, id)
	if err != nil {
		return nil, 0, false, err
	}
	return l.ToData(), l.Version, l.Dirty, nil
}

func (r *LeaseRepository) Delete(ctx context.Context, id string) error {
	return entityDelete(ctx, r.db, leasesTable, id)
}

func (r *LeaseRepository) SetVersion(ctx context.Context, id string, version int64) error {
	return entitySetVersion(ctx, r.db, leasesTable, id, version)
}

func (r *LeaseRepository) ClearDirty(ctx context.Context, id string) error {
	return entityClearDirty(ctx, r.db, leasesTable, id)
}

func (r *LeaseRepository) Rekey(ctx context.Context, oldID, newID string) error {
	return entityRekey(ctx, r.db, leasesTable, oldID, newID)
}

func (r *LeaseRepository) UpsertLocal(ctx context.Context, tx *sql.Tx, id string, data map[string]interface{}) error {
	l := models.LeaseFromData(id, data)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO leases (id, unit_id, tenant_id, start_date, end_date, rent_amount, deposit_amount, status, version, dirty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 1, $9)
		ON CONFLICT (id) DO UPDATE SET
			unit_id = EXCLUDED.unit_id, tenant_id = EXCLUDED.tenant_id,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			rent_amount = EXCLUDED.rent_amount, deposit_amount = EXCLUDED.deposit_amount,
			status = EXCLUDED.status, dirty = 1, updated_at = EXCLUDED.updated_at
	`, l.ID, l.UnitID, l.TenantID, l.StartDate, l.EndDate, l.RentAmount, l.DepositAmount, l.Status, time.Now().UTC())
	return err
}

func (r *LeaseRepository) DeleteLocal(ctx context.Context, tx *sql.Tx, id string) error {
	return entityDeleteLocal(ctx, tx, leasesTable, id)
}
