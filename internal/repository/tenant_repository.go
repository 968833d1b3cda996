package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/propsync/agent/internal/models"
)

const tenantsTable = "tenants"

// TenantRepository persists tenants and implements EntityStore
type TenantRepository struct {
	db *sql.DB
}

func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) EntityType() string {
	return models.EntityTenants
}

func (r *TenantRepository) Upsert(ctx context.Context, id string, data map[string]interface{}, version int64) (bool, error) {
	t := models.TenantFromData(id, data)
	t.Version = version

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO tenants (id, first_name, last_name, email, phone, status, version, dirty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
			email = EXCLUDED.email, phone = EXCLUDED.phone, status = EXCLUDED.status,
			version = EXCLUDED.version, dirty = 0, updated_at = EXCLUDED.updated_at
		WHERE tenants.dirty = 0
	`, t.ID, t.FirstName, t.LastName, t.Email, t.Phone, t.Status, t.Version, t.UpdatedAt)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *TenantRepository) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	var dirty int
	err := r.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, phone, status, version, dirty, updated_at
		FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.FirstName, &t.LastName, &t.Email, &t.Phone, &t.Status,
		&t.Version, &dirty, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Dirty = dirty != 0
	return &t, nil
}

func (r *TenantRepository) Get(ctx context.Context, id string) (map[string]interface{}, int64, bool, error) {
	t, err := r.GetTenant(ctx, id)
	if err != nil {
		return nil, 0, false, err
	}
	return t.ToData(), t.Version, t.Dirty, nil
}

func (r *TenantRepository) Delete(ctx context.Context, id string) error {
	return entityDelete(ctx, r.db, tenantsTable, id)
}

func (r *TenantRepository) SetVersion(ctx context.Context, id string, version int64) error {
	return entitySetVersion(ctx, r.db, tenantsTable, id, version)
}

func (r *TenantRepository) ClearDirty(ctx context.Context, id string) error {
	return entityClearDirty(ctx, r.db, tenantsTable, id)
}

func (r *TenantRepository) Rekey(ctx context.Context, oldID, newID string) error {
	return entityRekey(ctx, r.db, tenantsTable, oldID, newID)
}

func (r *TenantRepository) UpsertLocal(ctx context.Context, tx *sql.Tx, id string, data map[string]interface{}) error {
	t := models.TenantFromData(id, data)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tenants (id, first_name, last_name, email, phone, status, version, dirty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 1, $7)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
			email = EXCLUDED.email, phone = EXCLUDED.phone, status = EXCLUDED.status,
			dirty = 1, updated_at = EXCLUDED.updated_at
	`, t.ID, t.FirstName, t.LastName, t.Email, t.Phone, t.Status, time.Now().UTC())
	return err
}

func (r *TenantRepository) DeleteLocal(ctx context.Context, tx *sql.Tx, id string) error {
	return entityDeleteLocal(ctx, tx, tenantsTable, id)
}
