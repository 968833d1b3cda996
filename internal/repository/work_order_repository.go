package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/propsync/agent/internal/models"
)

const workOrdersTable = "work_orders"

// WorkOrderRepository persists maintenance work orders and implements EntityStore
type WorkOrderRepository struct {
	db *sql.DB
}

func NewWorkOrderRepository(db *sql.DB) *WorkOrderRepository {
	return &WorkOrderRepository{db: db}
}

func (r *WorkOrderRepository) EntityType() string {
	return models.EntityWorkOrders
}

func (r *WorkOrderRepository) Upsert(ctx context.Context, id string, data map[string]interface{}, version int64) (bool, error) {
	w := models.WorkOrderFromData(id, data)
	w.Version = version

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO work_orders (id, property_id, unit_id, title, description, priority, status, assigned_to, version, dirty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
		ON CONFLICT (id) DO UPDATE SET
			property_id = EXCLUDED.property_id, unit_id = EXCLUDED.unit_id,
			title = EXCLUDED.title, description = EXCLUDED.description,
			priority = EXCLUDED.priority, status = EXCLUDED.status,
			assigned_to = EXCLUDED.assigned_to, version = EXCLUDED.version,
			dirty = 0, updated_at = EXCLUDED.updated_at
		WHERE work_orders.dirty = 0
	`, w.ID, w.PropertyID, w.UnitID, w.Title, w.Description, w.Priority, w.Status, w.AssignedTo, w.Version, w.UpdatedAt)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *WorkOrderRepository) GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error) {
	var w models.WorkOrder
	var dirty int
	err := r.db.QueryRowContext(ctx, `
		SELECT id, property_id, unit_id, title, description, priority, status, assigned_to, version, dirty, updated_at
		FROM work_orders WHERE id = $1
	`, id).Scan(&w.ID, &w.PropertyID, &w.UnitID, &w.Title, &w.Description,
		&w.Priority, &w.Status, &w.AssignedTo, &w.Version, &dirty, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	w.Dirty = dirty != 0
	return &w, nil
}

func (r *WorkOrderRepository) Get(ctx context.Context, id string) (map[string]interface{}, int64, bool, error) {
	w, err := r.GetWorkOrder(ctx, id)
	if err != nil {
		return nil, 0, false, err
	}
	return w.ToData(), w.Version, w.Dirty, nil
}

func (r *WorkOrderRepository) Delete(ctx context.Context, id string) error {
	return entityDelete(ctx, r.db, workOrdersTable, id)
}

func (r *WorkOrderRepository) SetVersion(ctx context.Context, id string, version int64) error {
	return entitySetVersion(ctx, r.db, workOrdersTable, id, version)
}

func (r *WorkOrderRepository) ClearDirty(ctx context.Context, id string) error {
	return entityClearDirty(ctx, r.db, workOrdersTable, id)
}

func (r *WorkOrderRepository) Rekey(ctx context.Context, oldID, newID string) error {
	return entityRekey(ctx, r.db, workOrdersTable, oldID, newID)
}

func (r *WorkOrderRepository) UpsertLocal(ctx context.Context, tx *sql.Tx, id string, data map[string]interface{}) error {
	w := models.WorkOrderFromData(id, data)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO work_orders (id, property_id, unit_id, title, description, priority, status, assigned_to, version, dirty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 1, $9)
		ON CONFLICT (id) DO UPDATE SET
			property_id = EXCLUDED.property_id, unit_id = EXCLUDED.unit_id,
			title = EXCLUDED.title, description = EXCLUDED.description,
			priority = EXCLUDED.priority, status = EXCLUDED.status,
			assigned_to = EXCLUDED.assigned_to, dirty = 1, updated_at = EXCLUDED.updated_at
	`, w.ID, w.PropertyID, w.UnitID, w.Title, w.Description, w.Priority, w.Status, w.AssignedTo, time.Now().UTC())
	return err
}

func (r *WorkOrderRepository) DeleteLocal(ctx context.Context, tx *sql.Tx, id string) error {
	return entityDeleteLocal(ctx, tx, workOrdersTable, id)
}
