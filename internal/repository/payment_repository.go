package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/propsync/agent/internal/models"
)

const paymentsTable = "payments"

// PaymentRepository persists payments and implements EntityStore
type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) EntityType() string {
	return models.EntityPayments
}

func (r *PaymentRepository) Upsert(ctx context.Context, id string, data map[string]interface{}, version int64) (bool, error) {
	p := models.PaymentFromData(id, data)
	p.Version = version

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (id, lease_id, amount, payment_date, method, reference, status, version, dirty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)
		ON CONFLICT (id) DO UPDATE SET
			lease_id = EXCLUDED.lease_id, amount = EXCLUDED.amount,
			payment_date = EXCLUDED.payment_date, method = EXCLUDED.method,
			reference = EXCLUDED.reference, status = EXCLUDED.status,
			version = EXCLUDED.version, dirty = 0, updated_at = EXCLUDED.updated_at
		WHERE payments.dirty = 0
	`, p.ID, p.LeaseID, p.Amount, p.PaymentDate, p.Method, p.Reference, p.Status, p.Version, p.UpdatedAt)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PaymentRepository) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	var dirty int
	err := r.db.QueryRowContext(ctx, `
		SELECT id, lease_id, amount, payment_date, method, reference, status, version, dirty, updated_at
		FROM payments WHERE id = $1
	`, id).Scan(&p.ID, &p.LeaseID, &p.Amount, &p.PaymentDate, &p.Method,
		&p.Reference, &p.Status, &p.Version, &dirty, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Dirty = dirty != 0
	return &p, nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (map[string]interface{}, int64, bool, error) {
	p, err := r.GetPayment(ctx, id)
	if err != nil {
		return nil, 0, false, err
	}
	return p.ToData(), p.Version, p.Dirty, nil
}

func (r *PaymentRepository) Delete(ctx context.Context, id string) error {
	return entityDelete(ctx, r.db, paymentsTable, id)
}

func (r *PaymentRepository) SetVersion(ctx context.Context, id string, version int64) error {
	return entitySetVersion(ctx, r.db, paymentsTable, id, version)
}

func (r *PaymentRepository) ClearDirty(ctx context.Context, id string) error {
	return entityClearDirty(ctx, r.db, paymentsTable, id)
}

func (r *PaymentRepository) Rekey(ctx context.Context, oldID, newID string) error {
	return entityRekey(ctx, r.db, paymentsTable, oldID, newID)
}

func (r *PaymentRepository) UpsertLocal(ctx context.Context, tx *sql.Tx, id string, data map[string]interface{}) error {
	p := models.PaymentFromData(id, data)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, lease_id, amount, payment_date, method, reference, status, version, dirty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 1, $8)
		ON CONFLICT (id) DO UPDATE SET
			lease_id = EXCLUDED.lease_id, amount = EXCLUDED.amount,
			payment_date = EXCLUDED.payment_date, method = EXCLUDED.method,
			reference = EXCLUDED.reference, status = EXCLUDED.status,
			dirty = 1, updated_at = EXCLUDED.updated_at
	`, p.ID, p.LeaseID, p.Amount, p.PaymentDate, p.Method, p.Reference, p.Status, time.Now().UTC())
	return err
}

func (r *PaymentRepository) DeleteLocal(ctx context.Context, tx *sql.Tx, id string) error {
	return entityDeleteLocal(ctx, tx, paymentsTable, id)
}
