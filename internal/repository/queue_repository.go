package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/propsync/agent/internal/models"
)

const (
	// retryBaseDelay and retryMaxDelay bound the exponential backoff applied
	// to failed queue rows: 2^retries * base, capped at max.
	retryBaseDelay = time.Minute
	retryMaxDelay  = time.Hour
)

// QueueRepository is the SQL-backed outbox. Rows whose retry count reached
// maxAttempts are parked: they stay in the table but are excluded from push
// batches until an operator resets them.
type QueueRepository struct {
	db          *sql.DB
	maxAttempts int
}

func NewQueueRepository(db *sql.DB, maxAttempts int) *QueueRepository {
	return &QueueRepository{db: db, maxAttempts: maxAttempts}
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Enqueue persists a change before the caller's mutation is considered
// committed. A non-DELETE change for an entity that already has a pending
// non-DELETE row is coalesced into that row instead of appending a second one.
func (r *QueueRepository) Enqueue(ctx context.Context, change *models.QueuedChange) (*models.QueuedChange, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	queued, err := r.EnqueueTx(ctx, tx, change)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return queued, nil
}

// EnqueueTx is Enqueue inside a caller-owned transaction, so the entity write
// and its queue row commit or roll back together.
func (r *QueueRepository) EnqueueTx(ctx context.Context, tx *sql.Tx, change *models.QueuedChange) (*models.QueuedChange, error) {
	if change.Operation != models.OpDelete && change.EntityID != nil {
		coalesced, err := r.coalesce(ctx, tx, change)
		if err != nil {
			return nil, err
		}
		if coalesced != nil {
			return coalesced, nil
		}
	}

	query := `
		INSERT INTO sync_queue (entity_type, entity_id, operation, payload, local_id, status, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
	`
	result, err := tx.ExecContext(ctx, query,
		change.EntityType, change.EntityID, change.Operation, string(change.Payload),
		change.LocalID, models.QueueStatusPending, change.CreatedAt)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err == nil && id > 0 {
		change.ID = id
	} else {
		// lib/pq does not implement LastInsertId
		row := tx.QueryRowContext(ctx, `SELECT id FROM sync_queue WHERE local_id = $1`, change.LocalID)
		if err := row.Scan(&change.ID); err != nil {
			return nil, err
		}
	}

	change.Status = models.QueueStatusPending
	return change, nil
}

// coalesce folds an UPDATE into an existing pending CREATE or UPDATE row for
// the same entity. The existing operation is kept, so a still-unpushed CREATE
// simply carries the newer payload.
func (r *QueueRepository) coalesce(ctx context.Context, q querier, change *models.QueuedChange) (*models.QueuedChange, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, operation, local_id FROM sync_queue
		WHERE entity_type = $1 AND entity_id = $2
		  AND status = $3 AND operation IN ($4, $5)
		ORDER BY id DESC LIMIT 1
	`, change.EntityType, *change.EntityID, models.QueueStatusPending, models.OpCreate, models.OpUpdate)

	var existing models.QueuedChange
	if err := row.Scan(&existing.ID, &existing.Operation, &existing.LocalID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	_, err := q.ExecContext(ctx,
		`UPDATE sync_queue SET payload = $1 WHERE id = $2`,
		string(change.Payload), existing.ID)
	if err != nil {
		return nil, err
	}

	change.ID = existing.ID
	change.Operation = existing.Operation
	change.LocalID = existing.LocalID
	change.Status = models.QueueStatusPending
	return change, nil
}

const queueColumns = `id, entity_type, entity_id, operation, payload, local_id, status, retry_count, last_error, next_attempt_at, created_at, synced_at`

func scanQueueRow(scanner interface{ Scan(...interface{}) error }) (*models.QueuedChange, error) {
	var c models.QueuedChange
	var payload sql.NullString
	err := scanner.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.Operation, &payload,
		&c.LocalID, &c.Status, &c.RetryCount, &c.LastError, &c.NextAttemptAt,
		&c.CreatedAt, &c.SyncedAt)
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		c.Payload = []byte(payload.String)
	}
	return &c, nil
}

// PendingChanges returns the rows eligible for the next push batch in
// insertion order. Parked rows and rows still inside their backoff window
// are excluded.
func (r *QueueRepository) PendingChanges(ctx context.Context) ([]*models.QueuedChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queueColumns+` FROM sync_queue
		WHERE status = $1 AND retry_count < $2
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
		ORDER BY id ASC
	`, models.QueueStatusPending, r.maxAttempts, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*models.QueuedChange
	for rows.Next() {
		c, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (r *QueueRepository) GetByID(ctx context.Context, id int64) (*models.QueuedChange, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM sync_queue WHERE id = $1`, id)
	c, err := scanQueueRow(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrChangeNotFound
	}
	return c, err
}

func (r *QueueRepository) MarkSynced(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = $1, synced_at = $2, last_error = NULL
		WHERE id = $3
	`, models.QueueStatusSynced, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// MarkConflict holds a row the server rejected with a version conflict. The
// row leaves the push path but is neither acknowledged nor purgeable; conflict
// resolution clears it through RemoveForEntity.
func (r *QueueRepository) MarkConflict(ctx context.Context, id int64, conflictID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = $1, last_error = $2, next_attempt_at = NULL
		WHERE id = $3 AND status = $4
	`, models.QueueStatusConflict, conflictID, id, models.QueueStatusPending)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// IncrementRetry bumps the retry counter, records the failure, and schedules
// the next attempt with exponential backoff.
func (r *QueueRepository) IncrementRetry(ctx context.Context, id int64, errMsg string) error {
	change, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	next := time.Now().UTC().Add(backoffDelay(change.RetryCount + 1))
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET retry_count = retry_count + 1, last_error = $1, next_attempt_at = $2
		WHERE id = $3
	`, errMsg, next, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func backoffDelay(retries int) time.Duration {
	delay := retryBaseDelay
	for i := 1; i < retries; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

// ResetRetry clears the retry counter so a parked row re-enters the next
// push batch.
func (r *QueueRepository) ResetRetry(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET retry_count = 0, last_error = NULL, next_attempt_at = NULL
		WHERE id = $1 AND status = $2
	`, id, models.QueueStatusPending)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *QueueRepository) Remove(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// RemoveForEntity drops all pending and conflict-held rows for one entity.
// Used when a conflict resolution supersedes the queued local edits.
func (r *QueueRepository) RemoveForEntity(ctx context.Context, entityType, entityID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE entity_type = $1 AND entity_id = $2 AND status IN ($3, $4)
	`, entityType, entityID, models.QueueStatusPending, models.QueueStatusConflict)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// PurgeSyncedBefore deletes acknowledged rows older than the retention cutoff
func (r *QueueRepository) PurgeSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE status = $1 AND synced_at IS NOT NULL AND synced_at < $2
	`, models.QueueStatusSynced, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountPending counts unacknowledged rows. Conflict-held rows count as
// pending, since their local edits are not settled until resolution.
func (r *QueueRepository) CountPending(ctx context.Context) (pending int, parked int, err error) {
	// Placeholders are numbered in order of first occurrence: go-sqlite3
	// treats $N as a named parameter and binds args by occurrence order,
	// while lib/pq binds by number, so only this numbering works on both.
	row := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status = $1 OR retry_count < $2 THEN 1 END),
			COUNT(CASE WHEN status = $3 AND retry_count >= $2 THEN 1 END)
		FROM sync_queue WHERE status IN ($3, $1)
	`, models.QueueStatusConflict, r.maxAttempts, models.QueueStatusPending)
	err = row.Scan(&pending, &parked)
	return pending, parked, err
}

// ListRecent returns the newest queue rows regardless of status, for the
// control API's queue inspection endpoint.
func (r *QueueRepository) ListRecent(ctx context.Context, limit int) ([]*models.QueuedChange, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM sync_queue ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*models.QueuedChange
	for rows.Next() {
		c, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrChangeNotFound
	}
	return nil
}
