package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/propsync/agent/internal/models"
)

// QueueRepo manages the durable outbox of local mutations
type QueueRepo interface {
	Enqueue(ctx context.Context, change *models.QueuedChange) (*models.QueuedChange, error)
	EnqueueTx(ctx context.Context, tx *sql.Tx, change *models.QueuedChange) (*models.QueuedChange, error)
	PendingChanges(ctx context.Context) ([]*models.QueuedChange, error)
	GetByID(ctx context.Context, id int64) (*models.QueuedChange, error)
	MarkSynced(ctx context.Context, id int64) error
	MarkConflict(ctx context.Context, id int64, conflictID string) error
	IncrementRetry(ctx context.Context, id int64, errMsg string) error
	ResetRetry(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64) error
	RemoveForEntity(ctx context.Context, entityType, entityID string) (int64, error)
	PurgeSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountPending(ctx context.Context) (pending int, parked int, err error)
	ListRecent(ctx context.Context, limit int) ([]*models.QueuedChange, error)
}

// MetadataRepo stores scalar sync state as a key/value table
type MetadataRepo interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, values map[string]string) error
	Snapshot(ctx context.Context) (*models.SyncMetadata, error)
}

// EntityStore is the per-type persistence surface the entity mapper routes
// server changes through. Upsert reports false when the row was left alone
// because a local edit on it is still unacknowledged.
type EntityStore interface {
	EntityType() string
	Upsert(ctx context.Context, id string, data map[string]interface{}, version int64) (bool, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (map[string]interface{}, int64, bool, error)
	SetVersion(ctx context.Context, id string, version int64) error
	ClearDirty(ctx context.Context, id string) error
	Rekey(ctx context.Context, oldID, newID string) error
	UpsertLocal(ctx context.Context, tx *sql.Tx, id string, data map[string]interface{}) error
	DeleteLocal(ctx context.Context, tx *sql.Tx, id string) error
}
