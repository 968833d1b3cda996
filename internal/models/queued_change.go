package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Sync operations carried by queued changes and wire change records
const (
	OpCreate = "CREATE"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Queue row statuses. A conflict row holds an unacknowledged local edit:
// it is excluded from push batches but stays in the table until the
// conflict is resolved.
const (
	QueueStatusPending  = "pending"
	QueueStatusSynced   = "synced"
	QueueStatusConflict = "conflict"
)

// QueuedChange is one pending local mutation staged in the outbox.
// CREATE rows have no entity ID yet; LocalID correlates the row with the
// server-assigned ID once the create is acknowledged.
type QueuedChange struct {
	ID            int64           `json:"id"`
	EntityType    string          `json:"entityType"`
	EntityID      *string         `json:"entityId,omitempty"`
	Operation     string          `json:"operation"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	LocalID       string          `json:"localId"`
	Status        string          `json:"status"`
	RetryCount    int             `json:"retryCount"`
	LastError     *string         `json:"lastError,omitempty"`
	NextAttemptAt *time.Time      `json:"nextAttemptAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	SyncedAt      *time.Time      `json:"syncedAt,omitempty"`
}

// NewQueuedChange validates and builds a queue row ready for insertion
func NewQueuedChange(entityType string, entityID *string, operation string, payload json.RawMessage) (*QueuedChange, error) {
	if entityType == "" {
		return nil, ErrEmptyEntityType
	}

	switch operation {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return nil, ErrInvalidOperation
	}

	if operation != OpDelete && len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if operation != OpCreate && (entityID == nil || *entityID == "") {
		return nil, ErrMissingEntityID
	}

	return &QueuedChange{
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  operation,
		Payload:    payload,
		LocalID:    uuid.New().String(),
		Status:     QueueStatusPending,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Queue errors
var (
	ErrEmptyEntityType  = QueueError{"entity type cannot be empty"}
	ErrInvalidOperation = QueueError{"operation must be CREATE, UPDATE or DELETE"}
	ErrEmptyPayload     = QueueError{"payload is required for CREATE and UPDATE"}
	ErrMissingEntityID  = QueueError{"entity id is required for UPDATE and DELETE"}
	ErrChangeNotFound   = QueueError{"queued change not found"}
)

type QueueError struct {
	Message string
}

func (e QueueError) Error() string {
	return e.Message
}
