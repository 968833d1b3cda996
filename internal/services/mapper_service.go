package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/propsync/agent/internal/models"
	"github.com/propsync/agent/internal/observability"
	"github.com/propsync/agent/internal/repository"
)

// MapperError reports a change that could not be routed or applied
type MapperError struct {
	Message string
}

func (e MapperError) Error() string {
	return e.Message
}

var (
	ErrUnknownEntityType = MapperError{"no store registered for entity type"}
	ErrMalformedChange   = MapperError{"change record is missing required fields"}
)

// EntityMapper routes wire change records to the per-type entity stores and
// records local mutations into the outbox. Store registration happens once
// at startup; the registry is read-only afterwards.
type EntityMapper struct {
	db     *sql.DB
	queue  repository.QueueRepo
	stores map[string]repository.EntityStore
	logger *observability.Logger
}

func NewEntityMapper(db *sql.DB, queue repository.QueueRepo) *EntityMapper {
	return &EntityMapper{
		db:     db,
		queue:  queue,
		stores: make(map[string]repository.EntityStore),
		logger: observability.GetLogger().WithField("component", "entity_mapper"),
	}
}

// Register adds a store for its entity type, replacing any previous one
func (m *EntityMapper) Register(store repository.EntityStore) {
	m.stores[store.EntityType()] = store
}

// Has reports whether a store is registered for the entity type
func (m *EntityMapper) Has(entityType string) bool {
	_, ok := m.stores[entityType]
	return ok
}

// EntityTypes returns the registered entity types in stable order
func (m *EntityMapper) EntityTypes() []string {
	types := make([]string, 0, len(m.stores))
	for t := range m.stores {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (m *EntityMapper) store(entityType string) (repository.EntityStore, error) {
	store, ok := m.stores[entityType]
	if !ok {
		return nil, ErrUnknownEntityType
	}
	return store, nil
}

// ApplyChange applies one server change to local storage. Applying the same
// change twice converges to the same state. The returned flags distinguish
// an applied write from a row skipped because of an unacknowledged local
// edit; unknown entity types are skipped without error so one unrecognized
// record never aborts a pull page.
func (m *EntityMapper) ApplyChange(ctx context.Context, change models.ChangeRecord) (applied bool, skipped bool, err error) {
	store, ok := m.stores[change.EntityType]
	if !ok {
		m.logger.WithContext(ctx).
			WithField("entity_type", change.EntityType).
			Warn("Skipping change for unknown entity type")
		return false, true, nil
	}

	if change.EntityID == nil || *change.EntityID == "" {
		return false, false, ErrMalformedChange
	}
	entityID := *change.EntityID

	switch change.Operation {
	case models.OpCreate, models.OpUpdate:
		if change.Data == nil {
			return false, false, ErrMalformedChange
		}
		version := models.VersionFromData(change.Data)
		if change.Version != nil && *change.Version > 0 {
			version = *change.Version
		}
		applied, err = store.Upsert(ctx, entityID, change.Data, version)
		if err != nil {
			return false, false, err
		}
		if !applied {
			m.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"entity_type": change.EntityType,
				"entity_id":   entityID,
			}).Debug("Server change skipped, local row is dirty")
			return false, true, nil
		}
		return true, false, nil

	case models.OpDelete:
		if err := store.Delete(ctx, entityID); err != nil {
			return false, false, err
		}
		return true, false, nil

	default:
		return false, false, MapperError{fmt.Sprintf("unsupported operation %q", change.Operation)}
	}
}

// RecordLocalChange persists a local mutation and its outbox row in one
// transaction, so the entity write and the queued change commit together.
// For CREATE the entityID is the provisional local ID the caller minted.
func (m *EntityMapper) RecordLocalChange(ctx context.Context, entityType, entityID, operation string, data map[string]interface{}) (*models.QueuedChange, error) {
	store, err := m.store(entityType)
	if err != nil {
		return nil, err
	}

	var payload json.RawMessage
	if operation != models.OpDelete {
		payload, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}

	idRef := &entityID
	change, err := models.NewQueuedChange(entityType, idRef, operation, payload)
	if err != nil {
		return nil, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if operation == models.OpDelete {
		if err := store.DeleteLocal(ctx, tx, entityID); err != nil {
			return nil, err
		}
	} else {
		if err := store.UpsertLocal(ctx, tx, entityID, data); err != nil {
			return nil, err
		}
	}

	queued, err := m.queue.EnqueueTx(ctx, tx, change)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return queued, nil
}

// AcknowledgeSuccess settles a local change the server accepted: the row
// gets the server-assigned version, its dirty flag clears, and a CREATE row
// moves from its provisional local ID to the server ID.
func (m *EntityMapper) AcknowledgeSuccess(ctx context.Context, change *models.QueuedChange, serverID *string, version *int64) error {
	store, err := m.store(change.EntityType)
	if err != nil {
		return err
	}

	entityID := ""
	if change.EntityID != nil {
		entityID = *change.EntityID
	}

	if change.Operation == models.OpDelete {
		// Row is already gone locally, nothing to settle
		return nil
	}

	if change.Operation == models.OpCreate && serverID != nil && *serverID != entityID {
		if err := store.Rekey(ctx, entityID, *serverID); err != nil {
			return err
		}
		entityID = *serverID
	}

	if version != nil && *version > 0 {
		if err := store.SetVersion(ctx, entityID, *version); err != nil {
			return err
		}
	}
	return store.ClearDirty(ctx, entityID)
}

// ApplyResolution overwrites the local row with the resolved entity state
// the server returned, regardless of the local dirty flag.
func (m *EntityMapper) ApplyResolution(ctx context.Context, resolution *models.ResolveConflictResponse) error {
	store, err := m.store(resolution.EntityType)
	if err != nil {
		return err
	}

	// The resolved state supersedes any local edit, so clear the dirty
	// guard before the upsert.
	if err := store.ClearDirty(ctx, resolution.EntityID); err != nil && !errors.Is(err, repository.ErrEntityNotFound) {
		return err
	}

	if resolution.Data == nil {
		return store.Delete(ctx, resolution.EntityID)
	}
	_, err = store.Upsert(ctx, resolution.EntityID, resolution.Data, resolution.NewVersion)
	return err
}

// ToChangeRecord converts a queue row to its wire representation
func (m *EntityMapper) ToChangeRecord(change *models.QueuedChange) (models.ChangeRecord, error) {
	record := models.ChangeRecord{
		EntityType: change.EntityType,
		EntityID:   change.EntityID,
		Operation:  change.Operation,
		LocalID:    &change.LocalID,
	}

	if len(change.Payload) > 0 {
		var data map[string]interface{}
		if err := json.Unmarshal(change.Payload, &data); err != nil {
			return models.ChangeRecord{}, MapperError{fmt.Sprintf("queue row %d has malformed payload", change.ID)}
		}
		record.Data = data
	}

	created := change.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z")
	record.CreatedAt = &created
	return record, nil
}
