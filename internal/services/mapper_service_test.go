package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsync/agent/internal/models"
	"github.com/propsync/agent/internal/repository"
)

func newMapperEnv(t *testing.T) (*sql.DB, *repository.QueueRepository, *EntityMapper) {
	t.Helper()
	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queueRepo := repository.NewQueueRepository(db, 10)
	mapper := NewEntityMapper(db, queueRepo)
	mapper.Register(repository.NewLeaseRepository(db))
	mapper.Register(repository.NewTenantRepository(db))
	return db, queueRepo, mapper
}

func leaseChange(id string, op string, status string, version int64) models.ChangeRecord {
	return models.ChangeRecord{
		EntityType: models.EntityLeases,
		EntityID:   &id,
		Operation:  op,
		Version:    &version,
		Data: map[string]interface{}{
			"unit_id":     "u1",
			"tenant_id":   "t1",
			"start_date":  "2026-01-01",
			"end_date":    "2026-12-31",
			"rent_amount": 1200.0,
			"status":      status,
		},
	}
}

func TestEntityMapper_ApplyChange(t *testing.T) {
	db, _, mapper := newMapperEnv(t)
	leases := repository.NewLeaseRepository(db)
	ctx := context.Background()

	t.Run("create then replay is idempotent", func(t *testing.T) {
		change := leaseChange("l1", models.OpCreate, "active", 1)

		applied, skipped, err := mapper.ApplyChange(ctx, change)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.False(t, skipped)

		applied, skipped, err = mapper.ApplyChange(ctx, change)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.False(t, skipped)

		lease, err := leases.GetLease(ctx, "l1")
		require.NoError(t, err)
		assert.Equal(t, "active", lease.Status)
		assert.EqualValues(t, 1, lease.Version)
	})

	t.Run("update overwrites clean row", func(t *testing.T) {
		applied, _, err := mapper.ApplyChange(ctx, leaseChange("l1", models.OpUpdate, "expired", 2))
		require.NoError(t, err)
		assert.True(t, applied)

		lease, err := leases.GetLease(ctx, "l1")
		require.NoError(t, err)
		assert.Equal(t, "expired", lease.Status)
		assert.EqualValues(t, 2, lease.Version)
	})

	t.Run("delete of absent row is a no-op", func(t *testing.T) {
		id := "never-existed"
		applied, skipped, err := mapper.ApplyChange(ctx, models.ChangeRecord{
			EntityType: models.EntityLeases,
			EntityID:   &id,
			Operation:  models.OpDelete,
		})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.False(t, skipped)
	})

	t.Run("unknown entity type is skipped without error", func(t *testing.T) {
		id := "x1"
		applied, skipped, err := mapper.ApplyChange(ctx, models.ChangeRecord{
			EntityType: "inspections",
			EntityID:   &id,
			Operation:  models.OpUpdate,
			Data:       map[string]interface{}{"status": "done"},
		})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.True(t, skipped)
	})

	t.Run("missing entity id is malformed", func(t *testing.T) {
		_, _, err := mapper.ApplyChange(ctx, models.ChangeRecord{
			EntityType: models.EntityLeases,
			Operation:  models.OpUpdate,
			Data:       map[string]interface{}{"status": "active"},
		})
		assert.ErrorIs(t, err, ErrMalformedChange)
	})

	t.Run("missing data on update is malformed", func(t *testing.T) {
		id := "l1"
		_, _, err := mapper.ApplyChange(ctx, models.ChangeRecord{
			EntityType: models.EntityLeases,
			EntityID:   &id,
			Operation:  models.OpUpdate,
		})
		assert.ErrorIs(t, err, ErrMalformedChange)
	})
}

func TestEntityMapper_RecordLocalChange(t *testing.T) {
	db, queueRepo, mapper := newMapperEnv(t)
	leases := repository.NewLeaseRepository(db)
	ctx := context.Background()

	// Seed a clean server row
	_, _, err := mapper.ApplyChange(ctx, leaseChange("l42", models.OpCreate, "active", 4))
	require.NoError(t, err)

	queued, err := mapper.RecordLocalChange(ctx, models.EntityLeases, "l42", models.OpUpdate, map[string]interface{}{
		"unit_id":     "u1",
		"tenant_id":   "t1",
		"start_date":  "2026-01-01",
		"end_date":    "2026-12-31",
		"rent_amount": 1250.0,
		"status":      "active",
	})
	require.NoError(t, err)
	assert.NotZero(t, queued.ID)
	assert.NotEmpty(t, queued.LocalID)

	// Entity write and queue row committed together
	lease, err := leases.GetLease(ctx, "l42")
	require.NoError(t, err)
	assert.True(t, lease.Dirty)
	assert.Equal(t, 1250.0, lease.RentAmount)
	assert.EqualValues(t, 4, lease.Version)

	pending, err := queueRepo.PendingChanges(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OpUpdate, pending[0].Operation)

	// A concurrent server change for the dirty row is skipped
	applied, skipped, err := mapper.ApplyChange(ctx, leaseChange("l42", models.OpUpdate, "expired", 5))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, skipped)

	lease, err = leases.GetLease(ctx, "l42")
	require.NoError(t, err)
	assert.Equal(t, 1250.0, lease.RentAmount)
}

func TestEntityMapper_RecordLocalDelete(t *testing.T) {
	db, queueRepo, mapper := newMapperEnv(t)
	leases := repository.NewLeaseRepository(db)
	ctx := context.Background()

	_, _, err := mapper.ApplyChange(ctx, leaseChange("l9", models.OpCreate, "active", 1))
	require.NoError(t, err)

	_, err = mapper.RecordLocalChange(ctx, models.EntityLeases, "l9", models.OpDelete, nil)
	require.NoError(t, err)

	_, err = leases.GetLease(ctx, "l9")
	assert.ErrorIs(t, err, repository.ErrEntityNotFound)

	pending, err := queueRepo.PendingChanges(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OpDelete, pending[0].Operation)
}

func TestEntityMapper_AcknowledgeSuccess(t *testing.T) {
	db, _, mapper := newMapperEnv(t)
	leases := repository.NewLeaseRepository(db)
	ctx := context.Background()

	// Local create under a provisional ID
	queued, err := mapper.RecordLocalChange(ctx, models.EntityLeases, "tmp-1", models.OpCreate, map[string]interface{}{
		"unit_id":   "u1",
		"tenant_id": "t1",
		"status":    "draft",
	})
	require.NoError(t, err)

	serverID := "srv-900"
	version := int64(1)
	require.NoError(t, mapper.AcknowledgeSuccess(ctx, queued, &serverID, &version))

	_, err = leases.GetLease(ctx, "tmp-1")
	assert.ErrorIs(t, err, repository.ErrEntityNotFound)

	lease, err := leases.GetLease(ctx, "srv-900")
	require.NoError(t, err)
	assert.EqualValues(t, 1, lease.Version)
	assert.False(t, lease.Dirty)
}

func TestEntityMapper_ApplyResolution(t *testing.T) {
	db, _, mapper := newMapperEnv(t)
	leases := repository.NewLeaseRepository(db)
	ctx := context.Background()

	_, _, err := mapper.ApplyChange(ctx, leaseChange("l42", models.OpCreate, "active", 4))
	require.NoError(t, err)
	_, err = mapper.RecordLocalChange(ctx, models.EntityLeases, "l42", models.OpUpdate, map[string]interface{}{
		"status": "terminated",
	})
	require.NoError(t, err)

	// Resolution overwrites the row even though it is dirty
	require.NoError(t, mapper.ApplyResolution(ctx, &models.ResolveConflictResponse{
		ConflictID: "c1",
		EntityType: models.EntityLeases,
		EntityID:   "l42",
		NewVersion: 7,
		Data: map[string]interface{}{
			"unit_id":     "u1",
			"tenant_id":   "t1",
			"rent_amount": 1300.0,
			"status":      "active",
		},
	}))

	lease, err := leases.GetLease(ctx, "l42")
	require.NoError(t, err)
	assert.EqualValues(t, 7, lease.Version)
	assert.Equal(t, "active", lease.Status)
	assert.Equal(t, 1300.0, lease.RentAmount)
	assert.False(t, lease.Dirty)
}

func TestEntityMapper_ToChangeRecord(t *testing.T) {
	_, _, mapper := newMapperEnv(t)

	id := "l1"
	change, err := models.NewQueuedChange(models.EntityLeases, &id, models.OpUpdate, []byte(`{"status":"active","rent_amount":1200}`))
	require.NoError(t, err)

	record, err := mapper.ToChangeRecord(change)
	require.NoError(t, err)
	assert.Equal(t, models.EntityLeases, record.EntityType)
	assert.Equal(t, "l1", *record.EntityID)
	assert.Equal(t, models.OpUpdate, record.Operation)
	assert.Equal(t, change.LocalID, *record.LocalID)
	assert.Equal(t, "active", record.Data["status"])
	assert.Equal(t, 1200.0, record.Data["rent_amount"])
	assert.NotNil(t, record.CreatedAt)
}
