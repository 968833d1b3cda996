package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsync/agent/internal/config"
	"github.com/propsync/agent/internal/models"
	"github.com/propsync/agent/internal/repository"
)

type pullRequest struct {
	Since  string
	Cursor string
	Types  []string
}

// fakeSyncServer simulates the sync server for coordinator tests
type fakeSyncServer struct {
	t *testing.T

	mu            sync.Mutex
	pullPages     []models.PullChangesResponse
	pullCalls     []pullRequest
	pullDelay     time.Duration
	pullErrStatus int
	pushHandler   func(*models.PushChangesRequest) *models.PushChangesResponse
	pushRequests  []*models.PushChangesRequest
	conflicts     models.ConflictListResponse
	resolve       func(*models.ResolveConflictRequest) *models.ResolveConflictResponse
	registerCount int

	server *httptest.Server
}

func newFakeSyncServer(t *testing.T) *fakeSyncServer {
	t.Helper()
	f := &fakeSyncServer{t: t}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeSyncServer) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/health":
		w.WriteHeader(http.StatusOK)

	case r.URL.Path == "/api/v1/sync/register" && r.Method == http.MethodPost:
		var req models.RegisterDeviceRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.registerCount++
		f.mu.Unlock()
		json.NewEncoder(w).Encode(models.RegisterDeviceResponse{
			ClientID: "client-1",
			DeviceID: req.DeviceID,
			UserID:   "user-1",
			IsNew:    true,
		})

	case r.URL.Path == "/api/v1/sync/entity-types":
		types := make([]models.EntityTypeInfo, 0)
		for _, name := range []string{"properties", "units", "tenants", "leases", "payments", "work_orders"} {
			types = append(types, models.EntityTypeInfo{EntityType: name, DisplayName: name, IsSyncable: true})
		}
		json.NewEncoder(w).Encode(models.EntityTypesResponse{EntityTypes: types})

	case r.URL.Path == "/api/v1/sync/changes" && r.Method == http.MethodGet:
		f.mu.Lock()
		f.pullCalls = append(f.pullCalls, pullRequest{
			Since:  r.URL.Query().Get("since"),
			Cursor: r.URL.Query().Get("cursor"),
			Types:  r.URL.Query()["entity_types"],
		})
		if f.pullErrStatus != 0 {
			status := f.pullErrStatus
			f.mu.Unlock()
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"detail": "device not recognized"})
			return
		}
		var page models.PullChangesResponse
		if len(f.pullPages) > 0 {
			page = f.pullPages[0]
			f.pullPages = f.pullPages[1:]
		} else {
			page = models.PullChangesResponse{Changes: []models.ChangeRecord{}, SyncTimestamp: "ts-empty"}
		}
		delay := f.pullDelay
		f.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		json.NewEncoder(w).Encode(page)

	case r.URL.Path == "/api/v1/sync/changes" && r.Method == http.MethodPost:
		var req models.PushChangesRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.pushRequests = append(f.pushRequests, &req)
		handler := f.pushHandler
		f.mu.Unlock()

		var resp *models.PushChangesResponse
		if handler != nil {
			resp = handler(&req)
		} else {
			results := make([]models.PushItemResult, len(req.Changes))
			for i, c := range req.Changes {
				v := int64(1)
				results[i] = models.PushItemResult{Status: models.PushStatusSuccess, EntityID: c.EntityID, Version: &v}
			}
			resp = &models.PushChangesResponse{Results: results, SyncTimestamp: "ts-push", TotalApplied: len(results)}
		}
		json.NewEncoder(w).Encode(resp)

	case r.URL.Path == "/api/v1/sync/conflicts" && r.Method == http.MethodGet:
		f.mu.Lock()
		conflicts := f.conflicts
		f.mu.Unlock()
		json.NewEncoder(w).Encode(conflicts)

	case r.URL.Path == "/api/v1/sync/conflicts/resolve":
		var req models.ResolveConflictRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		resolve := f.resolve
		f.mu.Unlock()
		require.NotNil(f.t, resolve, "unexpected resolve call")
		json.NewEncoder(w).Encode(resolve(&req))

	default:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "not found"})
	}
}

type syncEnv struct {
	db     *sql.DB
	queue  *repository.QueueRepository
	meta   *repository.MetadataRepository
	mapper *EntityMapper
	svc    *SyncService
	leases *repository.LeaseRepository
}

func newSyncEnv(t *testing.T, serverURL string) *syncEnv {
	t.Helper()
	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue := repository.NewQueueRepository(db, 10)
	meta := repository.NewMetadataRepository(db)
	leases := repository.NewLeaseRepository(db)

	mapper := NewEntityMapper(db, queue)
	mapper.Register(leases)
	mapper.Register(repository.NewTenantRepository(db))

	client := NewAPIClient(serverURL)
	svc := NewSyncService(client, queue, meta, mapper,
		config.Sync{IntervalMinutes: 15, PullPageSize: 100, MaxAttempts: 10, RetentionDays: 7},
		config.Device{DeviceName: "test-device", Platform: "gateway", AppVersion: "1.0.0"},
		nil)
	require.NoError(t, svc.Initialize(context.Background()))

	return &syncEnv{db: db, queue: queue, meta: meta, mapper: mapper, svc: svc, leases: leases}
}

func TestSyncService_PullPagination(t *testing.T) {
	fake := newFakeSyncServer(t)
	l1, l2, t1 := "l1", "l2", "t1"
	fake.pullPages = []models.PullChangesResponse{
		{
			Changes: []models.ChangeRecord{
				{EntityType: models.EntityLeases, EntityID: &l1, Operation: models.OpCreate,
					Data: map[string]interface{}{"status": "active", "version": 1.0}},
				{EntityType: models.EntityTenants, EntityID: &t1, Operation: models.OpCreate,
					Data: map[string]interface{}{"first_name": "Ana", "version": 1.0}},
			},
			SyncTimestamp: "ts-1",
			HasMore:       true,
			NextCursor:    "cursor-2",
		},
		{
			Changes: []models.ChangeRecord{
				{EntityType: models.EntityLeases, EntityID: &l2, Operation: models.OpCreate,
					Data: map[string]interface{}{"status": "draft", "version": 1.0}},
			},
			SyncTimestamp: "ts-2",
			HasMore:       false,
		},
	}

	env := newSyncEnv(t, fake.server.URL)
	ctx := context.Background()

	result, err := env.svc.FullSync(ctx, "manual")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Downloaded)

	// Both pages requested, second with the server's cursor
	require.Len(t, fake.pullCalls, 2)
	assert.Equal(t, "", fake.pullCalls[0].Since)
	assert.Equal(t, "", fake.pullCalls[0].Cursor)
	assert.Equal(t, "cursor-2", fake.pullCalls[1].Cursor)

	// Pull cursor and sync timestamp both settle on the last page's value
	lastPull, err := env.meta.Get(ctx, models.MetaLastPullAt)
	require.NoError(t, err)
	assert.Equal(t, "ts-2", lastPull)
	lastSync, err := env.meta.Get(ctx, models.MetaLastSyncAt)
	require.NoError(t, err)
	assert.Equal(t, "ts-2", lastSync)

	lease, err := env.leases.GetLease(ctx, "l2")
	require.NoError(t, err)
	assert.Equal(t, "draft", lease.Status)

	// The next pass resumes from the stored timestamp
	_, err = env.svc.FullSync(ctx, "manual")
	require.NoError(t, err)
	require.Len(t, fake.pullCalls, 3)
	assert.Equal(t, "ts-2", fake.pullCalls[2].Since)
}

func TestSyncService_RegistrationPersists(t *testing.T) {
	fake := newFakeSyncServer(t)
	env := newSyncEnv(t, fake.server.URL)
	ctx := context.Background()

	_, err := env.svc.FullSync(ctx, "manual")
	require.NoError(t, err)

	snap, err := env.meta.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Registered())
	assert.Equal(t, "client-1", snap.ClientID)
	assert.Equal(t, "user-1", snap.UserID)
	assert.NotEmpty(t, snap.DeviceID)

	// Second pass reuses the stored registration
	_, err = env.svc.FullSync(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.registerCount)
}

func TestSyncService_PushPositionalResults(t *testing.T) {
	fake := newFakeSyncServer(t)
	env := newSyncEnv(t, fake.server.URL)
	ctx := context.Background()

	// Seed three local edits on distinct entities
	seed := func(id string) {
		_, _, err := env.mapper.ApplyChange(ctx, models.ChangeRecord{
			EntityType: models.EntityLeases, EntityID: &id, Operation: models.OpCreate,
			Data: map[string]interface{}{"status": "active", "version": 1.0},
		})
		require.NoError(t, err)
		_, err = env.mapper.RecordLocalChange(ctx, models.EntityLeases, id, models.OpUpdate,
			map[string]interface{}{"status": "terminated"})
		require.NoError(t, err)
	}
	seed("a")
	seed("b")
	seed("c")

	conflictID := "cf-1"
	fake.pushHandler = func(req *models.PushChangesRequest) *models.PushChangesResponse {
		require.Len(fake.t, req.Changes, 3)
		require.NotEmpty(fake.t, req.DeviceID)
		v := int64(5)
		return &models.PushChangesResponse{
			Results: []models.PushItemResult{
				{Status: models.PushStatusSuccess, EntityID: req.Changes[0].EntityID, Version: &v},
				{Status: models.PushStatusConflict, ConflictID: &conflictID},
				{Status: models.PushStatusError, Message: "validation failed"},
			},
			SyncTimestamp: "ts-push",
		}
	}

	result, err := env.svc.FullSync(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 1, result.Errors)

	// First change settled: server version applied, dirty cleared
	lease, err := env.leases.GetLease(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 5, lease.Version)
	assert.False(t, lease.Dirty)

	// Conflicted change is held out of the push path but not acknowledged;
	// the errored change stays pending with its retry counter bumped
	pending, err := env.queue.PendingChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending) // errored row is inside its backoff window

	conflicted, err := env.queue.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusConflict, conflicted.Status)
	assert.Nil(t, conflicted.SyncedAt)
	require.NotNil(t, conflicted.LastError)
	assert.Equal(t, "cf-1", *conflicted.LastError)

	errored, err := env.queue.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, errored.Status)
	assert.Equal(t, 1, errored.RetryCount)

	// Both unsettled rows still count as pending changes
	pendingCount, parkedCount, err := env.queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pendingCount)
	assert.Equal(t, 0, parkedCount)

	lastPush, err := env.meta.Get(ctx, models.MetaLastPushAt)
	require.NoError(t, err)
	assert.Equal(t, "ts-push", lastPush)
}

func TestSyncService_SingleFlight(t *testing.T) {
	fake := newFakeSyncServer(t)
	fake.pullDelay = 300 * time.Millisecond

	env := newSyncEnv(t, fake.server.URL)
	ctx := context.Background()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = env.svc.FullSync(ctx, "interval")
	}()

	// Give the first pass time to take the slot
	require.Eventually(t, env.svc.Syncing, time.Second, 5*time.Millisecond)

	// All three entry points share the slot; none may interleave with the
	// running pass
	_, err := env.svc.FullSync(ctx, "manual")
	assert.ErrorIs(t, err, ErrSyncInProgress)
	_, err = env.svc.PullSync(ctx, nil)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	_, err = env.svc.PushSync(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	wg.Wait()
	assert.NoError(t, firstErr)
	assert.False(t, env.svc.Syncing())

	// Only the first pass reached the server
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.pullCalls, 1)
}

func TestSyncService_PullSyncEntityTypeFilter(t *testing.T) {
	fake := newFakeSyncServer(t)
	env := newSyncEnv(t, fake.server.URL)

	result, err := env.svc.PullSync(context.Background(), []string{"leases", "tenants"})
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Len(t, fake.pullCalls, 1)
	assert.Equal(t, []string{"leases", "tenants"}, fake.pullCalls[0].Types)
}

func TestSyncService_AuthFailureForcesReregistration(t *testing.T) {
	fake := newFakeSyncServer(t)
	env := newSyncEnv(t, fake.server.URL)
	ctx := context.Background()

	_, err := env.svc.FullSync(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.registerCount)

	// The server stops recognizing the device
	fake.mu.Lock()
	fake.pullErrStatus = http.StatusUnauthorized
	fake.mu.Unlock()

	_, err = env.svc.FullSync(ctx, "manual")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)

	// The stored registration is dropped so the next pass re-registers
	snap, err := env.meta.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Registered())

	fake.mu.Lock()
	fake.pullErrStatus = 0
	fake.mu.Unlock()

	_, err = env.svc.FullSync(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.registerCount)
}

func TestSyncService_ResolveConflictClearsQueue(t *testing.T) {
	fake := newFakeSyncServer(t)
	env := newSyncEnv(t, fake.server.URL)
	ctx := context.Background()

	// Dirty local edit on lease 42, queued for push
	id := "42"
	_, _, err := env.mapper.ApplyChange(ctx, models.ChangeRecord{
		EntityType: models.EntityLeases, EntityID: &id, Operation: models.OpCreate,
		Data: map[string]interface{}{"status": "active", "rent_amount": 1200.0, "version": 4.0},
	})
	require.NoError(t, err)
	_, err = env.mapper.RecordLocalChange(ctx, models.EntityLeases, "42", models.OpUpdate,
		map[string]interface{}{"status": "terminated", "rent_amount": 1200.0})
	require.NoError(t, err)

	fake.resolve = func(req *models.ResolveConflictRequest) *models.ResolveConflictResponse {
		assert.Equal(fake.t, "cf-42", req.ConflictID)
		assert.Equal(fake.t, models.StrategyServerWins, req.ResolutionStrategy)
		return &models.ResolveConflictResponse{
			ConflictID: "cf-42",
			Status:     models.ConflictStatusResolved,
			EntityType: models.EntityLeases,
			EntityID:   "42",
			NewVersion: 7,
			Data:       map[string]interface{}{"status": "active", "rent_amount": 1300.0},
		}
	}

	resp, err := env.svc.ResolveConflict(ctx, "cf-42", models.StrategyServerWins, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 7, resp.NewVersion)

	// Winning state applied over the dirty row
	lease, err := env.leases.GetLease(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "active", lease.Status)
	assert.Equal(t, 1300.0, lease.RentAmount)
	assert.EqualValues(t, 7, lease.Version)
	assert.False(t, lease.Dirty)

	// Superseded queue rows are gone
	pendingCount, parkedCount, err := env.queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pendingCount)
	assert.Equal(t, 0, parkedCount)
}

// Full conflict lifecycle: a dirty local edit survives the pull, the push
// reports a conflict, and resolution settles both the entity and the queue.
func TestSyncService_ConflictLifecycle(t *testing.T) {
	fake := newFakeSyncServer(t)
	env := newSyncEnv(t, fake.server.URL)
	ctx := context.Background()

	id := "42"
	_, _, err := env.mapper.ApplyChange(ctx, models.ChangeRecord{
		EntityType: models.EntityLeases, EntityID: &id, Operation: models.OpCreate,
		Data: map[string]interface{}{"status": "active", "rent_amount": 1200.0, "version": 4.0},
	})
	require.NoError(t, err)
	_, err = env.mapper.RecordLocalChange(ctx, models.EntityLeases, "42", models.OpUpdate,
		map[string]interface{}{"status": "terminated", "rent_amount": 1200.0})
	require.NoError(t, err)

	// The server has meanwhile moved the same lease to version 5
	fake.pullPages = []models.PullChangesResponse{{
		Changes: []models.ChangeRecord{{
			EntityType: models.EntityLeases, EntityID: &id, Operation: models.OpUpdate,
			Data: map[string]interface{}{"status": "expired", "rent_amount": 1250.0, "version": 5.0},
		}},
		SyncTimestamp: "ts-1",
	}}
	conflictID := "cf-42"
	fake.pushHandler = func(req *models.PushChangesRequest) *models.PushChangesResponse {
		return &models.PushChangesResponse{
			Results:       []models.PushItemResult{{Status: models.PushStatusConflict, ConflictID: &conflictID}},
			SyncTimestamp: "ts-2",
		}
	}

	result, err := env.svc.FullSync(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped, "server change must not clobber the dirty row")
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 0, result.Uploaded)

	// Local edit still intact
	lease, err := env.leases.GetLease(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "terminated", lease.Status)
	assert.True(t, lease.Dirty)

	// The queue row is held for resolution, not acknowledged, and still
	// reported as a pending change
	held, err := env.queue.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusConflict, held.Status)
	assert.Nil(t, held.SyncedAt)
	pendingCount, _, err := env.queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pendingCount)

	// Resolution with merged data
	fake.resolve = func(req *models.ResolveConflictRequest) *models.ResolveConflictResponse {
		return &models.ResolveConflictResponse{
			ConflictID: conflictID,
			Status:     models.ConflictStatusResolved,
			EntityType: models.EntityLeases,
			EntityID:   "42",
			NewVersion: 6,
			Data:       req.ResolvedData,
		}
	}
	_, err = env.svc.ResolveConflict(ctx, conflictID, models.StrategyMerge,
		map[string]interface{}{"status": "terminated", "rent_amount": 1250.0})
	require.NoError(t, err)

	lease, err = env.leases.GetLease(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "terminated", lease.Status)
	assert.Equal(t, 1250.0, lease.RentAmount)
	assert.EqualValues(t, 6, lease.Version)
	assert.False(t, lease.Dirty)

	pendingCount, _, err = env.queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pendingCount)
}

func TestSyncService_GetSyncStatus(t *testing.T) {
	fake := newFakeSyncServer(t)
	env := newSyncEnv(t, fake.server.URL)
	ctx := context.Background()

	_, err := env.mapper.RecordLocalChange(ctx, models.EntityLeases, "l1", models.OpCreate,
		map[string]interface{}{"status": "draft"})
	require.NoError(t, err)

	status, err := env.svc.GetSyncStatus(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, status.DeviceID)
	assert.False(t, status.Registered)
	assert.False(t, status.Syncing)
	assert.Equal(t, 1, status.PendingChanges)
	assert.Nil(t, status.LastResult)

	_, err = env.svc.FullSync(ctx, "manual")
	require.NoError(t, err)

	status, err = env.svc.GetSyncStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.Equal(t, 0, status.PendingChanges)
	require.NotNil(t, status.LastResult)
	assert.True(t, status.LastResult.Success)
}
