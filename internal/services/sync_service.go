package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/propsync/agent/internal/config"
	"github.com/propsync/agent/internal/models"
	"github.com/propsync/agent/internal/observability"
	"github.com/propsync/agent/internal/repository"
)

// maxPullPages bounds one pull pass so a server bug that never clears
// has_more cannot spin the coordinator forever
const maxPullPages = 1000

type SyncError struct {
	Message string
}

func (e SyncError) Error() string {
	return e.Message
}

var (
	ErrSyncInProgress = SyncError{"a sync pass is already running"}
	ErrPushIncomplete = SyncError{"server returned fewer results than changes pushed"}
)

// SyncService coordinates pull and push passes against the server. At most
// one full sync runs at a time; concurrent attempts fail fast with
// ErrSyncInProgress rather than queueing behind the running pass.
type SyncService struct {
	client  *APIClient
	queue   repository.QueueRepo
	meta    repository.MetadataRepo
	mapper  *EntityMapper
	cfg     config.Sync
	device  config.Device
	metrics *observability.SyncMetrics
	logger  *observability.Logger

	mu               sync.Mutex
	syncing          bool
	lastResult       *models.SyncResult
	pendingConflicts int
}

func NewSyncService(client *APIClient, queue repository.QueueRepo, meta repository.MetadataRepo, mapper *EntityMapper, syncCfg config.Sync, deviceCfg config.Device, metrics *observability.SyncMetrics) *SyncService {
	return &SyncService{
		client:  client,
		queue:   queue,
		meta:    meta,
		mapper:  mapper,
		cfg:     syncCfg,
		device:  deviceCfg,
		metrics: metrics,
		logger:  observability.GetLogger().WithField("component", "sync_service"),
	}
}

// Initialize loads or mints the device identity and, when the server is
// reachable, verifies the advertised entity types against the registered
// stores. Discovery failures are logged and tolerated so the agent still
// starts offline.
func (s *SyncService) Initialize(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "SyncService.Initialize")
	defer span.End()

	meta, err := s.meta.Snapshot(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	if meta.DeviceID == "" {
		identity, err := models.NewDeviceIdentity(s.device.DeviceName, s.device.Platform, s.device.AppVersion, s.device.OSVersion)
		if err != nil {
			observability.RecordError(span, err)
			return err
		}
		err = s.meta.SetMany(ctx, map[string]string{
			models.MetaDeviceID:   identity.DeviceID,
			models.MetaDeviceName: identity.DeviceName,
			models.MetaPlatform:   identity.Platform,
		})
		if err != nil {
			observability.RecordError(span, err)
			return err
		}
		meta.DeviceID = identity.DeviceID
		s.logger.WithField("device_id", identity.DeviceID).Info("Minted new device identity")
	}

	s.client.SetDeviceID(meta.DeviceID)
	s.discoverEntityTypes(ctx)

	observability.SetSuccess(span)
	return nil
}

func (s *SyncService) discoverEntityTypes(ctx context.Context) {
	resp, err := s.client.GetEntityTypes(ctx)
	if err != nil {
		s.logger.WithContext(ctx).Warnf("Entity type discovery skipped: %v", err)
		return
	}

	advertised := make(map[string]bool, len(resp.EntityTypes))
	for _, info := range resp.EntityTypes {
		if info.IsSyncable {
			advertised[info.EntityType] = true
		}
		if info.IsSyncable && !s.mapper.Has(info.EntityType) {
			s.logger.WithField("entity_type", info.EntityType).
				Warn("Server syncs an entity type with no local store")
		}
	}
	for _, t := range s.mapper.EntityTypes() {
		if !advertised[t] {
			s.logger.WithField("entity_type", t).
				Warn("Local store registered for an entity type the server does not sync")
		}
	}
}

// RegisterDevice registers this device with the server and persists the
// returned identifiers atomically, so a crash cannot leave the device
// half-registered.
func (s *SyncService) RegisterDevice(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "SyncService.RegisterDevice")
	defer span.End()

	meta, err := s.meta.Snapshot(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	if meta.DeviceID == "" {
		return models.ErrNotInitialized
	}

	resp, err := s.client.RegisterDevice(ctx, &models.RegisterDeviceRequest{
		DeviceID:   meta.DeviceID,
		DeviceName: meta.DeviceName,
		Platform:   s.device.Platform,
		AppVersion: s.device.AppVersion,
		OSVersion:  s.device.OSVersion,
	})
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	values := map[string]string{
		models.MetaClientID: resp.ClientID,
		models.MetaUserID:   resp.UserID,
	}
	if resp.LastSyncAt != nil && *resp.LastSyncAt != "" {
		values[models.MetaLastSyncAt] = *resp.LastSyncAt
	}
	if err := s.meta.SetMany(ctx, values); err != nil {
		observability.RecordError(span, err)
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"client_id": resp.ClientID,
		"is_new":    resp.IsNew,
	}).Info("Device registered")
	observability.SetSuccess(span)
	return nil
}

func (s *SyncService) ensureRegistered(ctx context.Context) error {
	meta, err := s.meta.Snapshot(ctx)
	if err != nil {
		return err
	}
	if meta.Registered() {
		return nil
	}
	return s.RegisterDevice(ctx)
}

// FullSync runs one complete pass: pull server changes first, then push the
// outbox, then settle metadata and retention. The trigger label names what
// started the pass (manual, interval, connectivity, notify).
func (s *SyncService) FullSync(ctx context.Context, trigger string) (*models.SyncResult, error) {
	if err := s.beginPass(); err != nil {
		return nil, err
	}
	defer s.endPass()

	ctx, span := observability.StartSpan(ctx, "SyncService.FullSync")
	defer span.End()
	start := time.Now()

	result := models.NewSyncResult()
	err := s.runFullSync(ctx, result)
	if err != nil {
		result.Fail(err)
		observability.RecordError(span, err)
		s.handleAuthFailure(ctx, err)
	} else {
		observability.SetSuccess(span)
	}

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSyncRun(ctx, trigger, result.Success, time.Since(start))
		if pending, parked, cErr := s.queue.CountPending(ctx); cErr == nil {
			s.metrics.RecordQueueDepth(ctx, pending, parked)
		}
	}

	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"trigger":    trigger,
		"success":    result.Success,
		"downloaded": result.Downloaded,
		"uploaded":   result.Uploaded,
		"conflicts":  result.Conflicts,
		"duration":   time.Since(start).String(),
	}).Info("Sync pass finished")

	return result, err
}

// beginPass takes the single-flight slot shared by all three sync entry
// points. Passes never interleave; the loser fails fast.
func (s *SyncService) beginPass() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncing {
		return ErrSyncInProgress
	}
	s.syncing = true
	return nil
}

func (s *SyncService) endPass() {
	s.mu.Lock()
	s.syncing = false
	s.mu.Unlock()
}

// handleAuthFailure clears the stored registration when the server no longer
// recognizes this device, so the next pass re-registers instead of failing
// the same way forever.
func (s *SyncService) handleAuthFailure(ctx context.Context, err error) {
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return
	}
	if mErr := s.meta.SetMany(ctx, map[string]string{
		models.MetaClientID: "",
		models.MetaUserID:   "",
	}); mErr != nil {
		s.logger.WithContext(ctx).Warnf("Failed to clear rejected registration: %v", mErr)
		return
	}
	s.logger.WithContext(ctx).Warn("Server rejected device registration, will re-register on next pass")
}

func (s *SyncService) runFullSync(ctx context.Context, result *models.SyncResult) error {
	if err := s.ensureRegistered(ctx); err != nil {
		return err
	}

	pullResult, err := s.pull(ctx, nil)
	if pullResult != nil {
		result.Merge(pullResult)
	}
	if err != nil {
		return err
	}

	pushResult, err := s.push(ctx)
	if pushResult != nil {
		result.Merge(pushResult)
	}
	if err != nil {
		return err
	}

	if s.cfg.RetentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
		if purged, pErr := s.queue.PurgeSyncedBefore(ctx, cutoff); pErr != nil {
			s.logger.WithContext(ctx).Warnf("Queue retention purge failed: %v", pErr)
		} else if purged > 0 {
			s.logger.WithContext(ctx).Debugf("Purged %d settled queue rows", purged)
		}
	}
	return nil
}

// PullSync downloads and applies server changes page by page, optionally
// restricted to the given entity types. The pull cursor advances after each
// fully applied page, so an interruption resumes from the last completed
// page instead of re-downloading everything.
func (s *SyncService) PullSync(ctx context.Context, entityTypes []string) (*models.SyncResult, error) {
	if err := s.beginPass(); err != nil {
		return nil, err
	}
	defer s.endPass()

	if err := s.ensureRegistered(ctx); err != nil {
		return models.NewSyncResult().Fail(err), err
	}
	return s.pull(ctx, entityTypes)
}

func (s *SyncService) pull(ctx context.Context, entityTypes []string) (*models.SyncResult, error) {
	ctx, span := observability.StartSpan(ctx, "SyncService.pull")
	defer span.End()

	result := models.NewSyncResult()

	since, err := s.meta.Get(ctx, models.MetaLastPullAt)
	if err != nil {
		observability.RecordError(span, err)
		return result.Fail(err), err
	}

	cursor := ""
	for page := 0; page < maxPullPages; page++ {
		resp, err := s.client.PullChanges(ctx, since, cursor, s.cfg.PullPageSize, entityTypes)
		if err != nil {
			observability.RecordError(span, err)
			return result.Fail(err), err
		}

		for _, change := range resp.Changes {
			applied, skipped, aErr := s.mapper.ApplyChange(ctx, change)
			switch {
			case aErr != nil:
				result.Errors++
				s.logger.WithContext(ctx).WithFields(map[string]interface{}{
					"entity_type": change.EntityType,
					"operation":   change.Operation,
				}).Warnf("Failed to apply server change: %v", aErr)
			case applied:
				result.Downloaded++
			case skipped:
				result.Skipped++
			}
		}

		// Advance the cursor only after the whole page is applied
		if resp.SyncTimestamp != "" {
			err := s.meta.SetMany(ctx, map[string]string{
				models.MetaLastPullAt: resp.SyncTimestamp,
				models.MetaLastSyncAt: resp.SyncTimestamp,
			})
			if err != nil {
				observability.RecordError(span, err)
				return result.Fail(err), err
			}
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	if s.metrics != nil {
		s.metrics.RecordPull(ctx, result.Downloaded, result.Skipped)
	}
	observability.SetSuccess(span)
	return result, nil
}

// PushSync uploads pending outbox rows in insertion order
func (s *SyncService) PushSync(ctx context.Context) (*models.SyncResult, error) {
	if err := s.beginPass(); err != nil {
		return nil, err
	}
	defer s.endPass()

	if err := s.ensureRegistered(ctx); err != nil {
		return models.NewSyncResult().Fail(err), err
	}
	return s.push(ctx)
}

func (s *SyncService) push(ctx context.Context) (*models.SyncResult, error) {
	ctx, span := observability.StartSpan(ctx, "SyncService.push")
	defer span.End()

	result := models.NewSyncResult()

	pending, err := s.queue.PendingChanges(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return result.Fail(err), err
	}
	if len(pending) == 0 {
		observability.SetSuccess(span)
		return result, nil
	}

	deviceID, err := s.meta.Get(ctx, models.MetaDeviceID)
	if err != nil {
		observability.RecordError(span, err)
		return result.Fail(err), err
	}

	// The whole outbox goes up as one batch; results come back positionally
	if err := s.pushBatch(ctx, deviceID, pending, result); err != nil {
		observability.RecordError(span, err)
		return result.Fail(err), err
	}

	if s.metrics != nil {
		s.metrics.RecordPush(ctx, result.Uploaded, result.Conflicts, result.Errors)
	}
	observability.SetSuccess(span)
	return result, nil
}

func (s *SyncService) pushBatch(ctx context.Context, deviceID string, batch []*models.QueuedChange, result *models.SyncResult) error {
	records := make([]models.ChangeRecord, 0, len(batch))
	sent := make([]*models.QueuedChange, 0, len(batch))

	for _, change := range batch {
		record, err := s.mapper.ToChangeRecord(change)
		if err != nil {
			// A row that cannot be serialized will never succeed; park it
			// through the retry path so it surfaces on the control API.
			result.Errors++
			if rErr := s.queue.IncrementRetry(ctx, change.ID, err.Error()); rErr != nil {
				return rErr
			}
			continue
		}
		records = append(records, record)
		sent = append(sent, change)
	}
	if len(records) == 0 {
		return nil
	}

	resp, err := s.client.PushChanges(ctx, &models.PushChangesRequest{
		DeviceID: deviceID,
		Changes:  records,
	})
	if err != nil {
		// Transport failures and 5xx leave every row pending for the next
		// pass; retry counters only move on per-item rejections.
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			for _, change := range sent {
				if rErr := s.queue.IncrementRetry(ctx, change.ID, apiErr.Error()); rErr != nil {
					return rErr
				}
			}
			result.Errors += len(sent)
			return nil
		}
		return err
	}

	// Results are positional: results[i] answers changes[i]
	for i, change := range sent {
		if i >= len(resp.Results) {
			result.Errors++
			continue
		}
		item := resp.Results[i]
		switch item.Status {
		case models.PushStatusSuccess:
			if err := s.mapper.AcknowledgeSuccess(ctx, change, item.EntityID, item.Version); err != nil {
				return err
			}
			if err := s.queue.MarkSynced(ctx, change.ID); err != nil {
				return err
			}
			result.Uploaded++

		case models.PushStatusConflict:
			// The row is held, not acknowledged: it leaves the push path but
			// stays unsettled until the resolution flow clears it.
			if err := s.queue.MarkConflict(ctx, change.ID, stringOrEmpty(item.ConflictID)); err != nil {
				return err
			}
			result.Conflicts++
			s.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"entity_type": change.EntityType,
				"conflict_id": stringOrEmpty(item.ConflictID),
			}).Warn("Server reported conflict for pushed change")

		default:
			if err := s.queue.IncrementRetry(ctx, change.ID, item.Message); err != nil {
				return err
			}
			result.Errors++
		}
	}
	if len(resp.Results) < len(sent) {
		s.logger.WithContext(ctx).Warnf("Push returned %d results for %d changes", len(resp.Results), len(sent))
	}

	if resp.SyncTimestamp != "" {
		if err := s.meta.SetMany(ctx, map[string]string{
			models.MetaLastPushAt: resp.SyncTimestamp,
			models.MetaLastSyncAt: resp.SyncTimestamp,
		}); err != nil {
			return err
		}
	}
	return nil
}

// GetConflicts fetches the server's conflict list for this device. An empty
// status returns all conflicts; "pending" or "resolved" filter server-side.
func (s *SyncService) GetConflicts(ctx context.Context, status string) (*models.ConflictListResponse, error) {
	if err := s.ensureRegistered(ctx); err != nil {
		return nil, err
	}

	resp, err := s.client.GetConflicts(ctx, status)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.pendingConflicts = resp.TotalPending
	s.mu.Unlock()
	return resp, nil
}

// ResolveConflict submits a resolution, applies the winning state locally
// and drops any queued local edits the resolution supersedes
func (s *SyncService) ResolveConflict(ctx context.Context, conflictID, strategy string, resolvedData map[string]interface{}) (*models.ResolveConflictResponse, error) {
	ctx, span := observability.StartSpan(ctx, "SyncService.ResolveConflict")
	defer span.End()

	resp, err := s.client.ResolveConflict(ctx, &models.ResolveConflictRequest{
		ConflictID:         conflictID,
		ResolutionStrategy: strategy,
		ResolvedData:       resolvedData,
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	if err := s.mapper.ApplyResolution(ctx, resp); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	removed, err := s.queue.RemoveForEntity(ctx, resp.EntityType, resp.EntityID)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if removed > 0 {
		s.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"conflict_id": conflictID,
			"entity_id":   resp.EntityID,
		}).Infof("Dropped %d queued changes superseded by resolution", removed)
	}

	s.mu.Lock()
	if s.pendingConflicts > 0 {
		s.pendingConflicts--
	}
	s.mu.Unlock()

	observability.SetSuccess(span)
	return resp, nil
}

// GetSyncStatus reports local sync state without contacting the server
func (s *SyncService) GetSyncStatus(ctx context.Context) (*models.SyncStatus, error) {
	meta, err := s.meta.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	pending, parked, err := s.queue.CountPending(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	syncing := s.syncing
	lastResult := s.lastResult
	conflicts := s.pendingConflicts
	s.mu.Unlock()

	return &models.SyncStatus{
		DeviceID:         meta.DeviceID,
		ClientID:         meta.ClientID,
		Registered:       meta.Registered(),
		Syncing:          syncing,
		LastSyncAt:       meta.LastSyncAt,
		LastPullAt:       meta.LastPullAt,
		LastPushAt:       meta.LastPushAt,
		PendingChanges:   pending,
		ParkedChanges:    parked,
		PendingConflicts: conflicts,
		CheckedAt:        time.Now().UTC(),
		LastResult:       lastResult,
	}, nil
}

// Syncing reports whether a sync pass is currently running
func (s *SyncService) Syncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
