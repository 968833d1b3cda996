package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/propsync/agent/internal/config"
	"github.com/propsync/agent/internal/models"
	"github.com/propsync/agent/internal/observability"
)

var ErrOffline = SyncError{"server is unreachable"}

// TriggerService decides when sync runs. It probes connectivity, fires a
// pass on the offline-to-online edge, on a periodic interval, on server
// notifications and on manual request. Triggers that arrive while a pass is
// running are dropped, not queued.
type TriggerService struct {
	syncSvc       *SyncService
	client        *APIClient
	interval      time.Duration
	probeInterval time.Duration
	logger        *observability.Logger

	mu              sync.Mutex
	online          bool
	subscribers     []chan *models.SyncResult
	connSubscribers []chan bool

	notifyCh chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewTriggerService(syncSvc *SyncService, client *APIClient, syncCfg config.Sync, connCfg config.Connectivity) *TriggerService {
	interval := time.Duration(syncCfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	probeInterval := time.Duration(connCfg.ProbeIntervalSeconds) * time.Second
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}

	return &TriggerService{
		syncSvc:       syncSvc,
		client:        client,
		interval:      interval,
		probeInterval: probeInterval,
		notifyCh:      make(chan struct{}, 1),
		logger:        observability.GetLogger().WithField("component", "trigger_service"),
	}
}

// Start launches the trigger loop. An initial probe runs immediately and,
// when the server is reachable, kicks off a startup sync.
func (t *TriggerService) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.loop(ctx)
	t.logger.Infof("Trigger service started, interval=%s probe=%s", t.interval, t.probeInterval)
}

// Stop shuts the trigger loop down and waits for it to exit
func (t *TriggerService) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	t.logger.Info("Trigger service stopped")
}

func (t *TriggerService) loop(ctx context.Context) {
	defer t.wg.Done()

	if t.probe(ctx) {
		t.run(ctx, "startup")
	}

	probeTicker := time.NewTicker(t.probeInterval)
	defer probeTicker.Stop()
	syncTicker := time.NewTicker(t.interval)
	defer syncTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-probeTicker.C:
			wasOnline := t.Online()
			if t.probe(ctx) && !wasOnline {
				// Offline-to-online edge: drain the outbox right away
				t.run(ctx, "connectivity")
			}

		case <-syncTicker.C:
			if t.Online() {
				t.run(ctx, "interval")
			}

		case <-t.notifyCh:
			if t.Online() {
				t.run(ctx, "notify")
			}
		}
	}
}

// probe checks server reachability and records the result
func (t *TriggerService) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := t.client.Ping(probeCtx)
	online := err == nil

	t.mu.Lock()
	changed := t.online != online
	t.online = online
	t.mu.Unlock()

	if changed {
		if online {
			t.logger.Info("Server reachable")
		} else {
			t.logger.Warnf("Server unreachable: %v", err)
		}
		t.publishConnectivity(online)
	}
	return online
}

func (t *TriggerService) run(ctx context.Context, trigger string) {
	result, err := t.syncSvc.FullSync(ctx, trigger)
	if errors.Is(err, ErrSyncInProgress) {
		t.logger.WithField("trigger", trigger).Debug("Sync already running, trigger dropped")
		return
	}
	if result != nil {
		t.publish(result)
	}
	if err != nil && t.isTransportError(err) {
		t.mu.Lock()
		changed := t.online
		t.online = false
		t.mu.Unlock()
		if changed {
			t.publishConnectivity(false)
		}
	}
}

func (t *TriggerService) isTransportError(err error) bool {
	var apiErr *APIError
	var authErr *AuthError
	if errors.As(err, &apiErr) || errors.As(err, &authErr) {
		return false
	}
	var syncErr SyncError
	if errors.As(err, &syncErr) {
		return false
	}
	// Anything else from a sync pass is a network-level failure
	return true
}

// SyncNow runs a sync pass immediately. It fails fast when the server is
// unreachable or a pass is already running, so callers never block behind
// the trigger loop.
func (t *TriggerService) SyncNow(ctx context.Context) (*models.SyncResult, error) {
	if !t.Online() {
		// One direct probe before refusing, so a manual request recovers
		// from a stale offline flag without waiting for the next tick
		if !t.probe(ctx) {
			return nil, ErrOffline
		}
	}

	result, err := t.syncSvc.FullSync(ctx, "manual")
	if result != nil {
		t.publish(result)
	}
	return result, err
}

// Notify pokes the trigger loop, used by the websocket listener when the
// server announces new changes. Duplicate pokes collapse into one.
func (t *TriggerService) Notify() {
	select {
	case t.notifyCh <- struct{}{}:
	default:
	}
}

// Online reports the last observed connectivity state
func (t *TriggerService) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// Subscribe returns a channel receiving the result of every completed sync
// pass. Slow subscribers miss results instead of stalling the loop.
func (t *TriggerService) Subscribe() <-chan *models.SyncResult {
	ch := make(chan *models.SyncResult, 4)
	t.mu.Lock()
	t.subscribers = append(t.subscribers, ch)
	t.mu.Unlock()
	return ch
}

// SubscribeConnectivity returns a channel receiving the new state on every
// online/offline transition. Slow subscribers miss transitions instead of
// stalling the loop.
func (t *TriggerService) SubscribeConnectivity() <-chan bool {
	ch := make(chan bool, 4)
	t.mu.Lock()
	t.connSubscribers = append(t.connSubscribers, ch)
	t.mu.Unlock()
	return ch
}

func (t *TriggerService) publish(result *models.SyncResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subscribers {
		select {
		case ch <- result:
		default:
		}
	}
}

func (t *TriggerService) publishConnectivity(online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.connSubscribers {
		select {
		case ch <- online:
		default:
		}
	}
}
