package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/propsync/agent/internal/observability"
)

const (
	wsReconnectMin = time.Second
	wsReconnectMax = time.Minute
)

// notifyMessage is the envelope the server pushes over the notify socket
type notifyMessage struct {
	Type       string `json:"type"`
	EntityType string `json:"entity_type,omitempty"`
}

// WSNotifier keeps a websocket open to the server's notify endpoint and
// pokes the trigger service whenever the server announces new changes. The
// socket is an optimization only; interval and connectivity triggers still
// cover devices where it cannot connect.
type WSNotifier struct {
	url      string
	deviceID string
	trigger  *TriggerService
	logger   *observability.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWSNotifier(url, deviceID string, trigger *TriggerService) *WSNotifier {
	return &WSNotifier{
		url:      url,
		deviceID: deviceID,
		trigger:  trigger,
		logger:   observability.GetLogger().WithField("component", "ws_notifier"),
	}
}

// Start launches the listener with automatic reconnection
func (n *WSNotifier) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.wg.Add(1)
	go n.loop(ctx)
	n.logger.Infof("Notify listener started for %s", n.url)
}

// Stop closes the listener and waits for it to exit
func (n *WSNotifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	n.logger.Info("Notify listener stopped")
}

func (n *WSNotifier) loop(ctx context.Context) {
	defer n.wg.Done()

	backoff := wsReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := n.dial(ctx)
		if err != nil {
			n.logger.Debugf("Notify socket dial failed, retrying in %s: %v", backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > wsReconnectMax {
				backoff = wsReconnectMax
			}
			continue
		}

		backoff = wsReconnectMin
		n.logger.Info("Notify socket connected")
		n.read(ctx, conn)
	}
}

func (n *WSNotifier) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	header := map[string][]string{}
	if n.deviceID != "" {
		header[deviceIDHeader] = []string{n.deviceID}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, n.url, header)
	return conn, err
}

func (n *WSNotifier) read(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	// Unblock ReadMessage when the listener is stopped
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				n.logger.Debugf("Notify socket closed: %v", err)
			}
			return
		}

		var msg notifyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			n.logger.Debugf("Ignoring malformed notify message: %v", err)
			continue
		}

		switch msg.Type {
		case "sync_required", "changes_available":
			n.trigger.Notify()
		case "ping":
			// Keepalive, nothing to do
		default:
			n.logger.WithField("type", msg.Type).Debug("Ignoring notify message")
		}
	}
}
