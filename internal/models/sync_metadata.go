package models

import "time"

// Sync metadata keys persisted in the sync_metadata key-value table.
// The Sync Coordinator is the sole writer; the Trigger Service reads
// last_sync_at for staleness checks.
const (
	MetaDeviceID   = "device_id"
	MetaDeviceName = "device_name"
	MetaPlatform   = "platform"
	MetaClientID   = "client_id"
	MetaUserID     = "user_id"
	MetaLastSyncAt = "last_sync_at"
	MetaLastPullAt = "last_pull_at"
	MetaLastPushAt = "last_push_at"
)

// SyncMetadata is a snapshot of the persisted scalar sync state.
// Timestamps are server-issued strings, stored and round-tripped opaque,
// never parsed or compared locally.
type SyncMetadata struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	ClientID   string `json:"clientId"`
	UserID     string `json:"userId"`
	LastSyncAt string `json:"lastSyncAt,omitempty"`
	LastPullAt string `json:"lastPullAt,omitempty"`
	LastPushAt string `json:"lastPushAt,omitempty"`
}

// Registered reports whether the device has completed server registration
func (m *SyncMetadata) Registered() bool {
	return m.ClientID != ""
}

// SyncStatus is the read-only local status snapshot returned by the
// coordinator and exposed on the control API.
type SyncStatus struct {
	DeviceID         string     `json:"deviceId"`
	ClientID         string     `json:"clientId,omitempty"`
	Registered       bool       `json:"registered"`
	Online           bool       `json:"online"`
	Syncing          bool       `json:"syncing"`
	LastSyncAt       string     `json:"lastSyncAt,omitempty"`
	LastPullAt       string     `json:"lastPullAt,omitempty"`
	LastPushAt       string     `json:"lastPushAt,omitempty"`
	PendingChanges   int        `json:"pendingChanges"`
	ParkedChanges    int        `json:"parkedChanges"`
	PendingConflicts int        `json:"pendingConflicts"`
	CheckedAt        time.Time  `json:"checkedAt"`
	LastResult       *SyncResult `json:"lastResult,omitempty"`
}
