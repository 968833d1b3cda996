package models

// Wire DTOs for the sync protocol under /api/v1/sync. Field names follow the
// server contract (snake_case); all timestamps and cursors are opaque strings
// issued by the server and only round-tripped by the client.

// ChangeRecord is the change shape shared by pull responses and push requests
type ChangeRecord struct {
	ID            *int64                 `json:"id,omitempty"`
	EntityType    string                 `json:"entity_type"`
	EntityID      *string                `json:"entity_id,omitempty"`
	Operation     string                 `json:"operation"`
	Data          map[string]interface{} `json:"data,omitempty"`
	ChangedFields []string               `json:"changed_fields,omitempty"`
	Version       *int64                 `json:"version,omitempty"`
	UserID        *string                `json:"user_id,omitempty"`
	CreatedAt     *string                `json:"created_at,omitempty"`
	LocalID       *string                `json:"local_id,omitempty"`
	Timestamp     *string                `json:"timestamp,omitempty"`
}

// RegisterDeviceRequest for POST /api/v1/sync/register
type RegisterDeviceRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version"`
	OSVersion  string `json:"os_version"`
}

// RegisterDeviceResponse for POST /api/v1/sync/register
type RegisterDeviceResponse struct {
	ClientID   string  `json:"client_id"`
	DeviceID   string  `json:"device_id"`
	UserID     string  `json:"user_id"`
	IsNew      bool    `json:"is_new"`
	LastSyncAt *string `json:"last_sync_at,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// PullChangesResponse for GET /api/v1/sync/changes
type PullChangesResponse struct {
	Changes       []ChangeRecord `json:"changes"`
	SyncTimestamp string         `json:"sync_timestamp"`
	HasMore       bool           `json:"has_more"`
	NextCursor    string         `json:"next_cursor,omitempty"`
	TotalChanges  int            `json:"total_changes"`
}

// PushChangesRequest for POST /api/v1/sync/changes
type PushChangesRequest struct {
	DeviceID      string         `json:"device_id"`
	Changes       []ChangeRecord `json:"changes"`
	SyncTimestamp string         `json:"sync_timestamp,omitempty"`
}

// Push result item statuses, positionally matched to the request order
const (
	PushStatusSuccess  = "success"
	PushStatusConflict = "conflict"
	PushStatusError    = "error"
)

// PushItemResult is one entry of the positional results array
type PushItemResult struct {
	Status     string  `json:"status"`
	EntityType string  `json:"entity_type,omitempty"`
	EntityID   *string `json:"entity_id,omitempty"`
	Version    *int64  `json:"version,omitempty"`
	ConflictID *string `json:"conflict_id,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// PushChangesResponse for POST /api/v1/sync/changes
type PushChangesResponse struct {
	Results        []PushItemResult `json:"results"`
	SyncTimestamp  string           `json:"sync_timestamp"`
	TotalApplied   int              `json:"total_applied"`
	TotalConflicts int              `json:"total_conflicts"`
	TotalErrors    int              `json:"total_errors"`
	Message        string           `json:"message,omitempty"`
}

// Conflict statuses
const (
	ConflictStatusPending  = "pending"
	ConflictStatusResolved = "resolved"
)

// Resolution strategies accepted by the server
const (
	StrategyClientWins = "client_wins"
	StrategyServerWins = "server_wins"
	StrategyMerge      = "merge"
	StrategyManual     = "manual"
)

// ConflictRecord is a server-detected version mismatch for one entity
type ConflictRecord struct {
	ID                string                 `json:"id"`
	EntityType        string                 `json:"entity_type"`
	EntityID          string                 `json:"entity_id"`
	ClientVersion     int64                  `json:"client_version"`
	ServerVersion     int64                  `json:"server_version"`
	ClientData        map[string]interface{} `json:"client_data,omitempty"`
	ServerData        map[string]interface{} `json:"server_data,omitempty"`
	ConflictingFields []string               `json:"conflicting_fields,omitempty"`
	Status            string                 `json:"status"`
	CreatedAt         string                 `json:"created_at"`
}

// ConflictListResponse for GET /api/v1/sync/conflicts
type ConflictListResponse struct {
	Conflicts     []ConflictRecord `json:"conflicts"`
	TotalPending  int              `json:"total_pending"`
	TotalResolved int              `json:"total_resolved"`
}

// ResolveConflictRequest for POST /api/v1/sync/conflicts/resolve
type ResolveConflictRequest struct {
	ConflictID         string                 `json:"conflict_id"`
	ResolutionStrategy string                 `json:"resolution_strategy"`
	ResolvedData       map[string]interface{} `json:"resolved_data,omitempty"`
}

// ResolveConflictResponse for POST /api/v1/sync/conflicts/resolve
type ResolveConflictResponse struct {
	ConflictID string                 `json:"conflict_id"`
	Status     string                 `json:"status"`
	EntityID   string                 `json:"entity_id"`
	EntityType string                 `json:"entity_type"`
	NewVersion int64                  `json:"new_version"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Message    string                 `json:"message,omitempty"`
}

// ServerSyncStatus for GET /api/v1/sync/status
type ServerSyncStatus struct {
	ClientID         string  `json:"client_id"`
	DeviceID         string  `json:"device_id"`
	DeviceName       string  `json:"device_name"`
	LastSyncAt       *string `json:"last_sync_at,omitempty"`
	LastPullAt       *string `json:"last_pull_at,omitempty"`
	LastPushAt       *string `json:"last_push_at,omitempty"`
	PendingConflicts int     `json:"pending_conflicts"`
	IsActive         bool    `json:"is_active"`
	CreatedAt        string  `json:"created_at"`
}

// EntityTypeInfo describes one syncable entity type advertised by the server
type EntityTypeInfo struct {
	EntityType         string  `json:"entity_type"`
	DisplayName        string  `json:"display_name"`
	IsSyncable         bool    `json:"is_syncable"`
	RequiresPermission *string `json:"requires_permission,omitempty"`
}

// EntityTypesResponse for GET /api/v1/sync/entity-types
type EntityTypesResponse struct {
	EntityTypes []EntityTypeInfo `json:"entity_types"`
}
