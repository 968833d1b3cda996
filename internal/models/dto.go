package models

import "time"

// DTOs for the local control API consumed by the host application.

// HealthResponse is returned by health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// TriggerSyncResponse is returned by POST /api/sync
type TriggerSyncResponse struct {
	Started bool        `json:"started"`
	Result  *SyncResult `json:"result,omitempty"`
	Message string      `json:"message,omitempty"`
}

// QueueStatsResponse summarizes the outbox for GET /api/queue
type QueueStatsResponse struct {
	Pending int             `json:"pending"`
	Parked  int             `json:"parked"`
	Changes []*QueuedChange `json:"changes"`
}

// PurgeQueueResponse is returned by POST /api/queue/purge
type PurgeQueueResponse struct {
	Purged int `json:"purged"`
}

// RetryChangeResponse is returned by POST /api/queue/{id}/retry
type RetryChangeResponse struct {
	ID      int64  `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
