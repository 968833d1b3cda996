package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/propsync/agent/internal/models"
	"github.com/propsync/agent/internal/repository"
	"github.com/propsync/agent/internal/services"
)

// ControlHandler exposes the local control API the host application uses to
// trigger syncs and inspect engine state
type ControlHandler struct {
	syncSvc   *services.SyncService
	trigger   *services.TriggerService
	queueRepo repository.QueueRepo
}

// NewControlHandler creates a new ControlHandler
func NewControlHandler(syncSvc *services.SyncService, trigger *services.TriggerService, queueRepo repository.QueueRepo) *ControlHandler {
	return &ControlHandler{
		syncSvc:   syncSvc,
		trigger:   trigger,
		queueRepo: queueRepo,
	}
}

// GetStatus returns the local sync status
// @Summary Sync status
// @Description Returns device registration, cursors, outbox depth and the last sync result
// @Tags sync
// @Produce json
// @Success 200 {object} models.SyncStatus
// @Failure 500 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/status [get]
func (h *ControlHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.syncSvc.GetSyncStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status.Online = h.trigger.Online()
	writeJSON(w, http.StatusOK, status)
}

// TriggerSync runs a full sync pass now
// @Summary Trigger sync
// @Description Runs a full sync pass immediately; fails fast when offline or already syncing
// @Tags sync
// @Produce json
// @Success 200 {object} models.TriggerSyncResponse
// @Failure 409 {object} models.TriggerSyncResponse "A sync pass is already running"
// @Failure 503 {object} models.TriggerSyncResponse "Server unreachable"
// @Security ApiKeyAuth
// @Router /api/sync [post]
func (h *ControlHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.trigger.SyncNow(r.Context())
	if errors.Is(err, services.ErrSyncInProgress) {
		writeJSON(w, http.StatusConflict, models.TriggerSyncResponse{
			Started: false,
			Message: err.Error(),
		})
		return
	}
	if errors.Is(err, services.ErrOffline) {
		writeJSON(w, http.StatusServiceUnavailable, models.TriggerSyncResponse{
			Started: false,
			Message: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, models.TriggerSyncResponse{
		Started: true,
		Result:  result,
	})
}

// ListConflicts returns the server's conflicts for this device
// @Summary List conflicts
// @Description Fetches conflicts from the server, optionally filtered by status
// @Tags conflicts
// @Produce json
// @Param status query string false "Filter by conflict status" Enums(pending, resolved)
// @Success 200 {object} models.ConflictListResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/conflicts [get]
func (h *ControlHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", models.ConflictStatusPending, models.ConflictStatusResolved:
	default:
		writeError(w, http.StatusBadRequest, "unknown conflict status")
		return
	}

	conflicts, err := h.syncSvc.GetConflicts(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}

// ResolveConflict submits a conflict resolution
// @Summary Resolve conflict
// @Description Resolves a conflict with the chosen strategy and applies the winning state locally
// @Tags conflicts
// @Accept json
// @Produce json
// @Param id path string true "Conflict ID"
// @Param request body models.ResolveConflictRequest true "Resolution strategy and optional merged data"
// @Success 200 {object} models.ResolveConflictResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/conflicts/{id}/resolve [post]
func (h *ControlHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := chi.URLParam(r, "id")
	if conflictID == "" {
		writeError(w, http.StatusBadRequest, "conflict id is required")
		return
	}

	var req models.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.ResolutionStrategy {
	case models.StrategyClientWins, models.StrategyServerWins, models.StrategyMerge, models.StrategyManual:
	default:
		writeError(w, http.StatusBadRequest, "unknown resolution strategy")
		return
	}

	resp, err := h.syncSvc.ResolveConflict(r.Context(), conflictID, req.ResolutionStrategy, req.ResolvedData)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetQueue returns outbox statistics and recent rows
// @Summary Inspect outbox
// @Description Returns pending and parked counts plus the most recent queue rows
// @Tags queue
// @Produce json
// @Param limit query int false "Number of rows to return" default(50)
// @Success 200 {object} models.QueueStatsResponse
// @Failure 500 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/queue [get]
func (h *ControlHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	pending, parked, err := h.queueRepo.CountPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	changes, err := h.queueRepo.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.QueueStatsResponse{
		Pending: pending,
		Parked:  parked,
		Changes: changes,
	})
}

// PurgeQueue deletes acknowledged outbox rows
// @Summary Purge settled queue rows
// @Description Deletes all synced outbox rows immediately, regardless of retention age
// @Tags queue
// @Produce json
// @Success 200 {object} models.PurgeQueueResponse
// @Failure 500 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/queue/purge [post]
func (h *ControlHandler) PurgeQueue(w http.ResponseWriter, r *http.Request) {
	purged, err := h.queueRepo.PurgeSyncedBefore(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.PurgeQueueResponse{Purged: int(purged)})
}

// RetryChange resets a parked queue row so it re-enters the next push
// @Summary Retry queued change
// @Description Clears the retry counter of a pending row so the next push includes it
// @Tags queue
// @Produce json
// @Param id path int true "Queue row ID"
// @Success 200 {object} models.RetryChangeResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/queue/{id}/retry [post]
func (h *ControlHandler) RetryChange(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid queue row id")
		return
	}

	if err := h.queueRepo.ResetRetry(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrChangeNotFound) {
			writeError(w, http.StatusNotFound, "no pending change with that id")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.RetryChangeResponse{
		ID:     id,
		Status: models.QueueStatusPending,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message})
}
