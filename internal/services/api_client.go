package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/propsync/agent/internal/models"
	"github.com/propsync/agent/internal/observability"
)

const deviceIDHeader = "X-Device-ID"

// APIError is a non-2xx response from the sync server. 5xx responses are
// transient and leave queue rows pending; 4xx responses are permanent.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failed request may succeed later
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// AuthError means the server no longer recognizes this device's registration
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("device not authorized (%d): %s", e.StatusCode, e.Message)
}

// APIClient talks to the sync server under /api/v1/sync. Every request
// carries the device ID header once the device is registered.
type APIClient struct {
	baseURL    string
	deviceID   string
	httpClient *http.Client
	logger     *observability.Logger
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: observability.GetLogger().WithField("component", "api_client"),
	}
}

// SetDeviceID sets the identity header sent on all subsequent requests
func (c *APIClient) SetDeviceID(deviceID string) {
	c.deviceID = deviceID
}

// Ping probes server reachability. A response with any status counts as
// reachable; only transport failures report offline.
func (c *APIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// RegisterDevice registers or re-registers this device
func (c *APIClient) RegisterDevice(ctx context.Context, req *models.RegisterDeviceRequest) (*models.RegisterDeviceResponse, error) {
	var resp models.RegisterDeviceResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/sync/register", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PullChanges fetches one page of server changes. Both since and cursor are
// opaque server-issued strings; empty since means full bootstrap. A non-empty
// entityTypes list restricts the page to those types.
func (c *APIClient) PullChanges(ctx context.Context, since, cursor string, limit int, entityTypes []string) (*models.PullChangesResponse, error) {
	query := url.Values{}
	if since != "" {
		query.Set("since", since)
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	for _, t := range entityTypes {
		query.Add("entity_types", t)
	}

	var resp models.PullChangesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sync/changes", query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PushChanges uploads a batch of local changes. Results come back in the
// same order as the request changes.
func (c *APIClient) PushChanges(ctx context.Context, req *models.PushChangesRequest) (*models.PushChangesResponse, error) {
	var resp models.PushChangesResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/sync/changes", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetConflicts lists conflicts recorded for this device, optionally filtered
// by status ("pending" or "resolved")
func (c *APIClient) GetConflicts(ctx context.Context, status string) (*models.ConflictListResponse, error) {
	var query url.Values
	if status != "" {
		query = url.Values{"status": []string{status}}
	}

	var resp models.ConflictListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sync/conflicts", query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResolveConflict submits a resolution and returns the winning entity state
func (c *APIClient) ResolveConflict(ctx context.Context, req *models.ResolveConflictRequest) (*models.ResolveConflictResponse, error) {
	var resp models.ResolveConflictResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/sync/conflicts/resolve", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStatus returns the server's view of this device
func (c *APIClient) GetStatus(ctx context.Context) (*models.ServerSyncStatus, error) {
	var resp models.ServerSyncStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sync/status", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetEntityTypes returns the entity types the server will sync
func (c *APIClient) GetEntityTypes(ctx context.Context) (*models.EntityTypesResponse, error) {
	var resp models.EntityTypesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sync/entity-types", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	ctx, span := observability.StartSpan(ctx, fmt.Sprintf("APIClient %s %s", method, path))
	defer span.End()

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.deviceID != "" {
		req.Header.Set(deviceIDHeader, c.deviceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := c.readError(resp)
		observability.RecordError(span, apiErr)
		return apiErr
	}

	observability.SetSuccess(span)
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// readError extracts the server's error message, tolerating both
// {"detail": ...} and {"error": ...} shapes
func (c *APIClient) readError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := http.StatusText(resp.StatusCode)
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Detail != "" {
			message = payload.Detail
		} else if payload.Error != "" {
			message = payload.Error
		}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{StatusCode: resp.StatusCode, Message: message}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}
