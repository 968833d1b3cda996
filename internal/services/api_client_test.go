package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsync/agent/internal/models"
)

func TestAPIClient_DeviceIDHeader(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Device-ID")
		json.NewEncoder(w).Encode(models.PullChangesResponse{})
	}))
	defer server.Close()

	client := NewAPIClient(server.URL)
	ctx := context.Background()

	_, err := client.PullChanges(ctx, "", "", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, gotHeader, "header must not be sent before registration")

	client.SetDeviceID("dev-1")
	_, err = client.PullChanges(ctx, "", "", 10, nil)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", gotHeader)
}

func TestAPIClient_PullQueryParams(t *testing.T) {
	var query map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		json.NewEncoder(w).Encode(models.PullChangesResponse{})
	}))
	defer server.Close()

	client := NewAPIClient(server.URL)
	_, err := client.PullChanges(context.Background(), "2025-01-01T00:00:00Z", "page-2", 50,
		[]string{"leases", "payments"})
	require.NoError(t, err)

	assert.Equal(t, []string{"2025-01-01T00:00:00Z"}, query["since"])
	assert.Equal(t, []string{"page-2"}, query["cursor"])
	assert.Equal(t, []string{"50"}, query["limit"])
	assert.Equal(t, []string{"leases", "payments"}, query["entity_types"])

	// Empty since, cursor and type filter are omitted, not sent blank
	_, err = client.PullChanges(context.Background(), "", "", 0, nil)
	require.NoError(t, err)
	assert.NotContains(t, query, "since")
	assert.NotContains(t, query, "cursor")
	assert.NotContains(t, query, "limit")
	assert.NotContains(t, query, "entity_types")
}

func TestAPIClient_ConflictStatusFilter(t *testing.T) {
	var query map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		json.NewEncoder(w).Encode(models.ConflictListResponse{})
	}))
	defer server.Close()

	client := NewAPIClient(server.URL)

	_, err := client.GetConflicts(context.Background(), "pending")
	require.NoError(t, err)
	assert.Equal(t, []string{"pending"}, query["status"])

	_, err = client.GetConflicts(context.Background(), "")
	require.NoError(t, err)
	assert.NotContains(t, query, "status")
}

func TestAPIClient_ErrorTaxonomy(t *testing.T) {
	status := http.StatusOK
	body := ""
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer server.Close()

	client := NewAPIClient(server.URL)
	ctx := context.Background()

	t.Run("401 is an auth error", func(t *testing.T) {
		status = http.StatusUnauthorized
		body = `{"detail": "unknown device"}`
		_, err := client.GetConflicts(ctx, "")
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "unknown device", authErr.Message)
	})

	t.Run("500 is retryable", func(t *testing.T) {
		status = http.StatusInternalServerError
		body = `{"error": "db down"}`
		_, err := client.GetConflicts(ctx, "")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, apiErr.Retryable())
		assert.Equal(t, "db down", apiErr.Message)
	})

	t.Run("429 is retryable", func(t *testing.T) {
		status = http.StatusTooManyRequests
		body = ""
		_, err := client.GetConflicts(ctx, "")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, apiErr.Retryable())
	})

	t.Run("422 is permanent", func(t *testing.T) {
		status = http.StatusUnprocessableEntity
		body = `{"detail": "bad payload"}`
		_, err := client.GetConflicts(ctx, "")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.False(t, apiErr.Retryable())
	})

	t.Run("unparseable body falls back to status text", func(t *testing.T) {
		status = http.StatusBadGateway
		body = "<html>nginx</html>"
		_, err := client.GetConflicts(ctx, "")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Message)
	})
}

func TestAPIClient_Ping(t *testing.T) {
	t.Run("any response means reachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		assert.NoError(t, NewAPIClient(server.URL).Ping(context.Background()))
	})

	t.Run("transport failure means offline", func(t *testing.T) {
		server := httptest.NewServer(nil)
		url := server.URL
		server.Close()

		assert.Error(t, NewAPIClient(url).Ping(context.Background()))
	})
}
