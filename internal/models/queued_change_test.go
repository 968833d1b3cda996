package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueuedChange(t *testing.T) {
	id := "p-1"
	payload := json.RawMessage(`{"name": "Sunset Villa"}`)

	t.Run("valid update", func(t *testing.T) {
		change, err := NewQueuedChange(EntityProperties, &id, OpUpdate, payload)
		require.NoError(t, err)
		assert.Equal(t, QueueStatusPending, change.Status)
		assert.NotEmpty(t, change.LocalID)
		assert.Equal(t, 0, change.RetryCount)
	})

	t.Run("create needs no entity id", func(t *testing.T) {
		change, err := NewQueuedChange(EntityProperties, nil, OpCreate, payload)
		require.NoError(t, err)
		assert.Nil(t, change.EntityID)
	})

	t.Run("delete needs no payload", func(t *testing.T) {
		_, err := NewQueuedChange(EntityProperties, &id, OpDelete, nil)
		require.NoError(t, err)
	})

	t.Run("local ids are unique", func(t *testing.T) {
		a, err := NewQueuedChange(EntityProperties, &id, OpUpdate, payload)
		require.NoError(t, err)
		b, err := NewQueuedChange(EntityProperties, &id, OpUpdate, payload)
		require.NoError(t, err)
		assert.NotEqual(t, a.LocalID, b.LocalID)
	})

	t.Run("rejects empty entity type", func(t *testing.T) {
		_, err := NewQueuedChange("", &id, OpUpdate, payload)
		assert.ErrorIs(t, err, ErrEmptyEntityType)
	})

	t.Run("rejects unknown operation", func(t *testing.T) {
		_, err := NewQueuedChange(EntityProperties, &id, "PATCH", payload)
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("rejects update without payload", func(t *testing.T) {
		_, err := NewQueuedChange(EntityProperties, &id, OpUpdate, nil)
		assert.ErrorIs(t, err, ErrEmptyPayload)
	})

	t.Run("rejects delete without entity id", func(t *testing.T) {
		_, err := NewQueuedChange(EntityProperties, nil, OpDelete, nil)
		assert.ErrorIs(t, err, ErrMissingEntityID)
	})
}

func TestNewDeviceIdentity(t *testing.T) {
	t.Run("mints a uuid", func(t *testing.T) {
		dev, err := NewDeviceIdentity("office-tablet", "Android", "1.2.0", "14")
		require.NoError(t, err)
		assert.Len(t, dev.DeviceID, 36)
		assert.Equal(t, "android", dev.Platform)
	})

	t.Run("rejects blank name", func(t *testing.T) {
		_, err := NewDeviceIdentity("   ", "ios", "1.0.0", "17")
		assert.ErrorIs(t, err, ErrEmptyDeviceName)
	})

	t.Run("rejects unknown platform", func(t *testing.T) {
		_, err := NewDeviceIdentity("desk", "windows", "1.0.0", "11")
		assert.ErrorIs(t, err, ErrInvalidPlatform)
	})
}
