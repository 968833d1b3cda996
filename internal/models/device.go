package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeviceIdentity is the stable, locally minted identity of this installation.
// The device ID is generated exactly once and persisted in sync metadata;
// it is never regenerated unless local storage is wiped.
type DeviceIdentity struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	Platform   string    `json:"platform"` // "ios", "android" or "gateway"
	AppVersion string    `json:"appVersion"`
	OSVersion  string    `json:"osVersion"`
	MintedAt   time.Time `json:"mintedAt"`
}

// NewDeviceIdentity mints a fresh device identity
func NewDeviceIdentity(deviceName, platform, appVersion, osVersion string) (*DeviceIdentity, error) {
	deviceName = strings.TrimSpace(deviceName)
	platform = strings.TrimSpace(strings.ToLower(platform))

	if deviceName == "" {
		return nil, ErrEmptyDeviceName
	}
	if platform != "ios" && platform != "android" && platform != "gateway" {
		return nil, ErrInvalidPlatform
	}

	return &DeviceIdentity{
		DeviceID:   uuid.New().String(),
		DeviceName: deviceName,
		Platform:   platform,
		AppVersion: appVersion,
		OSVersion:  osVersion,
		MintedAt:   time.Now().UTC(),
	}, nil
}

// Device errors
var (
	ErrEmptyDeviceName = DeviceError{"device name cannot be empty"}
	ErrInvalidPlatform = DeviceError{"platform must be 'ios', 'android' or 'gateway'"}
	ErrNotRegistered   = DeviceError{"device is not registered with the server"}
	ErrNotInitialized  = DeviceError{"sync engine is not initialized"}
)

type DeviceError struct {
	Message string
}

func (e DeviceError) Error() string {
	return e.Message
}
