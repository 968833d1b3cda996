package config

import (
	"encoding/json"
	"os"
	"strconv"
)

// Config holds all agent configuration
type Config struct {
	ServerURL      string       `json:"serverUrl"`
	ControlAddress string       `json:"controlAddress"`
	DatabasePath   string       `json:"databasePath"`
	DatabaseURL    string       `json:"databaseUrl"`
	Device         Device       `json:"device"`
	Sync           Sync         `json:"sync"`
	Security       Security     `json:"security"`
	Connectivity   Connectivity `json:"connectivity"`
}

// Device describes the identity sent to the server at registration
type Device struct {
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
	AppVersion string `json:"appVersion"`
	OSVersion  string `json:"osVersion"`
}

// Sync configuration
type Sync struct {
	IntervalMinutes int `json:"intervalMinutes"`
	PullPageSize    int `json:"pullPageSize"`
	MaxAttempts     int `json:"maxAttempts"`
	RetentionDays   int `json:"retentionDays"`
}

// Security configuration for the local control API
type Security struct {
	APIKey       string `json:"apiKey"`
	APIKeyHeader string `json:"apiKeyHeader"`
}

// Connectivity configuration for the trigger service
type Connectivity struct {
	ProbeIntervalSeconds int    `json:"probeIntervalSeconds"`
	WebSocketEnabled     bool   `json:"webSocketEnabled"`
	WebSocketURL         string `json:"webSocketUrl"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Default configuration
func defaultConfig() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "propsync-agent"
	}

	return &Config{
		ServerURL:      "http://localhost:8000",
		ControlAddress: "127.0.0.1:7070",
		DatabasePath:   "propsync.db",
		Device: Device{
			DeviceName: hostname,
			Platform:   "gateway",
			AppVersion: "1.0.0",
			OSVersion:  "",
		},
		Sync: Sync{
			IntervalMinutes: 15,
			PullPageSize:    100,
			MaxAttempts:     10,
			RetentionDays:   7,
		},
		Security: Security{
			APIKey:       "",
			APIKeyHeader: "X-API-Key",
		},
		Connectivity: Connectivity{
			ProbeIntervalSeconds: 30,
			WebSocketEnabled:     false,
			WebSocketURL:         "",
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if url := os.Getenv("SERVER_URL"); url != "" {
		cfg.ServerURL = url
	}
	if addr := os.Getenv("CONTROL_ADDRESS"); addr != "" {
		cfg.ControlAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if name := os.Getenv("DEVICE_NAME"); name != "" {
		cfg.Device.DeviceName = name
	}
	if platform := os.Getenv("DEVICE_PLATFORM"); platform != "" {
		cfg.Device.Platform = platform
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.Security.APIKey = apiKey
	}

	if interval := os.Getenv("SYNC_INTERVAL_MINUTES"); interval != "" {
		if minutes, err := strconv.Atoi(interval); err == nil && minutes > 0 {
			cfg.Sync.IntervalMinutes = minutes
		}
	}
	if pageSize := os.Getenv("SYNC_PULL_PAGE_SIZE"); pageSize != "" {
		if size, err := strconv.Atoi(pageSize); err == nil && size > 0 {
			cfg.Sync.PullPageSize = size
		}
	}
	if wsURL := os.Getenv("WEBSOCKET_URL"); wsURL != "" {
		cfg.Connectivity.WebSocketURL = wsURL
		cfg.Connectivity.WebSocketEnabled = true
	}

	return cfg, nil
}
