package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON, matching the
// tolerant decoding operators expect from hand-edited config files.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the automation core.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Broker    BrokerConfig    `json:"broker,omitempty"`
	Custodian CustodianConfig `json:"custodian,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Upload    UploadConfig    `json:"upload,omitempty"`
	Platforms PlatformsConfig `json:"platforms,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
	mu        sync.RWMutex
}

// GatewayConfig configures the admin HTTP/WebSocket surface.
type GatewayConfig struct {
	Host         string              `json:"host"`
	Port         int                 `json:"port"`
	Token        string              `json:"-"` // from env AUTOMATON_GATEWAY_TOKEN only
	OwnerIDs     FlexibleStringSlice `json:"owner_ids,omitempty"`
	RateLimitRPM int                 `json:"rate_limit_rpm,omitempty"`
}

// TailscaleConfig configures the optional Tailscale tsnet listener.
// Requires building with -tags tsnet. Auth key from env only (never persisted).
type TailscaleConfig struct {
	Hostname  string `json:"hostname"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"` // from env AUTOMATON_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`
	EnableTLS bool   `json:"enable_tls,omitempty"`
}

// DatabaseConfig selects between standalone (sqlite) and managed (pg) mode.
// PostgresDSN is NEVER read from config.json (secret) — only from env
// AUTOMATON_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"` // default ~/.automaton/store.db
	Mode        string `json:"mode,omitempty"`        // "standalone" (default) or "managed"
}

// IsManagedMode reports whether the store runs against Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// BrokerConfig configures the go-rod-backed Tab Broker.
type BrokerConfig struct {
	Headless    bool   `json:"headless"`
	ChromeBin   string `json:"chrome_bin,omitempty"`
	EvalTimeout string `json:"eval_timeout,omitempty"` // Go duration, default "3s"
}

// CustodianConfig configures Message Tab Custodian timing (§4.2).
type CustodianConfig struct {
	HealthInterval   string `json:"health_interval,omitempty"`   // default "60s"
	MaxRetries       int    `json:"max_retries,omitempty"`       // default 3
	ReadinessTimeout string `json:"readiness_timeout,omitempty"` // default "30s"
	RepairCooldown   string `json:"repair_cooldown,omitempty"`   // default "5s"
}

// SchedulerConfig configures the Sync Scheduler (§4.3).
type SchedulerConfig struct {
	MaxConcurrentTasks   int     `json:"max_concurrent_tasks,omitempty"`   // default 5
	MaxConsecutiveErrors int     `json:"max_consecutive_errors,omitempty"` // default 3
	BackoffMultiplier    float64 `json:"backoff_multiplier,omitempty"`     // default 2.0
}

// UploadConfig configures file-system conventions for upload jobs.
type UploadConfig struct {
	VideoStorageDir string `json:"video_storage_dir,omitempty"` // default ~/.automaton/videos
	CookieDir       string `json:"cookie_dir,omitempty"`        // default ~/.automaton/cookies
	AvatarDir       string `json:"avatar_dir,omitempty"`        // default ~/.automaton/avatars
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the hot-reload watcher to swap in a freshly parsed config.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Database = src.Database
	c.Broker = src.Broker
	c.Custodian = src.Custodian
	c.Scheduler = src.Scheduler
	c.Upload = src.Upload
	c.Platforms = src.Platforms
	c.Telemetry = src.Telemetry
	c.Tailscale = src.Tailscale
}

// Snapshot returns a copy safe to read without holding the config's lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}
