package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

const envPrefix = "AUTOMATON_"

// Default returns a Config populated with sane defaults, matching what a
// freshly initialized deployment should run with before any config.json
// exists.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".automaton")

	return &Config{
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8910,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: filepath.Join(base, "store.db"),
		},
		Broker: BrokerConfig{
			Headless:    true,
			EvalTimeout: "3s",
		},
		Custodian: CustodianConfig{
			HealthInterval:   "60s",
			MaxRetries:       3,
			ReadinessTimeout: "30s",
			RepairCooldown:   "5s",
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentTasks:   5,
			MaxConsecutiveErrors: 3,
			BackoffMultiplier:    2.0,
		},
		Upload: UploadConfig{
			VideoStorageDir: filepath.Join(base, "videos"),
			CookieDir:       filepath.Join(base, "cookies"),
			AvatarDir:       filepath.Join(base, "avatars"),
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}

// Load reads path as json5, falling back to Default() if the file does not
// exist, then overlays environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides layers AUTOMATON_*-prefixed environment variables on top
// of cfg. Secrets (DSNs, tokens, auth keys) are env-only and never persisted
// to config.json.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "POSTGRES_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
		if cfg.Database.Mode == "" {
			cfg.Database.Mode = "managed"
		}
	}
	if v := os.Getenv(envPrefix + "GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}
	if v := os.Getenv(envPrefix + "TSNET_AUTH_KEY"); v != "" {
		cfg.Tailscale.AuthKey = v
	}
	if v := os.Getenv(envPrefix + "GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv(envPrefix + "GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv(envPrefix + "BROKER_HEADLESS"); v != "" {
		cfg.Broker.Headless = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv(envPrefix + "CHROME_BIN_PATH"); v != "" {
		cfg.Broker.ChromeBin = v
	}
	if v := os.Getenv(envPrefix + "TELEMETRY_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
		cfg.Telemetry.Enabled = true
	}
}

// ApplyEnvOverrides re-applies environment overrides to an already-loaded
// config, used after a hot-reload swaps in a freshly parsed file.
func ApplyEnvOverrides(cfg *Config) { applyEnvOverrides(cfg) }

// Save marshals cfg as indented JSON and writes it to path, creating parent
// directories as needed. Secrets tagged `json:"-"` are never written.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Hash returns a short hex digest of cfg's marshaled form, used for
// optimistic-concurrency checks by config-editing RPCs.
func Hash(cfg *Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// ExpandHome replaces a leading "~" in path with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Watcher reloads a Config from disk whenever its backing file changes,
// swapping the new values into a live *Config via ReplaceFrom so callers
// holding a pointer see updates without re-wiring.
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher
	log  *slog.Logger
	done chan struct{}
}

// WatchFile starts watching path and calls ReplaceFrom on live whenever the
// file is written. The returned Watcher must be closed by the caller.
func WatchFile(path string, live *Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch dir: %w", err)
	}

	w := &Watcher{path: path, fsw: fsw, log: slog.With("component", "config_watcher"), done: make(chan struct{})}
	go w.run(path, live)
	return w, nil
}

func (w *Watcher) run(path string, live *Config) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reloaded, err := Load(path)
			if err != nil {
				w.log.Warn("config: hot-reload failed", "error", err)
				continue
			}
			live.ReplaceFrom(reloaded)
			w.log.Info("config: hot-reloaded", "hash", Hash(reloaded))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config: watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
