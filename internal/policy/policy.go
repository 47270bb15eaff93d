// Package policy loads the YAML configuration and exposes typed settings.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RemoteMemory selects the in-process backend instead of a REST endpoint.
const RemoteMemory = "memory"

// GlobalStateDir returns the default global state directory (~/.config/attendsync).
func GlobalStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "attendsync")
}

// GlobalStateFile returns the default cache database path.
func GlobalStateFile() string {
	return filepath.Join(GlobalStateDir(), "cache.sqlite")
}

// SyncConfig tunes the reconciliation loop and reachability probing.
type SyncConfig struct {
	IntervalSeconds        int `yaml:"interval_seconds"`         // reconciliation pass interval (default 10)
	DuplicateWindowSeconds int `yaml:"duplicate_window_seconds"` // event duplicate tolerance (default 60)
	ProbeIntervalSeconds   int `yaml:"probe_interval_seconds"`   // backend reachability probe (default 5)
	ProbeTimeoutSeconds    int `yaml:"probe_timeout_seconds"`    // per-probe timeout (default 3)
}

// RemoteConfig names the authoritative backend.
type RemoteConfig struct {
	// URL is the PostgREST base URL (e.g. https://xyz.supabase.co) or "memory".
	URL string `yaml:"url"`
	// APIKey may reference env vars with ${VAR} syntax (e.g. "${SUPABASE_ANON_KEY}").
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Config holds the application configuration.
type Config struct {
	Namespace    string   `yaml:"namespace"`
	EnabledTools []string `yaml:"enabled_tools"`
	StateFile    string   `yaml:"state_file"`
	LogFile      string   `yaml:"log_file"`

	HTTPPort int           `yaml:"http_port"`
	Sync     *SyncConfig   `yaml:"sync"`
	Remote   *RemoteConfig `yaml:"remote"`
}

// DefaultConfig returns sensible defaults: in-memory backend, 10s passes.
func DefaultConfig() *Config {
	return &Config{
		Namespace:    "attendsync",
		EnabledTools: []string{"*"},
		StateFile:    "",
		Sync:         DefaultSync(),
		Remote:       &RemoteConfig{URL: RemoteMemory, TimeoutSeconds: 15},
	}
}

// DefaultSync returns the default loop settings.
func DefaultSync() *SyncConfig {
	return &SyncConfig{
		IntervalSeconds:        10,
		DuplicateWindowSeconds: 60,
		ProbeIntervalSeconds:   5,
		ProbeTimeoutSeconds:    3,
	}
}

// LoadConfig loads configuration from a YAML file. Sections missing from the
// file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Sync == nil {
		cfg.Sync = DefaultSync()
	}
	if cfg.Remote == nil {
		cfg.Remote = &RemoteConfig{URL: RemoteMemory}
	}

	return cfg, nil
}

// Policy exposes typed, defaulted settings.
type Policy struct {
	config *Config
}

// New creates a Policy over cfg.
func New(cfg *Config) *Policy {
	return &Policy{config: cfg}
}

// Namespace returns the cache namespace.
func (p *Policy) Namespace() string {
	if p.config.Namespace == "" {
		return "attendsync"
	}
	return p.config.Namespace
}

// StateFile returns the configured cache database path.
// If unset, defaults to ~/.config/attendsync/cache.sqlite.
func (p *Policy) StateFile() string {
	sf := p.config.StateFile
	if sf == "" {
		return GlobalStateFile()
	}
	if abs, err := filepath.Abs(sf); err == nil {
		return abs
	}
	return sf
}

// SignalFilePath returns the path to the notify signal file (same directory as state file).
// Watchers use this to detect cache changes without relying on SQLite WAL file events.
func (p *Policy) SignalFilePath() string {
	return filepath.Join(filepath.Dir(p.StateFile()), ".attendsync-notify")
}

// LogFile returns the configured log file path.
// If unset, defaults to ~/.config/attendsync/attendsync.log.
// Set to "none" or "off" to disable file logging entirely.
func (p *Policy) LogFile() string {
	if p.config.LogFile == "" {
		return filepath.Join(GlobalStateDir(), "attendsync.log")
	}
	return p.config.LogFile
}

// IsToolEnabled checks if a tool is enabled
func (p *Policy) IsToolEnabled(name string) bool {
	for _, t := range p.config.EnabledTools {
		if t == "*" || t == name {
			return true
		}
	}
	return false
}

// HTTPPort returns the dashboard/MCP HTTP port; 0 disables the listener.
func (p *Policy) HTTPPort() int {
	return p.config.HTTPPort
}

func (p *Policy) sync() *SyncConfig {
	if p.config.Sync == nil {
		return DefaultSync()
	}
	return p.config.Sync
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// SyncInterval returns the reconciliation pass interval.
func (p *Policy) SyncInterval() time.Duration {
	return seconds(p.sync().IntervalSeconds, 10)
}

// DuplicateWindow returns the duplicate-suppression tolerance.
func (p *Policy) DuplicateWindow() time.Duration {
	return seconds(p.sync().DuplicateWindowSeconds, 60)
}

// ProbeInterval returns how often backend reachability is probed.
func (p *Policy) ProbeInterval() time.Duration {
	return seconds(p.sync().ProbeIntervalSeconds, 5)
}

// ProbeTimeout returns the timeout of a single reachability probe.
func (p *Policy) ProbeTimeout() time.Duration {
	return seconds(p.sync().ProbeTimeoutSeconds, 3)
}

// RemoteURL returns the backend URL, RemoteMemory when unset.
func (p *Policy) RemoteURL() string {
	if p.config.Remote == nil || p.config.Remote.URL == "" {
		return RemoteMemory
	}
	return os.ExpandEnv(p.config.Remote.URL)
}

// RemoteAPIKey returns the backend API key with ${VAR} references expanded
// from the environment. Unset variables expand to "".
func (p *Policy) RemoteAPIKey() string {
	if p.config.Remote == nil {
		return ""
	}
	return os.Expand(p.config.Remote.APIKey, os.Getenv)
}

// RemoteTimeout returns the per-request timeout of the REST client.
func (p *Policy) RemoteTimeout() time.Duration {
	if p.config.Remote == nil {
		return 15 * time.Second
	}
	return seconds(p.config.Remote.TimeoutSeconds, 15)
}
