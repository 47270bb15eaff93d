package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Namespace != "attendsync" {
		t.Errorf("expected namespace attendsync, got %q", cfg.Namespace)
	}

	if cfg.StateFile != "" {
		t.Errorf("expected empty state_file by default, got %q", cfg.StateFile)
	}

	if len(cfg.EnabledTools) != 1 || cfg.EnabledTools[0] != "*" {
		t.Errorf("expected enabled_tools [*], got %v", cfg.EnabledTools)
	}

	pol := New(cfg)
	if pol.SyncInterval() != 10*time.Second {
		t.Errorf("SyncInterval = %s, want 10s", pol.SyncInterval())
	}
	if pol.DuplicateWindow() != time.Minute {
		t.Errorf("DuplicateWindow = %s, want 1m", pol.DuplicateWindow())
	}
	if pol.ProbeInterval() != 5*time.Second || pol.ProbeTimeout() != 3*time.Second {
		t.Errorf("probe = %s/%s, want 5s/3s", pol.ProbeInterval(), pol.ProbeTimeout())
	}
	if pol.RemoteURL() != RemoteMemory {
		t.Errorf("RemoteURL = %q, want %q", pol.RemoteURL(), RemoteMemory)
	}
	if pol.RemoteTimeout() != 15*time.Second {
		t.Errorf("RemoteTimeout = %s, want 15s", pol.RemoteTimeout())
	}
}

func TestStatePaths(t *testing.T) {
	pol := New(DefaultConfig())
	if pol.StateFile() != GlobalStateFile() {
		t.Errorf("StateFile = %q, want %q", pol.StateFile(), GlobalStateFile())
	}
	if filepath.Base(pol.SignalFilePath()) != ".attendsync-notify" {
		t.Errorf("SignalFilePath = %q", pol.SignalFilePath())
	}
	if filepath.Dir(pol.SignalFilePath()) != filepath.Dir(pol.StateFile()) {
		t.Error("signal file should live next to the state file")
	}

	dir := t.TempDir()
	abs := filepath.Join(dir, "c.sqlite")
	pol = New(&Config{StateFile: abs, LogFile: "off"})
	if pol.StateFile() != abs {
		t.Errorf("StateFile = %q, want %q", pol.StateFile(), abs)
	}
	if pol.LogFile() != "off" {
		t.Errorf("LogFile = %q, want off", pol.LogFile())
	}

	pol = New(&Config{StateFile: "rel/cache.sqlite"})
	if !filepath.IsAbs(pol.StateFile()) {
		t.Errorf("relative state file should resolve to an absolute path, got %q", pol.StateFile())
	}
}

func TestIsToolEnabled(t *testing.T) {
	tests := []struct {
		name         string
		enabledTools []string
		toolName     string
		want         bool
	}{
		{
			name:         "wildcard enables all",
			enabledTools: []string{"*"},
			toolName:     "any_tool",
			want:         true,
		},
		{
			name:         "specific tool enabled",
			enabledTools: []string{"record_attendance", "current_status"},
			toolName:     "record_attendance",
			want:         true,
		},
		{
			name:         "tool not in list",
			enabledTools: []string{"record_attendance"},
			toolName:     "sync_now",
			want:         false,
		},
		{
			name:         "empty list",
			enabledTools: []string{},
			toolName:     "any_tool",
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pol := New(&Config{EnabledTools: tt.enabledTools})
			if got := pol.IsToolEnabled(tt.toolName); got != tt.want {
				t.Errorf("IsToolEnabled(%q) = %v, want %v", tt.toolName, got, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
namespace: front-desk
enabled_tools:
  - record_attendance
  - current_status
http_port: 8943
sync:
  interval_seconds: 30
  duplicate_window_seconds: 90
remote:
  url: https://example.supabase.co
  api_key: ${ATTENDSYNC_TEST_KEY}
  timeout_seconds: 4
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("ATTENDSYNC_TEST_KEY", "anon-123")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	pol := New(cfg)

	if pol.Namespace() != "front-desk" {
		t.Errorf("expected namespace front-desk, got %s", pol.Namespace())
	}
	if len(cfg.EnabledTools) != 2 {
		t.Errorf("expected 2 enabled tools, got %d", len(cfg.EnabledTools))
	}
	if pol.HTTPPort() != 8943 {
		t.Errorf("HTTPPort = %d, want 8943", pol.HTTPPort())
	}
	if pol.SyncInterval() != 30*time.Second || pol.DuplicateWindow() != 90*time.Second {
		t.Errorf("sync = %s/%s, want 30s/1m30s", pol.SyncInterval(), pol.DuplicateWindow())
	}
	if pol.ProbeInterval() != 5*time.Second {
		t.Errorf("unset probe interval should default, got %s", pol.ProbeInterval())
	}
	if pol.RemoteURL() != "https://example.supabase.co" {
		t.Errorf("RemoteURL = %q", pol.RemoteURL())
	}
	if pol.RemoteAPIKey() != "anon-123" {
		t.Errorf("RemoteAPIKey = %q, want env expansion", pol.RemoteAPIKey())
	}
	if pol.RemoteTimeout() != 4*time.Second {
		t.Errorf("RemoteTimeout = %s, want 4s", pol.RemoteTimeout())
	}
}

func TestLoadConfig_MissingSectionsKeepDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("namespace: lab\nsync: null\nremote: null\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Sync == nil || cfg.Remote == nil {
		t.Fatal("nil sections should be restored to defaults")
	}
	if New(cfg).RemoteURL() != RemoteMemory {
		t.Errorf("RemoteURL = %q, want memory", New(cfg).RemoteURL())
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("sync: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Error("expected parse error")
	}
}
