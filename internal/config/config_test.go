package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveAndLoadClient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")

	cfg := DefaultClient()
	cfg.UserID = "rider-1"
	cfg.Token = "tok-1"
	cfg.Reconnect.MaxDelay = Duration{3 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if loaded.UserID != "rider-1" || loaded.Token != "tok-1" {
		t.Errorf("identity = %q/%q", loaded.UserID, loaded.Token)
	}
	if loaded.Reconnect.MaxDelay.Duration != 3*time.Second {
		t.Errorf("MaxDelay = %v, want 3s", loaded.Reconnect.MaxDelay)
	}
}

func TestLoadClientKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	content := "user_id = \"driver-42\"\n\n[reconnect]\nbase_delay = \"250ms\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != DefaultClient().ServerURL {
		t.Errorf("ServerURL = %q, want default", cfg.ServerURL)
	}
	if cfg.Reconnect.BaseDelay.Duration != 250*time.Millisecond {
		t.Errorf("BaseDelay = %v", cfg.Reconnect.BaseDelay)
	}
	if !cfg.Reconnect.Enabled || cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("reconnect defaults lost: %+v", cfg.Reconnect)
	}
}

func TestLoadRelay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.toml")
	content := "listen = \":9000\"\ndata_dir = \"" + dir + "\"\n\n[tokens]\ntok-1 = \"rider-1\"\ntok-2 = \"driver-42\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadRelay(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tokens["tok-2"] != "driver-42" {
		t.Errorf("tokens = %v", cfg.Tokens)
	}
	if cfg.HealthSocket != filepath.Join(dir, "health.sock") {
		t.Errorf("HealthSocket = %q", cfg.HealthSocket)
	}
	if cfg.HistoryLimit != 200 {
		t.Errorf("HistoryLimit = %d, want default 200", cfg.HistoryLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := LoadClient("/nonexistent/client.toml"); err == nil {
		t.Error("LoadClient() expected error for missing file")
	}
	if _, err := LoadRelay("/nonexistent/relay.toml"); err == nil {
		t.Error("LoadRelay() expected error for missing file")
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	if err := os.WriteFile(path, []byte("[reconnect]\nmax_delay = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClient(path); err == nil {
		t.Error("LoadClient() accepted an invalid duration")
	}
}

func TestClientValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Client)
		wantErr string
	}{
		{"defaults", func(*Client) {}, ""},
		{"http scheme", func(c *Client) { c.ServerURL = "http://relay/ws" }, "scheme"},
		{"bad user", func(c *Client) { c.UserID = "has space" }, "invalid user id"},
		{"negative attempts", func(c *Client) { c.Reconnect.MaxAttempts = -1 }, "max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClient()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRelayValidateNeedsTokens(t *testing.T) {
	cfg := DefaultRelay()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted a relay nobody can log into")
	}
	cfg.Tokens["tok"] = "rider/1"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted an invalid user id")
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relay.toml")

	if err := Save(path, DefaultRelay()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestValidateUserID(t *testing.T) {
	valid := []string{"rider-1", "driver_42", "ops.team", "tenant:7"}
	for _, id := range valid {
		if err := ValidateUserID(id); err != nil {
			t.Errorf("ValidateUserID(%q) = %v", id, err)
		}
	}
	invalid := []string{"", "a b", "rider/1", strings.Repeat("x", 65)}
	for _, id := range invalid {
		if err := ValidateUserID(id); err == nil {
			t.Errorf("ValidateUserID(%q) = nil, want error", id)
		}
	}
}

func TestPathsUnderBaseDir(t *testing.T) {
	base := BaseDir()
	for _, p := range []string{ClientConfigPath(), RelayConfigPath(), RelayDir(), ClientLogPath(), RelayLogPath()} {
		if !strings.HasPrefix(p, base) {
			t.Errorf("%q is not under %q", p, base)
		}
	}
}
