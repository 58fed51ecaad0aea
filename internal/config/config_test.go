package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
mode: debug
port: 9090
provider: coordinator
base_url: http://coordinator.local/video
permission: file
permission_dir: /tmp/perms
poll_interval: 500ms
api_key: key
user_id: alice
user_token: token
auto_join: lobby
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	want := &Config{
		Mode:              "debug",
		Port:              9090,
		LogLevel:          "info",
		PingPeriod:        54 * time.Second,
		Secret:            "change-me",
		Provider:          ProviderCoordinator,
		BaseURL:           "http://coordinator.local/video",
		WSURL:             "ws://localhost:8800/video/connect",
		CallType:          "default",
		APIKey:            "key",
		UserID:            "alice",
		UserToken:         "token",
		Permission:        PermissionFile,
		PermissionDir:     "/tmp/perms",
		PermissionGranted: true,
		PollInterval:      500 * time.Millisecond,
		AutoJoin:          "lobby",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Provider != ProviderMemory || cfg.Permission != PermissionStatic || cfg.PollInterval != 2*time.Second || cfg.Port != 8080 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileEnvOverride(t *testing.T) {
	t.Setenv("AUDIOROOMS_USER_TOKEN", "from-env")
	t.Setenv("AUDIOROOMS_PORT", "7070")
	cfg, err := LoadFile(writeConfig(t, "user_token: from-file\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.UserToken != "from-env" || cfg.Port != 7070 {
		t.Errorf("env not applied: token=%q port=%d", cfg.UserToken, cfg.Port)
	}
}

func TestLoadFileInvalid(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "provider: carrier-pigeon\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidate(t *testing.T) {
	valid := Config{Provider: ProviderMemory, Permission: PermissionStatic, PollInterval: time.Second, Port: 8080}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"unknown provider", func(c *Config) { c.Provider = "x" }, true},
		{"unknown gate", func(c *Config) { c.Permission = "x" }, true},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }, true},
		{"bad port", func(c *Config) { c.Port = 70000 }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			tc.mutate(&c)
			if err := c.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCredentials(t *testing.T) {
	c := Config{APIKey: "k", UserID: "alice", UserToken: "t"}
	creds, err := c.Credentials()
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if creds.UserID() != "alice" || creds.APIKey() != "k" {
		t.Errorf("creds = %v", creds)
	}

	c.UserToken = ""
	if _, err := c.Credentials(); err == nil {
		t.Error("expected error for empty token")
	}
}
