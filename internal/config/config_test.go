package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.General.ManifestPath != "manifest.yaml" {
		t.Errorf("ManifestPath = %q, want manifest.yaml", cfg.General.ManifestPath)
	}
	if cfg.General.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.General.LogLevel)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("Web.Port = %d, want 8080", cfg.Web.Port)
	}
	if cfg.Web.Host != "127.0.0.1" {
		t.Errorf("Web.Host = %q, want 127.0.0.1", cfg.Web.Host)
	}
	if cfg.Schedule.Cron != "" {
		t.Errorf("Schedule.Cron = %q, want empty", cfg.Schedule.Cron)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[general]
manifest_path = "/etc/graph-orch/manifest.yaml"
log_level = "debug"

[notifications]
slack_webhook = "https://hooks.slack.com/services/T/B/X"

[web]
port = 9000

[schedule]
cron = "0 3 * * *"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.ManifestPath != "/etc/graph-orch/manifest.yaml" {
		t.Errorf("ManifestPath = %q, want /etc/graph-orch/manifest.yaml", cfg.General.ManifestPath)
	}
	if cfg.General.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.General.LogLevel)
	}
	if cfg.Notifications.SlackWebhook != "https://hooks.slack.com/services/T/B/X" {
		t.Errorf("SlackWebhook = %q", cfg.Notifications.SlackWebhook)
	}
	if cfg.Web.Port != 9000 {
		t.Errorf("Web.Port = %d, want 9000", cfg.Web.Port)
	}
	if cfg.Schedule.Cron != "0 3 * * *" {
		t.Errorf("Schedule.Cron = %q, want 0 3 * * *", cfg.Schedule.Cron)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("Web.Port = %d, want default 8080", cfg.Web.Port)
	}
}

func TestLoad_ExpandsPaths(t *testing.T) {
	home, _ := os.UserHomeDir()
	configPath := filepath.Join(t.TempDir(), "config.toml")

	content := `
[general]
manifest_path = "~/runs/manifest.yaml"
database_path = "~/runs/history.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if want := filepath.Join(home, "runs", "manifest.yaml"); cfg.General.ManifestPath != want {
		t.Errorf("ManifestPath = %q, want %q", cfg.General.ManifestPath, want)
	}
	if want := filepath.Join(home, "runs", "history.db"); cfg.General.DatabasePath != want {
		t.Errorf("DatabasePath = %q, want %q", cfg.General.DatabasePath, want)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
