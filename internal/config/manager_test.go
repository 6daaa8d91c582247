package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: "15s"
logging:
  level: DEBUG
  console: true
  file:
    enabled: false
    path: ""
storage:
  path: ./data/bot.db
broadcast:
  workers: 8
  rate_per_sec: 20
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("Token = %q", cfg.Telegram.Token)
	}
	if cfg.Logging.Level != "DEBUG" || !cfg.Logging.Console {
		t.Fatalf("Logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Path != "./data/bot.db" {
		t.Fatalf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Broadcast.Workers != 8 || cfg.Broadcast.RatePerSec != 20 {
		t.Fatalf("Broadcast = %+v", cfg.Broadcast)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json",
		`{"telegram":{"token":"t"},"logging":{"level":"INFO","console":true,"file":{"enabled":false,"path":""}},"storage":{"path":"./x.db"}}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "t" {
		t.Fatalf("Token = %q", cfg.Telegram.Token)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "t"
  tokenn: "typo"
logging:
  level: INFO
  console: true
  file:
    enabled: false
    path: ""
storage:
  path: ./x.db
`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected unknown-field error")
	} else if !strings.Contains(err.Error(), "tokenn") {
		t.Fatalf("error should name the unknown field: %v", err)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{"", 10 * time.Second, 10 * time.Second, false},
		{"15s", 10 * time.Second, 15 * time.Second, false},
		{"2m", 0, 2 * time.Minute, false},
		{"nope", 10 * time.Second, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("field", tt.raw, tt.def)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDurationOrDefault(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDurationOrDefault(%q): %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDurationOrDefault(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
