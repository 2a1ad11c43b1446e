package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.Persona != "dj" || cfg.PlayGrace != 3*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")
	if err := os.WriteFile(path, []byte("nick: from-file\npersona: basic\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("WIRECHAT_BOT_NICK", "from-env")
	t.Setenv("WIRECHAT_BOT_MEDIA_API_KEY", "secret")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Nick != "from-env" {
		t.Fatalf("nick = %q, want from-env", cfg.Nick)
	}
	if cfg.Persona != "basic" {
		t.Fatalf("persona = %q, want basic", cfg.Persona)
	}
	if cfg.Media.APIKey != "secret" {
		t.Fatalf("media api key = %q", cfg.Media.APIKey)
	}
}

func TestNormalizeClampsMonitorInterval(t *testing.T) {
	cfg := Default()
	cfg.MonitorInterval = 10 * time.Second
	cfg.InboxSize = 0
	cfg.Normalize()

	if cfg.MonitorInterval != time.Second {
		t.Fatalf("monitor interval = %v, want 1s", cfg.MonitorInterval)
	}
	if cfg.InboxSize != 1 {
		t.Fatalf("inbox size = %d, want 1", cfg.InboxSize)
	}
}

func TestUpdateFromKeepsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Nick: "dj", Media: MediaConfig{APIKey: "k"}})

	if cfg.Nick != "dj" || cfg.Media.APIKey != "k" {
		t.Fatalf("override not applied: %+v", cfg)
	}
	if cfg.RoomURL != Default().RoomURL {
		t.Fatalf("room url unexpectedly changed: %q", cfg.RoomURL)
	}
}
