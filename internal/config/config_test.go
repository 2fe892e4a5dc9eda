package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.GameDuration != 30*time.Second {
		t.Fatalf("expected 30s game duration, got %v", cfg.GameDuration)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("expected 2s poll interval, got %v", cfg.PollInterval)
	}
	if cfg.PollCeiling != 30*time.Minute {
		t.Fatalf("expected 30m poll ceiling, got %v", cfg.PollCeiling)
	}
	if cfg.VideoBitsPerSec != 250_000 || cfg.AudioBitsPerSec != 32_000 {
		t.Fatalf("unexpected bitrate caps: %d/%d", cfg.VideoBitsPerSec, cfg.AudioBitsPerSec)
	}
}

func TestLoadOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "emolens.yaml")
	body := "base_url: http://analysis:9000\ngame_duration_sec: 45\npoll_interval_sec: 5\ngaze_socket_timeout_sec: 4\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseURL != "http://analysis:9000" {
		t.Fatalf("expected overlaid base url, got %s", cfg.BaseURL)
	}
	if cfg.GameDuration != 45*time.Second {
		t.Fatalf("expected 45s game duration, got %v", cfg.GameDuration)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("expected 5s poll interval, got %v", cfg.PollInterval)
	}
	if cfg.GazeSocketTimeout != 4*time.Second {
		t.Fatalf("expected 4s gaze socket timeout, got %v", cfg.GazeSocketTimeout)
	}
	// untouched default
	if cfg.SnapshotDelay != 150*time.Millisecond {
		t.Fatalf("expected default snapshot delay, got %v", cfg.SnapshotDelay)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
