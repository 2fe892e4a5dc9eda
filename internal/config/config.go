package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the recording orchestrator. The durations
// owned here are the only timers any component may create.
type Config struct {
	BaseURL           string
	DBPath            string
	GameDuration      time.Duration
	CountdownTick     time.Duration
	SnapshotDelay     time.Duration
	PollInterval      time.Duration
	PollCeiling       time.Duration
	SubmitTimeout     time.Duration
	RequestTimeout    time.Duration
	TabCheckInterval  time.Duration
	VideoBitsPerSec   int
	AudioBitsPerSec   int
	MinCalibration    int
	GazeSocketTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://localhost:8000",
		DBPath:            defaultDBPath(),
		GameDuration:      30 * time.Second,
		CountdownTick:     1 * time.Second,
		SnapshotDelay:     150 * time.Millisecond,
		PollInterval:      2 * time.Second,
		PollCeiling:       30 * time.Minute,
		SubmitTimeout:     2 * time.Minute,
		RequestTimeout:    10 * time.Second,
		TabCheckInterval:  1 * time.Second,
		VideoBitsPerSec:   250_000,
		AudioBitsPerSec:   32_000,
		MinCalibration:    5,
		GazeSocketTimeout: 10 * time.Second,
	}
}

// fileConfig is the YAML shape of the overlay file. Durations are plain
// integers with the unit in the field name.
type fileConfig struct {
	BaseURL            string `yaml:"base_url"`
	DBPath             string `yaml:"db_path"`
	GameDurationSec    int    `yaml:"game_duration_sec"`
	SnapshotDelayMs    int    `yaml:"snapshot_delay_ms"`
	PollIntervalSec    int    `yaml:"poll_interval_sec"`
	PollCeilingMin     int    `yaml:"poll_ceiling_min"`
	SubmitTimeoutSec   int    `yaml:"submit_timeout_sec"`
	RequestTimeoutSec  int    `yaml:"request_timeout_sec"`
	TabCheckIntervalMs int    `yaml:"tab_check_interval_ms"`
	VideoBitsPerSec    int    `yaml:"video_bits_per_sec"`
	AudioBitsPerSec    int    `yaml:"audio_bits_per_sec"`
	MinCalibration     int    `yaml:"min_calibration_points"`
	GazeSocketTimeout  int    `yaml:"gaze_socket_timeout_sec"`
}

// Load reads a YAML overlay and applies it on top of the defaults.
// Zero values in the file leave the defaults untouched.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	var overlay fileConfig
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	cfg.apply(overlay)
	return cfg, nil
}

func (c *Config) apply(o fileConfig) {
	if o.BaseURL != "" {
		c.BaseURL = o.BaseURL
	}
	if o.DBPath != "" {
		c.DBPath = o.DBPath
	}
	if o.GameDurationSec > 0 {
		c.GameDuration = time.Duration(o.GameDurationSec) * time.Second
	}
	if o.SnapshotDelayMs > 0 {
		c.SnapshotDelay = time.Duration(o.SnapshotDelayMs) * time.Millisecond
	}
	if o.PollIntervalSec > 0 {
		c.PollInterval = time.Duration(o.PollIntervalSec) * time.Second
	}
	if o.PollCeilingMin > 0 {
		c.PollCeiling = time.Duration(o.PollCeilingMin) * time.Minute
	}
	if o.SubmitTimeoutSec > 0 {
		c.SubmitTimeout = time.Duration(o.SubmitTimeoutSec) * time.Second
	}
	if o.RequestTimeoutSec > 0 {
		c.RequestTimeout = time.Duration(o.RequestTimeoutSec) * time.Second
	}
	if o.TabCheckIntervalMs > 0 {
		c.TabCheckInterval = time.Duration(o.TabCheckIntervalMs) * time.Millisecond
	}
	if o.VideoBitsPerSec > 0 {
		c.VideoBitsPerSec = o.VideoBitsPerSec
	}
	if o.AudioBitsPerSec > 0 {
		c.AudioBitsPerSec = o.AudioBitsPerSec
	}
	if o.MinCalibration > 0 {
		c.MinCalibration = o.MinCalibration
	}
	if o.GazeSocketTimeout > 0 {
		c.GazeSocketTimeout = time.Duration(o.GazeSocketTimeout) * time.Second
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "emolens.db"
	}
	return filepath.Join(home, ".local", "state", "emolens", "sessions.db")
}
