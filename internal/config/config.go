// Package config loads imrpcd's YAML configuration: the chat.db path, the
// watcher's poll cadence, and logging. A missing config file is not an
// error — the daemon runs on documented defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/imrpcd/imrpcd/internal/watcher"
)

const (
	defaultInitialIntervalMS = 500
	defaultMaxIntervalMS     = 5000
	defaultBatchSize         = 200
)

type Config struct {
	DBPath  string        `yaml:"db_path"`
	Watcher WatcherConfig `yaml:"watcher"`
	Log     LogConfig     `yaml:"log"`
}

type WatcherConfig struct {
	InitialIntervalMS int `yaml:"initial_interval_ms"`
	MaxIntervalMS     int `yaml:"max_interval_ms"`
	BatchSize         int `yaml:"batch_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ToWatcherConfig converts the millisecond fields loaded from YAML into the
// watcher package's time.Duration-based Config.
func (w WatcherConfig) ToWatcherConfig() watcher.Config {
	return watcher.Config{
		InitialInterval: time.Duration(w.InitialIntervalMS) * time.Millisecond,
		MaxInterval:     time.Duration(w.MaxIntervalMS) * time.Millisecond,
		BatchSize:       w.BatchSize,
	}
}

// Default returns the built-in configuration: $HOME/Library/Messages/chat.db,
// 500ms/5s/200-row watcher cadence, info-level console logging.
func Default() Config {
	return Config{
		DBPath: DefaultDBPath(),
		Watcher: WatcherConfig{
			InitialIntervalMS: defaultInitialIntervalMS,
			MaxIntervalMS:     defaultMaxIntervalMS,
			BatchSize:         defaultBatchSize,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads and parses the YAML file at path, filling in defaults for any
// field the file doesn't set. A missing file returns the built-in defaults,
// not an error; a present-but-unparsable one does.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = DefaultDBPath()
	}
	if cfg.Watcher.InitialIntervalMS <= 0 {
		cfg.Watcher.InitialIntervalMS = defaultInitialIntervalMS
	}
	if cfg.Watcher.MaxIntervalMS <= 0 {
		cfg.Watcher.MaxIntervalMS = defaultMaxIntervalMS
	}
	if cfg.Watcher.BatchSize <= 0 {
		cfg.Watcher.BatchSize = defaultBatchSize
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if strings.TrimSpace(cfg.Log.Format) == "" {
		cfg.Log.Format = "console"
	}
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validFormats = map[string]bool{"console": true, "json": true}

func validate(cfg Config) error {
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}
	if !validFormats[cfg.Log.Format] {
		return fmt.Errorf("log.format %q is not one of console, json", cfg.Log.Format)
	}
	if cfg.Watcher.MaxIntervalMS < cfg.Watcher.InitialIntervalMS {
		return fmt.Errorf("watcher.max_interval_ms (%d) must be >= watcher.initial_interval_ms (%d)", cfg.Watcher.MaxIntervalMS, cfg.Watcher.InitialIntervalMS)
	}
	return nil
}
