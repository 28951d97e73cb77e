package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "imrpcd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/imrpcd.yaml")
	if err != nil {
		t.Fatalf("unexpected error for missing file: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("expected defaults %+v, got %+v", want, cfg)
	}
}

func TestLoad_EmptyFileFillsDefaults(t *testing.T) {
	path := writeConfig(t, ``)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath != DefaultDBPath() {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.Watcher.InitialIntervalMS != defaultInitialIntervalMS {
		t.Fatalf("expected default initial interval, got %d", cfg.Watcher.InitialIntervalMS)
	}
	if cfg.Watcher.MaxIntervalMS != defaultMaxIntervalMS {
		t.Fatalf("expected default max interval, got %d", cfg.Watcher.MaxIntervalMS)
	}
	if cfg.Watcher.BatchSize != defaultBatchSize {
		t.Fatalf("expected default batch size, got %d", cfg.Watcher.BatchSize)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Fatalf("expected default logging, got %+v", cfg.Log)
	}
}

func TestLoad_ExplicitValues(t *testing.T) {
	path := writeConfig(t, `
db_path: /custom/chat.db
watcher:
  initial_interval_ms: 100
  max_interval_ms: 2000
  batch_size: 50
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath != "/custom/chat.db" {
		t.Fatalf("expected custom db path, got %q", cfg.DBPath)
	}
	if cfg.Watcher.InitialIntervalMS != 100 || cfg.Watcher.MaxIntervalMS != 2000 || cfg.Watcher.BatchSize != 50 {
		t.Fatalf("unexpected watcher config: %+v", cfg.Watcher)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoad_PartialWatcherKeepsDefaultsForOthers(t *testing.T) {
	path := writeConfig(t, `
watcher:
  batch_size: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Watcher.BatchSize != 10 {
		t.Fatalf("expected batch size 10, got %d", cfg.Watcher.BatchSize)
	}
	if cfg.Watcher.InitialIntervalMS != defaultInitialIntervalMS {
		t.Fatalf("expected default initial interval, got %d", cfg.Watcher.InitialIntervalMS)
	}
	if cfg.Watcher.MaxIntervalMS != defaultMaxIntervalMS {
		t.Fatalf("expected default max interval, got %d", cfg.Watcher.MaxIntervalMS)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
log:
  level: verbose
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	path := writeConfig(t, `
log:
  format: xml
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid log format")
	}
}

func TestLoad_MaxIntervalBelowInitial(t *testing.T) {
	path := writeConfig(t, `
watcher:
  initial_interval_ms: 1000
  max_interval_ms: 500
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error when max_interval_ms < initial_interval_ms")
	}
}

func TestLoad_UnknownField(t *testing.T) {
	path := writeConfig(t, `
bogus_field: true
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown YAML field")
	}
}

func TestDefault_SatisfiesValidate(t *testing.T) {
	if err := validate(Default()); err != nil {
		t.Fatalf("built-in defaults should validate cleanly: %v", err)
	}
}
