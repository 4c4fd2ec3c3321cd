package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadEnvConfigDefaults(t *testing.T) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "logs.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.BatchSize != 1000 {
		t.Errorf("BatchSize = %d", cfg.BatchSize)
	}
	if cfg.CommitLines != 100000 {
		t.Errorf("CommitLines = %d", cfg.CommitLines)
	}
	if cfg.MaxLineBytes != 1<<20 {
		t.Errorf("MaxLineBytes = %d", cfg.MaxLineBytes)
	}
	if cfg.WatchDebounce != 2*time.Second {
		t.Errorf("WatchDebounce = %v", cfg.WatchDebounce)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadEnvConfigOverrides(t *testing.T) {
	t.Setenv("LOGSIFT_DB", "/tmp/custom.db")
	t.Setenv("LOGSIFT_BATCH_SIZE", "250")
	t.Setenv("LOGSIFT_COMMIT_LINES", "5000")
	t.Setenv("LOGSIFT_WATCH_SCHEDULE", "0 * * * *")
	t.Setenv("LOGSIFT_WATCH_DEBOUNCE", "500ms")
	t.Setenv("LOGSIFT_LOG_LEVEL", "debug")

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/tmp/custom.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.BatchSize != 250 || cfg.CommitLines != 5000 {
		t.Errorf("batch = %d, commit = %d", cfg.BatchSize, cfg.CommitLines)
	}
	if cfg.WatchSchedule != "0 * * * *" {
		t.Errorf("WatchSchedule = %q", cfg.WatchSchedule)
	}
	if cfg.WatchDebounce != 500*time.Millisecond {
		t.Errorf("WatchDebounce = %v", cfg.WatchDebounce)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadEnvConfigCollectsAllErrors(t *testing.T) {
	t.Setenv("LOGSIFT_BATCH_SIZE", "abc")
	t.Setenv("LOGSIFT_WATCH_SCHEDULE", "not a cron")
	t.Setenv("LOGSIFT_EXPORT_LIMIT", "-1")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"LOGSIFT_BATCH_SIZE", "LOGSIFT_WATCH_SCHEDULE", "LOGSIFT_EXPORT_LIMIT"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %s", msg, want)
		}
	}
}

func TestLoadEnvConfigCommitBelowBatch(t *testing.T) {
	t.Setenv("LOGSIFT_BATCH_SIZE", "1000")
	t.Setenv("LOGSIFT_COMMIT_LINES", "10")

	_, err := LoadEnvConfig()
	if err == nil || !strings.Contains(err.Error(), "LOGSIFT_COMMIT_LINES") {
		t.Fatalf("err = %v", err)
	}
}
