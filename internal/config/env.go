// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings. Command-line
// flags override these.
type EnvConfig struct {
	// Database
	DBPath string

	// Ingestion
	BatchSize    int
	CommitLines  int
	MaxLineBytes int
	RulesPath    string

	// Watch
	WatchSchedule string
	WatchDebounce time.Duration

	// Export
	ExportLimit int

	// Logging
	LogLevel string
}

// LoadEnvConfig reads environment variables and returns a validated
// EnvConfig. Returns an error listing every invalid value.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.DBPath = envStr("LOGSIFT_DB", "logs.db")

	cfg.BatchSize = envInt("LOGSIFT_BATCH_SIZE", 1000, &errs)
	cfg.CommitLines = envInt("LOGSIFT_COMMIT_LINES", 100000, &errs)
	cfg.MaxLineBytes = envInt("LOGSIFT_MAX_LINE_BYTES", 1<<20, &errs)
	cfg.RulesPath = envStr("LOGSIFT_RULES", "")

	cfg.WatchSchedule = strings.TrimSpace(envStr("LOGSIFT_WATCH_SCHEDULE", ""))
	cfg.WatchDebounce = envDuration("LOGSIFT_WATCH_DEBOUNCE", 2*time.Second, &errs)

	cfg.ExportLimit = envInt("LOGSIFT_EXPORT_LIMIT", 0, &errs)

	cfg.LogLevel = envStr("LOGSIFT_LOG_LEVEL", "info")

	// --- Validation ---
	if cfg.DBPath == "" {
		errs = append(errs, "LOGSIFT_DB must not be empty")
	}
	validatePositive("LOGSIFT_BATCH_SIZE", cfg.BatchSize, &errs)
	validatePositive("LOGSIFT_COMMIT_LINES", cfg.CommitLines, &errs)
	validatePositive("LOGSIFT_MAX_LINE_BYTES", cfg.MaxLineBytes, &errs)
	if cfg.CommitLines < cfg.BatchSize {
		errs = append(errs, "LOGSIFT_COMMIT_LINES must be at least LOGSIFT_BATCH_SIZE")
	}
	if cfg.WatchSchedule != "" {
		if _, err := cron.ParseStandard(cfg.WatchSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("LOGSIFT_WATCH_SCHEDULE: invalid cron expression %q: %v", cfg.WatchSchedule, err))
		}
	}
	if cfg.WatchDebounce <= 0 {
		errs = append(errs, "LOGSIFT_WATCH_DEBOUNCE must be positive")
	}
	if cfg.ExportLimit < 0 {
		errs = append(errs, fmt.Sprintf("LOGSIFT_EXPORT_LIMIT: must not be negative, got %d", cfg.ExportLimit))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
