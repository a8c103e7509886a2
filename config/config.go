// Package config loads server configuration from the environment, with an
// optional .env file layered underneath (real env vars win).
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port          int
	DBPath        string
	LogLevel      string
	BulkWorkers   int
	LabelInterval time.Duration // label-refresh scheduler cadence
	LabelEnabled  bool
}

// Load reads configuration from the environment with sensible defaults.
// Call LoadDotEnv first if a .env file should participate.
func Load() Config {
	return Config{
		Port:          envInt("PORT", 8080),
		DBPath:        envStr("DB_PATH", "prestamos.db"),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		BulkWorkers:   envInt("BULK_WORKERS", 4),
		LabelInterval: envDuration("LABEL_INTERVAL", time.Hour),
		LabelEnabled:  envBool("LABEL_SCHEDULER", true),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
