/*
Package configs is responsible for loading and parsing the application's configuration.

All settings come from environment variables: the running environment, HTTP port,
CORS allowed origins, optional Postgres/Redis endpoints, and the room idle sweep
timings.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig contains all configuration parameters required by the server.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// Security Settings
	AllowedOrigins []string

	// Room Lifecycle Settings
	RoomIdleThreshold time.Duration
	CleanupInterval   time.Duration

	// Storage Settings (both optional; empty disables the integration)
	DatabaseDSN string
	RedisAddr   string
}

// LoadConfig reads the application configuration from environment variables,
// applying development defaults and validating values. It returns the parsed
// AppConfig or the first error encountered.
func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}

	// --- General Server Settings ---
	cfg.Environment = os.Getenv("ENVIRONMENT")
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	portStr := os.Getenv("PORT")
	if portStr == "" {
		portStr = "8080"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT environment variable: %w", err)
	}
	cfg.Port = port

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	// --- Security Settings ---
	originsStr := os.Getenv("ALLOWED_ORIGINS")
	if originsStr != "" {
		origins := strings.Split(originsStr, ",")
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	} else {
		cfg.AllowedOrigins = []string{}
	}

	// --- Room Lifecycle Settings ---
	cfg.RoomIdleThreshold, err = parseDuration("ROOM_IDLE_THRESHOLD", time.Hour)
	if err != nil {
		return nil, err
	}

	cfg.CleanupInterval, err = parseDuration("CLEANUP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	if cfg.RoomIdleThreshold <= 0 || cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("ROOM_IDLE_THRESHOLD and CLEANUP_INTERVAL must be positive durations")
	}

	// --- Storage Settings ---
	// Persistence and the Redis event relay are optional collaborators.
	// An empty value disables the corresponding integration.
	cfg.DatabaseDSN = os.Getenv("DATABASE_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")

	return cfg, nil
}

// parseDuration reads a Go duration from the named environment variable,
// falling back to def when unset.
func parseDuration(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return d, nil
}
