package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     string
	LogLevel string

	// Backend selects the storage implementation: "fs" (default) or
	// "sqlite".
	Backend     string
	DataDir     string
	DatabaseURL string

	AuthToken string

	LockWait      time.Duration
	SweepInterval time.Duration
	RetainFor     time.Duration
	EventBuffer   int
}

func Load() Config {
	cfg := Config{
		Port:          envOrDefault("AR_FRAME_PORT", "8080"),
		LogLevel:      envOrDefault("AR_FRAME_LOG_LEVEL", "info"),
		Backend:       envOrDefault("AR_FRAME_BACKEND", "fs"),
		DataDir:       envOrDefault("AR_FRAME_DATA_DIR", "data"),
		DatabaseURL:   envOrDefault("AR_FRAME_DATABASE_URL", "file:arframe.db"),
		AuthToken:     strings.TrimSpace(os.Getenv("AR_FRAME_AUTH_TOKEN")),
		LockWait:      durationOrDefault(os.Getenv("AR_FRAME_LOCK_WAIT"), 5*time.Second),
		SweepInterval: durationOrDefault(os.Getenv("AR_FRAME_SWEEP_INTERVAL"), 10*time.Minute),
		RetainFor:     durationOrDefault(os.Getenv("AR_FRAME_RETAIN_FOR"), 72*time.Hour),
		EventBuffer:   intOrDefault(os.Getenv("AR_FRAME_EVENT_BUFFER"), 64),
	}
	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		cfg.Port = p
	}
	return cfg
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func intOrDefault(v string, fallback int) int {
	if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && i > 0 {
		return i
	}
	return fallback
}

func durationOrDefault(v string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d > 0 {
		return d
	}
	return fallback
}
