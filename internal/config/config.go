// Package config loads this module's ambient settings from the
// environment, in the same getenv-with-default shape the rest of the
// corpus uses for application configuration.
package config

import (
	"os"
	"strconv"
	"time"
)

func lookupEnv(key string) string {
	return os.Getenv(key)
}

type CodecConfig struct {
	MaxInputBytes      int64
	MaxRRuleInstances  int
	ProdID             string
}

type BackoffConfig struct {
	InitialMS  int64
	MaxMS      int64
	Multiplier float64
}

type StorageConfig struct {
	// Type selects the Store backend: "memory" or "sqlite".
	Type string
	// DSN is the sqlite database path; ignored for "memory".
	DSN string
}

type Config struct {
	Codec        CodecConfig
	Backoff      BackoffConfig
	Storage      StorageConfig
	TickInterval time.Duration
	LeaseTimeout time.Duration
	LogLevel     string
}

func getenv(key, def string) string {
	if v := lookupEnv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	v := lookupEnv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := lookupEnv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := lookupEnv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Load reads CALSYNC_* environment variables, defaulting anything
// unset to this module's reference values (spec §3.5/§4.2).
func Load() *Config {
	return &Config{
		Codec: CodecConfig{
			MaxInputBytes:     getenvInt64("CALSYNC_MAX_INPUT_BYTES", 10<<20),
			MaxRRuleInstances: int(getenvInt64("CALSYNC_MAX_RRULE_INSTANCES", 1000)),
			ProdID:            getenv("CALSYNC_PRODID", "-//calsync//calsync 1.0//EN"),
		},
		Backoff: BackoffConfig{
			InitialMS:  getenvInt64("CALSYNC_BACKOFF_INITIAL_MS", 1000),
			MaxMS:      getenvInt64("CALSYNC_BACKOFF_MAX_MS", 60000),
			Multiplier: getenvFloat("CALSYNC_BACKOFF_MULTIPLIER", 2.0),
		},
		Storage: StorageConfig{
			Type: getenv("CALSYNC_STORAGE_TYPE", "memory"),
			DSN:  getenv("CALSYNC_STORAGE_DSN", "./calsync.db"),
		},
		TickInterval: getenvDuration("CALSYNC_TICK_INTERVAL", 30*time.Second),
		LeaseTimeout: getenvDuration("CALSYNC_LEASE_TIMEOUT", 5*time.Minute),
		LogLevel:     getenv("CALSYNC_LOG_LEVEL", "info"),
	}
}
