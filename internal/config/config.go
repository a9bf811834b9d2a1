// Package config handles environment variable loading for ports,
// database strings, runner selection, etc.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string. Empty selects the in-memory store
	// (dev mode only).
	DatabaseURL string

	// HTTP server port
	HTTPPort int

	// Log level: debug, info, warn, error
	LogLevel string

	// Runner backend: "exec" or "docker"
	Runner string

	// Container image for the docker runner
	RunnerImage string

	// Upper bound on concurrently executing top-level units of work.
	// 0 means unbounded.
	DispatchLimit int

	// Notification delivery buffer size
	NotifyBuffer int

	// How long job logs are kept before the retention sweep removes them
	LogRetention time.Duration

	// How often the retention sweep runs
	RetentionInterval time.Duration

	// OTLP collector address for tracing; empty disables tracing
	TraceCollectorAddr string

	// Job submissions allowed per client per second; 0 disables limiting
	SubmitRateLimit float64

	// Burst size for the submission rate limiter
	SubmitBurst int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		HTTPPort:           8080,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Runner:             getEnv("RUNNER", "exec"),
		RunnerImage:        getEnv("RUNNER_IMAGE", "willhallonline/ansible:latest"),
		NotifyBuffer:       256,
		LogRetention:       90 * 24 * time.Hour,
		RetentionInterval:  24 * time.Hour,
		TraceCollectorAddr: os.Getenv("OTLP_COLLECTOR_ADDR"),
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.HTTPPort = p
	}

	if limitStr := os.Getenv("DISPATCH_LIMIT"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_LIMIT: %w", err)
		}
		cfg.DispatchLimit = l
	}

	if bufStr := os.Getenv("NOTIFY_BUFFER"); bufStr != "" {
		b, err := strconv.Atoi(bufStr)
		if err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_BUFFER: %w", err)
		}
		cfg.NotifyBuffer = b
	}

	if retStr := os.Getenv("LOG_RETENTION"); retStr != "" {
		d, err := time.ParseDuration(retStr)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_RETENTION: %w", err)
		}
		cfg.LogRetention = d
	}

	if intStr := os.Getenv("RETENTION_INTERVAL"); intStr != "" {
		d, err := time.ParseDuration(intStr)
		if err != nil {
			return nil, fmt.Errorf("invalid RETENTION_INTERVAL: %w", err)
		}
		cfg.RetentionInterval = d
	}

	if rateStr := os.Getenv("SUBMIT_RATE_LIMIT"); rateStr != "" {
		r, err := strconv.ParseFloat(rateStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SUBMIT_RATE_LIMIT: %w", err)
		}
		cfg.SubmitRateLimit = r
	}

	if burstStr := os.Getenv("SUBMIT_BURST"); burstStr != "" {
		b, err := strconv.Atoi(burstStr)
		if err != nil {
			return nil, fmt.Errorf("invalid SUBMIT_BURST: %w", err)
		}
		cfg.SubmitBurst = b
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = 10
	}

	if cfg.Runner != "exec" && cfg.Runner != "docker" {
		return nil, fmt.Errorf("invalid RUNNER %q: must be exec or docker", cfg.Runner)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
