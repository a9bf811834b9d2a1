package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "PORT", "LOG_LEVEL", "RUNNER", "RUNNER_IMAGE",
		"DISPATCH_LIMIT", "NOTIFY_BUFFER", "LOG_RETENTION", "RETENTION_INTERVAL",
		"OTLP_COLLECTOR_ADDR", "SUBMIT_RATE_LIMIT", "SUBMIT_BURST",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 8080 {
		t.Errorf("expected HTTPPort 8080, got %d", cfg.HTTPPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %s", cfg.LogLevel)
	}
	if cfg.Runner != "exec" {
		t.Errorf("expected Runner exec, got %s", cfg.Runner)
	}
	if cfg.DispatchLimit != 0 {
		t.Errorf("expected DispatchLimit 0, got %d", cfg.DispatchLimit)
	}
	if cfg.NotifyBuffer != 256 {
		t.Errorf("expected NotifyBuffer 256, got %d", cfg.NotifyBuffer)
	}
	if cfg.LogRetention != 90*24*time.Hour {
		t.Errorf("expected LogRetention 90 days, got %v", cfg.LogRetention)
	}
	if cfg.RetentionInterval != 24*time.Hour {
		t.Errorf("expected RetentionInterval 24h, got %v", cfg.RetentionInterval)
	}
	if cfg.SubmitRateLimit != 0 {
		t.Errorf("expected SubmitRateLimit 0, got %v", cfg.SubmitRateLimit)
	}
	if cfg.SubmitBurst != 10 {
		t.Errorf("expected SubmitBurst 10, got %d", cfg.SubmitBurst)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/opsplane")
	t.Setenv("PORT", "9090")
	t.Setenv("RUNNER", "docker")
	t.Setenv("RUNNER_IMAGE", "myorg/ansible:2.16")
	t.Setenv("DISPATCH_LIMIT", "25")
	t.Setenv("LOG_RETENTION", "168h")
	t.Setenv("SUBMIT_RATE_LIMIT", "2.5")
	t.Setenv("SUBMIT_BURST", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://localhost/opsplane" {
		t.Errorf("unexpected DatabaseURL %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("expected HTTPPort 9090, got %d", cfg.HTTPPort)
	}
	if cfg.Runner != "docker" || cfg.RunnerImage != "myorg/ansible:2.16" {
		t.Errorf("unexpected runner config: %s / %s", cfg.Runner, cfg.RunnerImage)
	}
	if cfg.DispatchLimit != 25 {
		t.Errorf("expected DispatchLimit 25, got %d", cfg.DispatchLimit)
	}
	if cfg.LogRetention != 7*24*time.Hour {
		t.Errorf("expected LogRetention 168h, got %v", cfg.LogRetention)
	}
	if cfg.SubmitRateLimit != 2.5 {
		t.Errorf("expected SubmitRateLimit 2.5, got %v", cfg.SubmitRateLimit)
	}
	if cfg.SubmitBurst != 4 {
		t.Errorf("expected SubmitBurst 4, got %d", cfg.SubmitBurst)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"Bad port", "PORT", "eighty"},
		{"Bad dispatch limit", "DISPATCH_LIMIT", "lots"},
		{"Bad retention", "LOG_RETENTION", "90days"},
		{"Bad rate limit", "SUBMIT_RATE_LIMIT", "fast"},
		{"Bad runner", "RUNNER", "kubernetes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
