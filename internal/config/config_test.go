package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisHost != "localhost" || cfg.RedisPort != 6379 {
		t.Fatalf("unexpected redis defaults: %+v", cfg)
	}
	if cfg.MaxConcurrentSessions != 10 {
		t.Fatalf("expected default cap 10, got %d", cfg.MaxConcurrentSessions)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Fatalf("expected 30s heartbeat, got %s", cfg.HeartbeatInterval)
	}
	if cfg.StaleThreshold != 300*time.Second {
		t.Fatalf("expected 300s stale threshold, got %s", cfg.StaleThreshold)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("MAX_CONCURRENT_SESSIONS", "25")
	t.Setenv("STALE_THRESHOLD", "60000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisHost != "redis.internal" {
		t.Fatalf("expected overridden host, got %s", cfg.RedisHost)
	}
	if cfg.MaxConcurrentSessions != 25 {
		t.Fatalf("expected 25, got %d", cfg.MaxConcurrentSessions)
	}
	if cfg.StaleThreshold != 60*time.Second {
		t.Fatalf("expected 60s, got %s", cfg.StaleThreshold)
	}
}

func TestValidateRejectsNonPositiveCap(t *testing.T) {
	cfg := Config{MaxConcurrentSessions: 0, HeartbeatInterval: time.Second, StaleThreshold: time.Second, HealthCheckInterval: time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero concurrency cap")
	}
}

func TestEnvIntInvalidFallsBackToDefault(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_SESSIONS", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxConcurrentSessions != 10 {
		t.Fatalf("expected fallback to default 10, got %d", cfg.MaxConcurrentSessions)
	}
}
