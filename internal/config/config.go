// Package config loads and validates orchestrator configuration from
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all process-wide configuration, sourced from the env vars
// listed in the external interfaces section of the spec.
type Config struct {
	// Redis connection (backs the Session Store, the Stream Publisher's
	// pub/sub channel, and the History Buffer).
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Session Supervisor / Health Monitor.
	MaxConcurrentSessions int
	HeartbeatInterval     time.Duration
	StaleThreshold        time.Duration
	HealthCheckInterval   time.Duration

	// Provider Layer.
	ProviderTimeout  time.Duration
	AnthropicBaseURL string
	OpenAIBaseURL    string
	GoogleAIBaseURL  string
	DeepSeekBaseURL  string

	// Model Catalog Client.
	ModelRegistryAPIURL string
	ModelRegistryToken  string

	// Audit log (supplement; disabled when empty).
	AuditDatabaseURL string

	// MCP surface (supplement; disabled when false).
	MCPEnabled bool

	// OTEL.
	OTELEndpoint string
	ServiceName  string

	LogLevel string
}

// Load reads configuration from the environment with the spec's defaults.
func Load() (Config, error) {
	cfg := Config{
		RedisHost:             envStr("REDIS_HOST", "localhost"),
		RedisPort:             envInt("REDIS_PORT", 6379),
		RedisPassword:         envStr("REDIS_PASSWORD", ""),
		RedisDB:               envInt("REDIS_DB", 0),
		MaxConcurrentSessions: envInt("MAX_CONCURRENT_SESSIONS", 10),
		HeartbeatInterval:     envDurationMs("HEARTBEAT_INTERVAL", 30_000),
		StaleThreshold:        envDurationMs("STALE_THRESHOLD", 300_000),
		HealthCheckInterval:   envDurationMs("HEALTH_CHECK_INTERVAL", 60_000),
		ProviderTimeout:       envDurationMs("PROVIDER_TIMEOUT_MS", 120_000),
		AnthropicBaseURL:      envStr("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		OpenAIBaseURL:         envStr("OPENAI_BASE_URL", "https://api.openai.com"),
		GoogleAIBaseURL:       envStr("GOOGLE_AI_BASE_URL", "https://generativelanguage.googleapis.com"),
		DeepSeekBaseURL:       envStr("DEEPSEEK_BASE_URL", "https://api.deepseek.com"),
		ModelRegistryAPIURL:   envStr("MODEL_REGISTRY_API_URL", "http://localhost:4000"),
		ModelRegistryToken:    envStr("MODEL_REGISTRY_API_TOKEN", ""),
		AuditDatabaseURL:      envStr("AUDIT_DATABASE_URL", ""),
		MCPEnabled:            envBool("MCP_ENABLED", false),
		OTELEndpoint:          envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:           envStr("OTEL_SERVICE_NAME", "orchestrator"),
		LogLevel:              envStr("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that Load's defaults alone can't guarantee
// once overridden by the environment.
func (c Config) Validate() error {
	if c.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("config: MAX_CONCURRENT_SESSIONS must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: HEARTBEAT_INTERVAL must be positive")
	}
	if c.StaleThreshold <= 0 {
		return fmt.Errorf("config: STALE_THRESHOLD must be positive")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("config: HEALTH_CHECK_INTERVAL must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// envDurationMs reads a millisecond integer env var (the wire format used
// throughout the spec's env var list) into a time.Duration.
func envDurationMs(key string, defaultMs int) time.Duration {
	return time.Duration(envInt(key, defaultMs)) * time.Millisecond
}
