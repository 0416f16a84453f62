package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig
	Engine  EngineConfig
	Rules   RulesConfig
	Audit   AuditConfig
	Metrics MetricsConfig
	History HistoryConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// EngineConfig selects and tunes the LLM provider
type EngineConfig struct {
	// Provider is the provider identifier: groq, openai or ollama.
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	// Timeout bounds each LLM generation call.
	Timeout time.Duration
	// ActionTimeout bounds each external action invocation.
	ActionTimeout time.Duration
	// Breaker settings for the provider circuit breaker.
	BreakerEnabled   bool
	BreakerThreshold int
}

// RulesConfig holds rule file settings
type RulesConfig struct {
	// Path to the rules YAML file; empty uses the built-in rule set.
	Path string
	// WatchChanges reloads the rules file on change.
	WatchChanges bool
}

// AuditConfig holds interaction log settings
type AuditConfig struct {
	// Path of the JSON interaction log; empty logs to stdout.
	Path string
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// HistoryConfig bounds per-conversation history
type HistoryConfig struct {
	MaxExchanges int
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  time.Duration(getEnvInt("SERVER_READ_TIMEOUT_SEC", 30)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 120)) * time.Second,
		},
		Engine: EngineConfig{
			Provider:         getEnv("ENGINE", "groq"),
			Model:            getEnv("MODEL", "llama-3.1-8b-instant"),
			BaseURL:          getEnv("ENGINE_BASE_URL", ""),
			MaxTokens:        getEnvInt("ENGINE_MAX_TOKENS", 1024),
			Temperature:      getEnvFloat("ENGINE_TEMPERATURE", 0.7),
			Timeout:          time.Duration(getEnvInt("ENGINE_TIMEOUT_SEC", 60)) * time.Second,
			ActionTimeout:    time.Duration(getEnvInt("ACTION_TIMEOUT_SEC", 30)) * time.Second,
			BreakerEnabled:   getEnvBool("ENGINE_BREAKER_ENABLED", false),
			BreakerThreshold: getEnvInt("ENGINE_BREAKER_THRESHOLD", 5),
		},
		Rules: RulesConfig{
			Path:         getEnv("RULES_PATH", ""),
			WatchChanges: getEnvBool("RULES_WATCH_CHANGES", true),
		},
		Audit: AuditConfig{
			Path: getEnv("AUDIT_LOG_PATH", ""),
		},
		Metrics: MetricsConfig{
			Enabled:  getEnvBool("METRICS_ENABLED", true),
			Endpoint: getEnv("METRICS_ENDPOINT", "/metrics"),
		},
		History: HistoryConfig{
			MaxExchanges: getEnvInt("HISTORY_MAX_EXCHANGES", 50),
		},
	}

	// The API key secret: a provider-specific variable wins over the
	// generic one.
	cfg.Engine.APIKey = os.Getenv("ENGINE_API_KEY")
	if cfg.Engine.APIKey == "" {
		switch cfg.Engine.Provider {
		case "groq":
			cfg.Engine.APIKey = os.Getenv("GROQ_API_KEY")
		case "openai":
			cfg.Engine.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	return cfg
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
