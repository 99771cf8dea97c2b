// Package config loads engine settings from the environment and sets up
// process-wide logging.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LLMMode selects the primary model backend.
type LLMMode string

const (
	// LLMModeLiteLLM routes primary calls through a LiteLLM-compatible
	// HTTP proxy, with the echo adapter as fallback.
	LLMModeLiteLLM LLMMode = "litellm"
	// LLMModeEcho uses the deterministic echo adapter as the primary.
	LLMModeEcho LLMMode = "echo"
)

// Config holds every runtime setting of the engine. Populated once at
// startup by Load; treated as immutable afterwards.
type Config struct {
	HTTPPort string

	DBPath        string
	ArtifactsDir  string
	AliasesFile   string

	EventPayloadMaxBytes    int
	ArtifactInlineThreshold int
	SSEHeartbeatInterval    time.Duration

	LogFormat string // dev|json
	LogLevel  string

	LLMMode       LLMMode
	ProxyURL      string
	ProxyKey      string
	LLMTimeout    time.Duration
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// Load reads configuration from the environment, applying defaults for
// everything optional.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		DBPath:       getEnv("OCTOAGENT_DB_PATH", "./data/octoagent.db"),
		ArtifactsDir: getEnv("OCTOAGENT_ARTIFACTS_DIR", "./data/artifacts"),
		AliasesFile:  getEnv("OCTOAGENT_ALIASES_FILE", ""),
		LogFormat:    getEnv("OCTOAGENT_LOG_FORMAT", "dev"),
		LogLevel:     getEnv("OCTOAGENT_LOG_LEVEL", "info"),
		LLMMode:      LLMMode(getEnv("OCTOAGENT_LLM_MODE", string(LLMModeLiteLLM))),
		ProxyURL:     getEnv("LITELLM_PROXY_URL", "http://localhost:4000"),
		ProxyKey:     os.Getenv("LITELLM_PROXY_KEY"),
	}

	var err error
	if cfg.EventPayloadMaxBytes, err = getEnvInt("OCTOAGENT_EVENT_PAYLOAD_MAX_BYTES", 8192); err != nil {
		return nil, err
	}
	if cfg.ArtifactInlineThreshold, err = getEnvInt("OCTOAGENT_ARTIFACT_INLINE_THRESHOLD", 4096); err != nil {
		return nil, err
	}

	heartbeatS, err := getEnvInt("OCTOAGENT_SSE_HEARTBEAT_INTERVAL", 15)
	if err != nil {
		return nil, err
	}
	cfg.SSEHeartbeatInterval = time.Duration(heartbeatS) * time.Second

	timeoutS, err := getEnvInt("OCTOAGENT_LLM_TIMEOUT_S", 30)
	if err != nil {
		return nil, err
	}
	cfg.LLMTimeout = time.Duration(timeoutS) * time.Second

	if cfg.LLMMode != LLMModeLiteLLM && cfg.LLMMode != LLMModeEcho {
		return nil, fmt.Errorf("invalid OCTOAGENT_LLM_MODE %q (want litellm or echo)", cfg.LLMMode)
	}
	if cfg.EventPayloadMaxBytes <= 0 {
		return nil, fmt.Errorf("OCTOAGENT_EVENT_PAYLOAD_MAX_BYTES must be positive")
	}
	if cfg.ArtifactInlineThreshold <= 0 {
		return nil, fmt.Errorf("OCTOAGENT_ARTIFACT_INLINE_THRESHOLD must be positive")
	}

	return cfg, nil
}
