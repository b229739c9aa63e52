// Package config loads clawgate settings from an optional TOML file and the
// environment. Environment variables win over the file, the file wins over
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Settings holds the full runtime configuration.
type Settings struct {
	// Server
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`

	// Default upstream provider
	LLMBaseURL     string `toml:"llm_base_url"`
	LLMAPIKey      string `toml:"llm_api_key"`
	LLMModel       string `toml:"llm_model"`
	RequestTimeout int    `toml:"request_timeout"` // seconds, per attempt
	MaxRetries     int    `toml:"max_retries"`

	// Memory
	MemoryEnabled    bool   `toml:"memory_enabled"`
	VectorDBPath     string `toml:"vector_db_path"`
	EmbeddingModel   string `toml:"embedding_model"`
	EmbeddingDevice  string `toml:"embedding_device"`
	MaxMemoryResults int    `toml:"max_memory_results"`

	// Context optimization
	OptimizationEnabled  bool   `toml:"optimization_enabled"`
	PreserveLastN        int    `toml:"preserve_last_n_messages"`
	MaxHistoryTokens     int    `toml:"max_history_tokens"`
	SystemPromptCleanup  bool   `toml:"system_prompt_cleanup"`
	TokenCounter         string `toml:"token_counter"` // "approximate" or "tiktoken"

	// Circuit breaker
	BreakerThreshold int `toml:"circuit_breaker_threshold"`
	BreakerTimeout   int `toml:"circuit_breaker_timeout"` // seconds
}

// Defaults returns the baseline settings before file and env overlays.
func Defaults() *Settings {
	return &Settings{
		Host:                "0.0.0.0",
		Port:                8080,
		LogLevel:            "info",
		LLMBaseURL:          "https://api.openai.com/v1",
		LLMModel:            "gpt-4",
		RequestTimeout:      120,
		MaxRetries:          3,
		MemoryEnabled:       true,
		VectorDBPath:        "./memory_store/vss.db",
		EmbeddingModel:      "hash",
		EmbeddingDevice:     "cpu",
		MaxMemoryResults:    3,
		OptimizationEnabled: true,
		PreserveLastN:       2,
		MaxHistoryTokens:    2000,
		SystemPromptCleanup: true,
		TokenCounter:        "approximate",
		BreakerThreshold:    5,
		BreakerTimeout:      60,
	}
}

// Load builds settings from defaults, an optional TOML file, and the
// environment, in that order. An empty path skips the file layer.
func Load(path string) (*Settings, error) {
	s := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, s); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	s.applyEnv()

	if s.Port <= 0 || s.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", s.Port)
	}
	return s, nil
}

// applyEnv overlays the environment variable contract onto the settings.
func (s *Settings) applyEnv() {
	envStr("HOST", &s.Host)
	envInt("PORT", &s.Port)
	envStr("LOG_LEVEL", &s.LogLevel)
	envStr("LLM_BASE_URL", &s.LLMBaseURL)
	envStr("LLM_API_KEY", &s.LLMAPIKey)
	envStr("LLM_MODEL", &s.LLMModel)
	envInt("REQUEST_TIMEOUT", &s.RequestTimeout)
	envInt("MAX_RETRIES", &s.MaxRetries)
	envBool("MEMORY_ENABLED", &s.MemoryEnabled)
	envStr("VECTOR_DB_PATH", &s.VectorDBPath)
	envStr("EMBEDDING_MODEL", &s.EmbeddingModel)
	envStr("EMBEDDING_DEVICE", &s.EmbeddingDevice)
	envInt("MAX_MEMORY_RESULTS", &s.MaxMemoryResults)
	envBool("OPTIMIZATION_ENABLED", &s.OptimizationEnabled)
	envInt("PRESERVE_LAST_N_MESSAGES", &s.PreserveLastN)
	envInt("MAX_HISTORY_TOKENS", &s.MaxHistoryTokens)
	envBool("SYSTEM_PROMPT_CLEANUP", &s.SystemPromptCleanup)
	envStr("TOKEN_COUNTER", &s.TokenCounter)
	envInt("CIRCUIT_BREAKER_THRESHOLD", &s.BreakerThreshold)
	envInt("CIRCUIT_BREAKER_TIMEOUT", &s.BreakerTimeout)
}

// Listen returns the host:port address for the HTTP server.
func (s *Settings) Listen() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func envStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
