/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// PolicyStoreBackend selects where the bandit value table is snapshotted.
type PolicyStoreBackend string

const (
	PolicyStoreBadger   PolicyStoreBackend = "badger"
	PolicyStoreRedis    PolicyStoreBackend = "redis"
	PolicyStoreDatabase PolicyStoreBackend = "db"
)

// LLM providers understood by the query normalizer.
const (
	LLMProviderOpenAI     = "openai"
	LLMProviderOpenRouter = "openrouter"
	LLMProviderGemini     = "gemini"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string
	DataDir     string
	DBBackend   DatabaseBackend
	DBDSN       string

	// Query normalization (LLM)
	LLMProvider      string
	LLMModel         string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
	GeminiAPIKey     string

	// Track resolution
	YouTubeAPIKey         string
	YouTubeRequestsPerSec float64

	// Selection policy
	Epsilon         float64 // exploration rate used when the queue runs dry
	FeedbackEpsilon float64 // exploration rate used to pick the action a vote is credited to
	CandidateLimit  int
	DefaultTags     string
	PolicyStore     PolicyStoreBackend

	RetrievalEnabled bool

	// Redis (policy snapshots, resolve cache)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheEnabled  bool

	// Event fan-out
	NATSURL string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	UpstreamTimeout    time.Duration
	SuggestRatePerMin  int
	UpdateCheckEnabled bool
	LogBufferSize      int
	LegacyEnvWarnings  []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	dataDir := getEnvAny([]string{"JUKEBOX_DATA_DIR", "DATA_DIR"}, "./data")

	cfg := &Config{
		Environment: getEnvAny([]string{"JUKEBOX_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"JUKEBOX_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"JUKEBOX_HTTP_PORT", "PORT"}, 8000),
		MetricsBind: getEnvAny([]string{"JUKEBOX_METRICS_BIND"}, "127.0.0.1:9000"),
		DataDir:     dataDir,
		DBBackend:   DatabaseBackend(getEnvAny([]string{"JUKEBOX_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"JUKEBOX_DB_DSN"}, filepath.Join(dataDir, "jukebox.db")),

		LLMProvider:      strings.ToLower(getEnvAny([]string{"JUKEBOX_LLM_PROVIDER", "LLM_PROVIDER"}, LLMProviderOpenAI)),
		LLMModel:         getEnvAny([]string{"JUKEBOX_LLM_MODEL", "LLM_MODEL_NAME"}, ""),
		OpenAIAPIKey:     getEnvAny([]string{"JUKEBOX_OPENAI_API_KEY", "OPENAI_API_KEY"}, ""),
		OpenRouterAPIKey: getEnvAny([]string{"JUKEBOX_OPENROUTER_API_KEY", "OPENROUTER_API_KEY"}, ""),
		GeminiAPIKey:     getEnvAny([]string{"JUKEBOX_GEMINI_API_KEY", "GEMINI_API_KEY"}, ""),

		YouTubeAPIKey:         getEnvAny([]string{"JUKEBOX_YOUTUBE_API_KEY", "YOUTUBE_API_KEY"}, ""),
		YouTubeRequestsPerSec: getEnvFloatAny([]string{"JUKEBOX_YOUTUBE_RPS"}, 2),

		Epsilon:         getEnvFloatAny([]string{"JUKEBOX_EPSILON"}, 0.2),
		FeedbackEpsilon: getEnvFloatAny([]string{"JUKEBOX_FEEDBACK_EPSILON"}, 0.2),
		CandidateLimit:  getEnvIntAny([]string{"JUKEBOX_CANDIDATE_LIMIT"}, 5),
		DefaultTags:     getEnvAny([]string{"JUKEBOX_DEFAULT_TAGS"}, "Pop"),
		PolicyStore:     PolicyStoreBackend(getEnvAny([]string{"JUKEBOX_POLICY_STORE"}, string(PolicyStoreBadger))),

		RetrievalEnabled: getEnvBoolAny([]string{"JUKEBOX_RETRIEVAL_ENABLED"}, true),

		RedisAddr:     getEnvAny([]string{"JUKEBOX_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"JUKEBOX_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"JUKEBOX_REDIS_DB"}, 0),
		CacheEnabled:  getEnvBoolAny([]string{"JUKEBOX_CACHE_ENABLED"}, false),

		NATSURL: getEnvAny([]string{"JUKEBOX_NATS_URL", "NATS_URL"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"JUKEBOX_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"JUKEBOX_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"JUKEBOX_TRACING_SAMPLE_RATE"}, 1.0),

		UpstreamTimeout:    getEnvDurationAny([]string{"JUKEBOX_UPSTREAM_TIMEOUT"}, 10*time.Second),
		SuggestRatePerMin:  getEnvIntAny([]string{"JUKEBOX_SUGGEST_RATE_PER_MIN"}, 30),
		UpdateCheckEnabled: getEnvBoolAny([]string{"JUKEBOX_UPDATE_CHECK"}, false),
		LogBufferSize:      getEnvIntAny([]string{"JUKEBOX_LOG_BUFFER_SIZE"}, 2000),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("JUKEBOX_DB_DSN must be provided")
	}

	switch cfg.PolicyStore {
	case PolicyStoreBadger, PolicyStoreRedis, PolicyStoreDatabase:
	default:
		return nil, fmt.Errorf("unsupported policy store %q", cfg.PolicyStore)
	}

	switch cfg.LLMProvider {
	case LLMProviderOpenAI, LLMProviderOpenRouter, LLMProviderGemini:
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.LLMProvider)
	}

	if cfg.Epsilon < 0 || cfg.Epsilon > 1 {
		return nil, fmt.Errorf("JUKEBOX_EPSILON must be within [0,1], got %v", cfg.Epsilon)
	}
	if cfg.FeedbackEpsilon < 0 || cfg.FeedbackEpsilon > 1 {
		return nil, fmt.Errorf("JUKEBOX_FEEDBACK_EPSILON must be within [0,1], got %v", cfg.FeedbackEpsilon)
	}

	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 5
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"OPENAI_API_KEY":     "use JUKEBOX_OPENAI_API_KEY",
		"GEMINI_API_KEY":     "use JUKEBOX_GEMINI_API_KEY",
		"OPENROUTER_API_KEY": "use JUKEBOX_OPENROUTER_API_KEY",
		"YOUTUBE_API_KEY":    "use JUKEBOX_YOUTUBE_API_KEY",
		"LLM_PROVIDER":       "use JUKEBOX_LLM_PROVIDER",
		"LLM_MODEL_NAME":     "use JUKEBOX_LLM_MODEL",
		"DATA_DIR":           "use JUKEBOX_DATA_DIR",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// LLMAPIKey returns the key for the configured provider.
func (c *Config) LLMAPIKey() string {
	switch c.LLMProvider {
	case LLMProviderOpenRouter:
		return c.OpenRouterAPIKey
	case LLMProviderGemini:
		return c.GeminiAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

// PolicyDir is where the embedded policy snapshot store keeps its files.
func (c *Config) PolicyDir() string {
	return filepath.Join(c.DataDir, "policy")
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go duration strings ("5s") or bare seconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				return parsed
			}
			if secs, err := strconv.Atoi(v); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return def
}
