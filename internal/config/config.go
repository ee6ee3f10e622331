package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string
	MongoURI    string
	RedisURL    string

	// Linking protocol knobs
	MatchWindow time.Duration // push/reasoning proximity window
	StaleAfter  time.Duration // uncommitted records older than this go stale
	SweepEvery  time.Duration // staleness sweep interval

	// Embedding configuration
	EmbeddingDimensions int

	// LLM providers file (extraction / embedding / generation), hot-reloaded
	ProvidersFile string

	// Static API keys accepted by the ingress middleware (comma-separated)
	APIKeys []string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	var apiKeys []string
	if raw := getEnv("FLOWSYNC_API_KEYS", ""); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				apiKeys = append(apiKeys, k)
			}
		}
	}

	return &Config{
		Port:        getEnv("PORT", "3002"),
		Environment: getEnv("ENVIRONMENT", "development"),
		MongoURI:    getEnv("MONGODB_URI", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		MatchWindow: time.Duration(getIntEnv("MATCH_WINDOW_MINUTES", 30)) * time.Minute,
		StaleAfter:  time.Duration(getIntEnv("STALE_AFTER_DAYS", 7)) * 24 * time.Hour,
		SweepEvery:  time.Duration(getIntEnv("STALE_SWEEP_MINUTES", 60)) * time.Minute,

		EmbeddingDimensions: getIntEnv("EMBEDDING_DIMENSIONS", 1536),

		ProvidersFile: getEnv("PROVIDERS_FILE", "providers.json"),

		APIKeys: apiKeys,
	}
}

// Provider describes one OpenAI-compatible endpoint plus the model to use.
type Provider struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
}

// Providers is the parsed providers file: which endpoint serves each of the
// three model capabilities.
type Providers struct {
	Extraction Provider `json:"extraction"`
	Embedding  Provider `json:"embedding"`
	Generation Provider `json:"generation"`
}

// LoadProviders loads the LLM providers configuration from a JSON file.
func LoadProviders(filePath string) (*Providers, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var providers Providers
	if err := json.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("failed to parse providers JSON: %w", err)
	}

	if providers.Extraction.BaseURL == "" || providers.Embedding.BaseURL == "" {
		return nil, fmt.Errorf("providers file must configure extraction and embedding endpoints")
	}

	return &providers, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
