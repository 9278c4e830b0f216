package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config enumerates every recognized option. Values come from an optional
// YAML file (PIXELCHAT_CONFIG) overridden by environment variables.
type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	DBPath       string `yaml:"db_path"`
	AssetRoot    string `yaml:"asset_root"`
	AssetBaseURL string `yaml:"asset_base_url"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	ChatModel     string `yaml:"chat_model"`
	ImageModel    string `yaml:"image_model"`
	ImageSize     string `yaml:"image_size"`

	ChatSystemPrompt  string `yaml:"chat_system_prompt"`
	ImageSystemPrompt string `yaml:"image_system_prompt"`

	// Context assembly.
	MaxWords           int     `yaml:"max_words"`
	RecentFetchLimit   int     `yaml:"recent_fetch_limit"`
	RelevantFetchLimit int     `yaml:"relevant_fetch_limit"`
	UseRelevantContext bool    `yaml:"use_relevant_context"`
	RecencyWeight      float64 `yaml:"recency_weight"`

	// Billing, in credits per operation.
	ChatCost  int64 `yaml:"chat_cost"`
	ImageCost int64 `yaml:"image_cost"`
	EditCost  int64 `yaml:"edit_cost"`

	// Provider call protection.
	ProviderTimeoutSeconds int `yaml:"provider_timeout_seconds"`
	ProviderMaxAttempts    int `yaml:"provider_max_attempts"`
	BreakerThreshold       int `yaml:"breaker_threshold"`
	BreakerCooldownSeconds int `yaml:"breaker_cooldown_seconds"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:   ":8080",
		DBPath:       "./pixelchat.db",
		AssetRoot:    "./data/assets",
		AssetBaseURL: "http://localhost:8080/assets",

		ChatModel:  "gpt-4o-mini",
		ImageModel: "dall-e-3",
		ImageSize:  "1024x1024",

		ChatSystemPrompt:  "You are an assistant that helps users design and refine AI-generated images. Be concrete and visual.",
		ImageSystemPrompt: "Render the user's request as a single detailed image.",

		MaxWords:           800,
		RecentFetchLimit:   50,
		RelevantFetchLimit: 100,
		UseRelevantContext: true,
		RecencyWeight:      0.3,

		ChatCost:  1,
		ImageCost: 10,
		EditCost:  10,

		ProviderTimeoutSeconds: 60,
		ProviderMaxAttempts:    3,
		BreakerThreshold:       5,
		BreakerCooldownSeconds: 30,

		LogLevel: "info",
	}
}

// Load builds the effective configuration: defaults, then the optional YAML
// file named by PIXELCHAT_CONFIG, then environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("PIXELCHAT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.ListenAddr = envOrDefault("PIXELCHAT_ADDR", cfg.ListenAddr)
	cfg.DBPath = envOrDefault("PIXELCHAT_DB_PATH", cfg.DBPath)
	cfg.AssetRoot = envOrDefault("PIXELCHAT_ASSET_ROOT", cfg.AssetRoot)
	cfg.AssetBaseURL = envOrDefault("PIXELCHAT_ASSET_BASE_URL", cfg.AssetBaseURL)

	cfg.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.ChatModel = envOrDefault("PIXELCHAT_CHAT_MODEL", cfg.ChatModel)
	cfg.ImageModel = envOrDefault("PIXELCHAT_IMAGE_MODEL", cfg.ImageModel)
	cfg.ImageSize = envOrDefault("PIXELCHAT_IMAGE_SIZE", cfg.ImageSize)

	cfg.ChatSystemPrompt = envOrDefault("PIXELCHAT_CHAT_SYSTEM_PROMPT", cfg.ChatSystemPrompt)
	cfg.ImageSystemPrompt = envOrDefault("PIXELCHAT_IMAGE_SYSTEM_PROMPT", cfg.ImageSystemPrompt)

	cfg.MaxWords = envIntOrDefault("PIXELCHAT_MAX_WORDS", cfg.MaxWords)
	cfg.RecentFetchLimit = envIntOrDefault("PIXELCHAT_RECENT_FETCH_LIMIT", cfg.RecentFetchLimit)
	cfg.RelevantFetchLimit = envIntOrDefault("PIXELCHAT_RELEVANT_FETCH_LIMIT", cfg.RelevantFetchLimit)
	cfg.UseRelevantContext = envBoolOrDefault("PIXELCHAT_USE_RELEVANT_CONTEXT", cfg.UseRelevantContext)
	cfg.RecencyWeight = envFloatOrDefault("PIXELCHAT_RECENCY_WEIGHT", cfg.RecencyWeight)

	cfg.ChatCost = int64(envIntOrDefault("PIXELCHAT_CHAT_COST", int(cfg.ChatCost)))
	cfg.ImageCost = int64(envIntOrDefault("PIXELCHAT_IMAGE_COST", int(cfg.ImageCost)))
	cfg.EditCost = int64(envIntOrDefault("PIXELCHAT_EDIT_COST", int(cfg.EditCost)))

	cfg.ProviderTimeoutSeconds = envIntOrDefault("PIXELCHAT_PROVIDER_TIMEOUT_SECONDS", cfg.ProviderTimeoutSeconds)
	cfg.ProviderMaxAttempts = envIntOrDefault("PIXELCHAT_PROVIDER_MAX_ATTEMPTS", cfg.ProviderMaxAttempts)
	cfg.BreakerThreshold = envIntOrDefault("PIXELCHAT_BREAKER_THRESHOLD", cfg.BreakerThreshold)
	cfg.BreakerCooldownSeconds = envIntOrDefault("PIXELCHAT_BREAKER_COOLDOWN_SECONDS", cfg.BreakerCooldownSeconds)

	cfg.LogLevel = envOrDefault("PIXELCHAT_LOG_LEVEL", cfg.LogLevel)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxWords <= 0 {
		return fmt.Errorf("PIXELCHAT_MAX_WORDS must be positive, got %d", c.MaxWords)
	}
	if c.RecencyWeight < 0 {
		return fmt.Errorf("PIXELCHAT_RECENCY_WEIGHT must be non-negative, got %g", c.RecencyWeight)
	}
	if c.ChatCost < 0 || c.ImageCost < 0 || c.EditCost < 0 {
		return fmt.Errorf("credit costs must be non-negative")
	}
	if c.ProviderTimeoutSeconds <= 0 {
		return fmt.Errorf("PIXELCHAT_PROVIDER_TIMEOUT_SECONDS must be positive, got %d", c.ProviderTimeoutSeconds)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
