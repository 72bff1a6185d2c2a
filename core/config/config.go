// Package config loads process-wide environment inputs once at start,
// grounded on the teacher's plain env-var bootstrapping (goa-ai cmd/demo)
// and tarsy's use of github.com/joho/godotenv for local .env files.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the environment inputs read once at process start (spec §6
// "Environment inputs"). Absent provider keys disable the corresponding
// adapter.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	BedrockRegion   string

	DefaultModelID string
	MaxTokens      int
	Temperature    float64

	RedisURL string
	MongoURL string

	MCPSessionExpiry time.Duration
	A2ASessionExpiry time.Duration

	RateLimitRPM     int
	RateLimitRPH     int
	RateLimitUSDPerH float64

	CacheTTL time.Duration
}

// Load reads configuration from the environment. It first loads a local
// .env file if present (ignored if absent) then applies defaults for any
// unset values.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		BedrockRegion:    getenvDefault("AWS_REGION", "us-east-1"),
		DefaultModelID:   getenvDefault("DEFAULT_MODEL_ID", "anthropic/claude-3-5-sonnet"),
		MaxTokens:        getenvInt("DEFAULT_MAX_TOKENS", 4096),
		Temperature:      getenvFloat("DEFAULT_TEMPERATURE", 0.7),
		RedisURL:         os.Getenv("REDIS_URL"),
		MongoURL:         os.Getenv("MONGO_URL"),
		MCPSessionExpiry: getenvDuration("MCP_SESSION_EXPIRY", time.Hour),
		A2ASessionExpiry: getenvDuration("A2A_SESSION_EXPIRY", time.Hour),
		RateLimitRPM:     getenvInt("RATE_LIMIT_RPM", 60),
		RateLimitRPH:     getenvInt("RATE_LIMIT_RPH", 2000),
		RateLimitUSDPerH: getenvFloat("RATE_LIMIT_USD_PER_HOUR", 50.0),
		CacheTTL:         getenvDuration("CACHE_TTL", time.Hour),
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
