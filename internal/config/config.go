package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by MNEMO_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("MNEMO_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// APIKey is the static bearer token protecting the HTTP API.
// Empty means authentication is disabled.
func APIKey() string {
	return os.Getenv("API_KEY")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

// LLMProvider returns the configured summarizer provider.
// Defaults to "openai" if not set.
// Valid values: openai, anthropic, mock
func LLMProvider() string {
	p := os.Getenv("LLM_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// EmbeddingProvider returns the configured embedding provider.
// Defaults to "none": archive recall runs lexical-only.
// Valid values: openai, mock, none
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "none"
	}
	return p
}

// EmbeddingModel returns the embedding model name. Empty means the
// provider's default.
func EmbeddingModel() string {
	return os.Getenv("EMBEDDING_MODEL")
}

// LLMAPIKey returns the API key for the configured summarizer provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// EmbeddingAPIKey returns the API key for the configured embedding provider.
func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "mock", "none":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// ContextCeiling returns the hard token ceiling for assembled context.
// Defaults to 200000 if not set.
func ContextCeiling() int {
	n, err := strconv.Atoi(os.Getenv("CONTEXT_CEILING"))
	if err != nil || n <= 0 {
		return 200_000
	}
	return n
}

// SummaryBudget returns the per-turn token allotment for injected summaries.
// Defaults to 50000 (25% of the default ceiling) if not set.
func SummaryBudget() int {
	n, err := strconv.Atoi(os.Getenv("SUMMARY_BUDGET"))
	if err != nil || n <= 0 {
		return 50_000
	}
	return n
}

// MaxSummaries returns the tiered store capacity. Defaults to 10.
func MaxSummaries() int {
	n, err := strconv.Atoi(os.Getenv("MAX_SUMMARIES"))
	if err != nil || n <= 0 {
		return 10
	}
	return n
}

// RetainTail returns how many recent exchanges survive an emergency
// checkpoint. Defaults to 5.
func RetainTail() int {
	n, err := strconv.Atoi(os.Getenv("RETAIN_TAIL"))
	if err != nil || n <= 0 {
		return 5
	}
	return n
}

// SummarizeTimeout bounds each summarizer call. Defaults to 30s.
func SummarizeTimeout() time.Duration {
	d, err := time.ParseDuration(os.Getenv("SUMMARIZE_TIMEOUT"))
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// IdentityPath returns the path of the identity/profile file. Empty means no
// identity block.
func IdentityPath() string {
	return os.Getenv("IDENTITY_PATH")
}

func MigrationsPath() string {
	p := os.Getenv("MIGRATIONS_PATH")
	if p == "" {
		return "migrations"
	}
	return p
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
