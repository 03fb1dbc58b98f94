package llm

import (
	"fmt"

	"github.com/mnemo-labs/mnemo/internal/domain"
)

// Provider constants
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// NewSummarizer creates a summarizer based on the provider name.
// Returns an error if the provider is unknown or the API key is empty (except for mock).
func NewSummarizer(provider, apiKey string) (domain.Summarizer, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI provider")
		}
		return NewOpenAIClient(apiKey), nil

	case ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for Anthropic provider")
		}
		return NewAnthropicClient(apiKey), nil

	case ProviderMock:
		return NewMockSummarizer(), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", provider)
	}
}
