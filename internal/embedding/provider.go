package embedding

import (
	"fmt"

	"github.com/mnemo-labs/mnemo/internal/domain"
)

// Provider constants
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
	ProviderNone   = "none"
)

// NewClient creates an embedding client based on the provider name. The
// "none" provider returns nil: archive recall then runs lexical-only. An
// empty model falls back to the provider's default.
func NewClient(provider, apiKey, model string) (domain.EmbeddingClient, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI embedding provider")
		}
		return NewOpenAIClient(apiKey, model), nil

	case ProviderMock:
		return NewMockClient(), nil

	case ProviderNone, "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: openai, mock, none)", provider)
	}
}
