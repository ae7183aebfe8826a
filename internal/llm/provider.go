package llm

import (
	"errors"
	"fmt"

	"github.com/memorilabs/memori/internal/domain"
)

// Provider constants
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

var (
	// ErrRateLimited marks provider 429s; callers back off exponentially.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidOutput marks structured output that failed validation.
	// Never retried.
	ErrInvalidOutput = errors.New("invalid analysis output")
)

// New creates an analysis client for the named provider.
// Returns an error if the provider is unknown or the API key is empty
// (except for mock).
func New(provider, apiKey, model string) (domain.AnalysisClient, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("API key is required for OpenAI provider")
		}
		return NewOpenAIClient(apiKey, model), nil

	case ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("API key is required for Anthropic provider")
		}
		return NewAnthropicClient(apiKey, model), nil

	case ProviderMock:
		return NewMockClient(), nil

	default:
		return nil, fmt.Errorf("unknown analysis provider: %s (valid options: openai, anthropic, mock)", provider)
	}
}
