package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/alignment-engine/pkg/chat"
)

// LLMService defines the interface for interacting with the LLM API.
// Implementations return an error for transport and API failures and never
// encode a failure as a successful response.
type LLMService interface {
	Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error)
}

// Provider names accepted by NewLLMService.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
)

const (
	DefaultTemperature = 0.8
	DefaultMaxTokens   = 600
	DefaultTimeout     = 30 * time.Second
)

// LLMOptions configures one model client.
type LLMOptions struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	// JSONMode asks the provider to constrain output to a JSON object where
	// the API supports it.
	JSONMode bool
	Timeout  time.Duration
}

func (o LLMOptions) withDefaults() LLMOptions {
	if o.Temperature <= 0 {
		o.Temperature = DefaultTemperature
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// NewLLMService builds the client for opts.Provider.
func NewLLMService(opts LLMOptions, logger *slog.Logger) (LLMService, error) {
	opts = opts.withDefaults()
	switch opts.Provider {
	case ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewChatGPTService(opts, logger), nil
	case ProviderAnthropic:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicService(opts, logger), nil
	case ProviderOllama:
		return NewOllamaService(opts, logger), nil
	case ProviderMock:
		return NewDemoLLM(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", opts.Provider)
	}
}
