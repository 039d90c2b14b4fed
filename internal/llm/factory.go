package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("model API key is not set")

// Config selects and configures a driver.
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int

	// HTTPClient is used by the OpenAI and Anthropic drivers.
	HTTPClient *http.Client
}

var defaultModels = map[string]string{
	ProviderGemini:    "gemini-2.0-flash",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-sonnet-4-5-20250929",
}

// DefaultModel returns the model used for provider when none is
// configured.
func DefaultModel(provider string) string {
	return defaultModels[strings.ToLower(provider)]
}

// New builds the driver named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Model, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderGemini
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	name := cfg.Model
	if name == "" {
		name = defaultModels[provider]
	}

	switch provider {
	case ProviderGemini:
		m, err := NewGeminiModel(ctx, cfg.APIKey, name, cfg.BaseURL, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		return m, nil
	case ProviderOpenAI:
		return NewOpenAIModel(
			cfg.APIKey, name, cfg.BaseURL, cfg.MaxTokens, cfg.HTTPClient,
		), nil
	case ProviderAnthropic:
		return NewAnthropicModel(
			cfg.APIKey, name, cfg.BaseURL, cfg.MaxTokens, cfg.HTTPClient,
		), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
