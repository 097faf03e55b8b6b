package generate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Options selects and configures a generation backend.
type Options struct {
	Provider string // openai | anthropic | gemini | ollama
	APIKey   string
	Model    string
	BaseURL  string // OpenAI/Anthropic endpoint override, or Ollama host.
	Timeout  time.Duration
}

// New builds the Generator for opts.Provider.
func New(ctx context.Context, opts Options) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = "openai"
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("model is required for provider %s", provider)
	}

	switch provider {
	case "openai":
		return NewOpenAIClient(opts.APIKey, opts.Model, opts.BaseURL, opts.Timeout), nil
	case "anthropic":
		return NewAnthropicClient(opts.APIKey, opts.Model, opts.BaseURL, opts.Timeout), nil
	case "gemini":
		return NewGeminiClient(ctx, opts.APIKey, opts.Model)
	case "ollama":
		return NewOllamaClient(opts.BaseURL, opts.Model, nil)
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", opts.Provider)
	}
}

// Close releases idle connections held by g, if it keeps any.
func Close(g Generator) {
	if c, ok := g.(interface{ Close() }); ok {
		c.Close()
	}
}
