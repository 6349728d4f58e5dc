// Package resolve creates providers from provider-agnostic configuration.
// It is the bridge between the config layer (which only knows strings) and
// the concrete provider packages.
package resolve

import (
	"fmt"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
	"github.com/lonestar-labs/bluebonnet/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat Provider.
//
// "fast" is an alias for groq: the pipeline routes latency-sensitive roles
// (intent classification, reformulation) there by default.
type Config struct {
	Provider string // "fast", "openai-compatible", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // required for unknown providers; auto-filled for known ones

	// Common cross-provider options (nil = use provider default).
	Temperature *float64
	TopP        *float64
}

// EmbeddingConfig holds provider-agnostic configuration for creating an
// EmbeddingProvider.
type EmbeddingConfig struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// Provider creates a bluebonnet.Provider from a provider-agnostic Config.
func Provider(cfg Config) (bluebonnet.Provider, error) {
	switch cfg.Provider {
	case "fast":
		cfg.Provider = "groq"
		return openaiCompatProvider(cfg), nil
	case "openai-compatible":
		cfg.Provider = "openai"
		return openaiCompatProvider(cfg), nil
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		return openaiCompatProvider(cfg), nil
	default:
		if cfg.BaseURL != "" {
			return openaiCompatProvider(cfg), nil
		}
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

// EmbeddingProvider creates a bluebonnet.EmbeddingProvider from a
// provider-agnostic EmbeddingConfig.
func EmbeddingProvider(cfg EmbeddingConfig) (bluebonnet.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "openai", "":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL("openai")
		}
		var opts []openaicompat.EmbeddingOption
		if cfg.Dimensions > 0 {
			opts = append(opts, openaicompat.EmbeddingDimensions(cfg.Dimensions))
		}
		return openaicompat.NewEmbedding(cfg.APIKey, cfg.Model, baseURL, opts...), nil
	default:
		return nil, fmt.Errorf("resolve: embedding provider %q not supported", cfg.Provider)
	}
}

func openaiCompatProvider(cfg Config) bluebonnet.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	provOpts := []openaicompat.ProviderOption{openaicompat.WithName(cfg.Provider)}

	var reqOpts []openaicompat.Option
	if cfg.Temperature != nil {
		reqOpts = append(reqOpts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		reqOpts = append(reqOpts, openaicompat.WithTopP(*cfg.TopP))
	}
	if len(reqOpts) > 0 {
		provOpts = append(provOpts, openaicompat.WithOptions(reqOpts...))
	}
	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, provOpts...)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
