// Package resolve builds a bigcontext.RemoteClient from provider-agnostic
// configuration, so internal/config's [provider] section doesn't need to
// know about openaicompat's construction details.
package resolve

import (
	"fmt"

	"github.com/nevindra/bigcontext"
	"github.com/nevindra/bigcontext/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a RemoteClient.
// Name selects which OpenAI-compatible backend to talk to; BaseURL overrides
// the backend's default endpoint when set (e.g. for a self-hosted vLLM
// deployment).
type Config struct {
	Name    string // "openai", "groq", "deepseek", "together", "mistral", "ollama", "openrouter"
	APIKey  string
	BaseURL string

	Temperature *float64
	TopP        *float64
}

// RemoteClient creates a bigcontext.RemoteClient from a provider-agnostic Config.
func RemoteClient(cfg Config) (bigcontext.RemoteClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Name)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("resolve: unknown provider %q and no base_url configured", cfg.Name)
	}

	var provOpts []openaicompat.ProviderOption
	provOpts = append(provOpts, openaicompat.WithName(cfg.Name))

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

	return openaicompat.NewProvider(cfg.APIKey, baseURL, provOpts...), nil
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
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
