package llm

import (
	"context"
	"fmt"
	"os"

	"slurmsage/internal/config"
)

// NewClientFromConfig creates an LLM client for the configured provider.
// Model and base URL overrides from the config are applied when set.
func NewClientFromConfig(ctx context.Context, cfg *config.Config) (Client, error) {
	timeout := cfg.GetLLMTimeout()

	switch Provider(cfg.LLM.Provider) {
	case ProviderAnthropic:
		ac := DefaultAnthropicConfig(cfg.LLM.APIKey)
		ac.Timeout = timeout
		if cfg.LLM.Model != "" {
			ac.Model = cfg.LLM.Model
		}
		if cfg.LLM.BaseURL != "" {
			ac.BaseURL = cfg.LLM.BaseURL
		}
		if cfg.LLM.MaxTokens > 0 {
			ac.MaxTokens = cfg.LLM.MaxTokens
		}
		return NewAnthropicClientWithConfig(ac), nil

	case ProviderOpenAI:
		oc := DefaultOpenAIConfig(cfg.LLM.APIKey)
		oc.Timeout = timeout
		if cfg.LLM.Model != "" {
			oc.Model = cfg.LLM.Model
		}
		if cfg.LLM.BaseURL != "" {
			oc.BaseURL = cfg.LLM.BaseURL
		}
		if cfg.LLM.MaxTokens > 0 {
			oc.MaxTokens = cfg.LLM.MaxTokens
		}
		return NewOpenAIClientWithConfig(oc), nil

	case ProviderGemini:
		gc := DefaultGeminiConfig(cfg.LLM.APIKey)
		gc.Timeout = timeout
		if cfg.LLM.Model != "" {
			gc.Model = cfg.LLM.Model
		}
		return NewGeminiClientWithConfig(ctx, gc)

	case ProviderOllama:
		lc := DefaultOllamaConfig()
		lc.Timeout = timeout
		if cfg.LLM.BaseURL != "" {
			lc.Endpoint = cfg.LLM.BaseURL
		}
		if cfg.LLM.Model != "" {
			lc.Model = cfg.LLM.Model
		}
		return NewOllamaClientWithConfig(lc), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.LLM.Provider)
	}
}

// DetectProvider inspects the environment and returns the first provider
// with a usable credential. Priority: ANTHROPIC > OPENAI > GEMINI > OLLAMA.
func DetectProvider() (Provider, string, error) {
	providers := []struct {
		envVar   string
		provider Provider
	}{
		{"ANTHROPIC_API_KEY", ProviderAnthropic},
		{"OPENAI_API_KEY", ProviderOpenAI},
		{"GEMINI_API_KEY", ProviderGemini},
	}

	for _, p := range providers {
		if key := os.Getenv(p.envVar); key != "" {
			return p.provider, key, nil
		}
	}

	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		return ProviderOllama, "", nil
	}

	return "", "", fmt.Errorf("no API key found; set one of: ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, or OLLAMA_HOST")
}
