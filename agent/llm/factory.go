// Package llm provides client factory and configuration detection
package llm

import (
	"fmt"
	"os"
)

// DetectProvider detects the backend from environment variables
// Priority: AI_PROVIDER explicit > OPENAI_API_KEY / OPENAI_BASE_URL > OLLAMA
func DetectProvider() Provider {
	if p := os.Getenv("AI_PROVIDER"); p != "" {
		if provider, err := ParseProvider(p); err == nil {
			return provider
		}
	}

	if os.Getenv("OPENAI_API_KEY") != "" || os.Getenv("OPENAI_BASE_URL") != "" {
		return ProviderOpenAI
	}

	// The local inference server is the default
	return ProviderOllama
}

// ParseProvider maps a configured provider name to a Provider.
func ParseProvider(name string) (Provider, error) {
	switch name {
	case "ollama", "":
		return ProviderOllama, nil
	case "openai", "openai-compatible", "vllm", "lmstudio":
		return ProviderOpenAI, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", name)
	}
}

// ConfigFromEnv creates a Config from environment variables
func ConfigFromEnv(provider Provider) *Config {
	cfg := DefaultConfig()
	cfg.Model = os.Getenv("AI_MODEL")

	switch provider {
	case ProviderOpenAI:
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	case ProviderOllama:
		cfg.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		cfg.APIKey = os.Getenv("OLLAMA_API_KEY")
	}

	return cfg
}

// String returns human-readable provider name
func (p Provider) String() string {
	switch p {
	case ProviderOpenAI:
		return "OpenAI-compatible"
	case ProviderOllama:
		return "Ollama"
	default:
		return string(p)
	}
}

// EnvVarName returns the primary environment variable for this provider
func (p Provider) EnvVarName() string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_BASE_URL"
	case ProviderOllama:
		return "OLLAMA_BASE_URL"
	default:
		return ""
	}
}

// ValidateConfig validates the configuration
func ValidateConfig(cfg *Config, provider Provider) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch provider {
	case ProviderOpenAI:
		if cfg.BaseURL == "" && cfg.APIKey == "" {
			return fmt.Errorf("%s or OPENAI_API_KEY not set", provider.EnvVarName())
		}
	case ProviderOllama:
		// Ollama doesn't require an API key
	default:
		return fmt.Errorf("unknown provider: %s", provider)
	}

	if cfg.Timeout < 0 || cfg.HealthTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}
