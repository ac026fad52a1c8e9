package llm

import (
	"testing"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		name    string
		want    Provider
		wantErr bool
	}{
		{"", ProviderOllama, false},
		{"ollama", ProviderOllama, false},
		{"openai", ProviderOpenAI, false},
		{"vllm", ProviderOpenAI, false},
		{"lmstudio", ProviderOpenAI, false},
		{"claude", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProvider(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseProvider(%q) error = %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("ParseProvider(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want Provider
	}{
		{"default", nil, ProviderOllama},
		{"explicit", map[string]string{"AI_PROVIDER": "openai"}, ProviderOpenAI},
		{"openai key", map[string]string{"OPENAI_API_KEY": "sk-test"}, ProviderOpenAI},
		{"openai url", map[string]string{"OPENAI_BASE_URL": "http://localhost:8000/v1"}, ProviderOpenAI},
		{"explicit wins", map[string]string{"AI_PROVIDER": "ollama", "OPENAI_API_KEY": "sk-test"}, ProviderOllama},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"AI_PROVIDER", "OPENAI_API_KEY", "OPENAI_BASE_URL"} {
				t.Setenv(k, tt.env[k])
			}
			if got := DetectProvider(); got != tt.want {
				t.Errorf("DetectProvider() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateConfig(t *testing.T) {
	if err := ValidateConfig(nil, ProviderOllama); err == nil {
		t.Error("nil config should fail")
	}
	if err := ValidateConfig(DefaultConfig(), ProviderOllama); err != nil {
		t.Errorf("ollama default: %v", err)
	}
	if err := ValidateConfig(DefaultConfig(), ProviderOpenAI); err == nil {
		t.Error("openai without base URL or key should fail")
	}
	cfg := DefaultConfig()
	cfg.BaseURL = "http://localhost:8000/v1"
	if err := ValidateConfig(cfg, ProviderOpenAI); err != nil {
		t.Errorf("openai with base URL: %v", err)
	}
	cfg.Timeout = -1
	if err := ValidateConfig(cfg, ProviderOpenAI); err == nil {
		t.Error("negative timeout should fail")
	}
}
