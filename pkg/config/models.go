package config

import (
	"fmt"
	"os"
	"strings"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variables holding provider credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"

	DefaultOllamaHost = "http://localhost:11434"
)

// ModelInfo carries provider and pricing data for a model.
type ModelInfo struct {
	Provider         string
	InputCPM         float64 // USD per million input tokens
	OutputCPM        float64 // USD per million output tokens
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels lists models with pricing and limits. Unknown models are
// resolved through ProviderPatterns.
//
//nolint:gochecknoglobals // static registry
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5": {
		Provider: ProviderAnthropic, InputCPM: 3.0, OutputCPM: 15.0,
		MaxContextTokens: 200000, MaxOutputTokens: 8192,
	},
	"claude-opus-4-1": {
		Provider: ProviderAnthropic, InputCPM: 15.0, OutputCPM: 75.0,
		MaxContextTokens: 200000, MaxOutputTokens: 16384,
	},
	"gpt-4o": {
		Provider: ProviderOpenAI, InputCPM: 2.5, OutputCPM: 10.0,
		MaxContextTokens: 128000, MaxOutputTokens: 4096,
	},
	"o4-mini": {
		Provider: ProviderOpenAI, InputCPM: 1.1, OutputCPM: 4.4,
		MaxContextTokens: 128000, MaxOutputTokens: 16384,
	},
	"gemini-2.5-flash": {
		Provider: ProviderGoogle, InputCPM: 0.30, OutputCPM: 2.50,
		MaxContextTokens: 1048576, MaxOutputTokens: 65536,
	},
	"qwen2.5-coder:14b": {
		Provider: ProviderOllama, MaxContextTokens: 32768, MaxOutputTokens: 8192,
	},
}

// ProviderPattern maps a model-name prefix to a provider.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns infers providers for models missing from KnownModels.
//
//nolint:gochecknoglobals // static inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"phi", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the API provider for a model.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// GetModelInfo returns registry data for a model, or conservative defaults
// with the inferred provider when the model is unknown.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}
	provider, _ := GetModelProvider(modelName)
	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// CalculateCost returns the USD cost of a request. Unknown models cost 0.
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, exists := KnownModels[modelName]
	if !exists {
		return 0
	}
	return float64(promptTokens)/1_000_000.0*info.InputCPM + float64(completionTokens)/1_000_000.0*info.OutputCPM
}

// APIKey resolves the credential for a provider from secrets, then the
// environment. For Ollama it returns the host URL.
func APIKey(secrets *Secrets, provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		if host, err := secrets.Get(EnvOllamaHost); err == nil {
			return host, nil
		}
		if host := os.Getenv(EnvOllamaHost); host != "" {
			return host, nil
		}
		return DefaultOllamaHost, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := secrets.Get(envVar)
	if err != nil {
		return "", fmt.Errorf("API key not found: %s not in secrets file or environment", envVar)
	}
	return key, nil
}
