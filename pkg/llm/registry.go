package llm

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// ProviderFactory creates providers from config.
type ProviderFactory func(cfg ProviderConfig) (Provider, error)

// DefaultModels maps provider names to their default models.
var DefaultModels = map[string]string{
	"gemini":     "gemini-2.0-flash",
	"anthropic":  "claude-sonnet-4-20250514",
	"openai":     "gpt-4o",
	"openrouter": "openrouter/auto",
	"ollama":     "llama3.2",
}

// displayNames are the human readable provider names used in failure
// messages.
var displayNames = map[string]string{
	"gemini":     "Gemini",
	"anthropic":  "Anthropic",
	"openai":     "OpenAI",
	"openrouter": "OpenRouter",
	"ollama":     "Ollama",
}

var registry = map[string]ProviderFactory{}

func init() {
	RegisterProvider("gemini", func(cfg ProviderConfig) (Provider, error) {
		return NewGeminiProvider(cfg)
	})
	RegisterProvider("anthropic", func(cfg ProviderConfig) (Provider, error) {
		return NewAnthropicProvider(cfg)
	})
	RegisterProvider("openai", func(cfg ProviderConfig) (Provider, error) {
		return NewOpenAIProvider(cfg)
	})
	RegisterProvider("openrouter", func(cfg ProviderConfig) (Provider, error) {
		return NewOpenRouterProvider(cfg)
	})
	RegisterProvider("ollama", func(cfg ProviderConfig) (Provider, error) {
		return NewOllamaProvider(cfg)
	})
}

// NewProvider creates a provider by name.
func NewProvider(name string, cfg ProviderConfig) (Provider, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %s)", ErrNoProvider, name, strings.Join(AvailableProviders(), ", "))
	}
	return factory(cfg)
}

// RegisterProvider adds a custom provider factory.
func RegisterProvider(name string, factory ProviderFactory) {
	registry[name] = factory
}

// AvailableProviders returns the registered provider names, sorted.
func AvailableProviders() []string {
	providers := make([]string, 0, len(registry))
	for name := range registry {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}

// providerEnvKeys maps provider names to their API key environment
// variables, in lookup order.
var providerEnvKeys = map[string][]string{
	"gemini":     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openrouter": {"OPENROUTER_API_KEY"},
	"anthropic":  {"ANTHROPIC_API_KEY"},
	"openai":     {"OPENAI_API_KEY"},
}

// detectOrder is the priority DetectProvider checks keys in.
var detectOrder = []string{"gemini", "openrouter", "anthropic", "openai"}

// DetectProvider picks a provider from the API keys present in the
// environment. Gemini comes first as the reference deployment's backend;
// with no key at all it falls back to a local Ollama.
func DetectProvider() (provider string, apiKey string) {
	for _, name := range detectOrder {
		if key := APIKeyFromEnv(name); key != "" {
			return name, key
		}
	}
	return "ollama", ""
}

// APIKeyFromEnv returns the first non-empty API key variable for provider.
func APIKeyFromEnv(provider string) string {
	for _, env := range providerEnvKeys[provider] {
		if key := os.Getenv(env); key != "" {
			return key
		}
	}
	return ""
}

// EnvKeys returns the API key variables consulted for provider.
func EnvKeys(provider string) []string {
	return append([]string(nil), providerEnvKeys[provider]...)
}

// GetDefaultModel returns the default model for a provider.
func GetDefaultModel(provider string) string {
	return DefaultModels[provider]
}

// DisplayName returns the human readable name of a provider.
func DisplayName(provider string) string {
	if name, ok := displayNames[provider]; ok {
		return name
	}
	return provider
}

// IsRegistered returns true if a provider is registered.
func IsRegistered(name string) bool {
	_, ok := registry[name]
	return ok
}
