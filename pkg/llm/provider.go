// Package llm provides a unified interface for the chat completion backends
// the extraction oracle can call.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrNoProvider is returned for provider names that are not registered.
var ErrNoProvider = errors.New("unknown provider")

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    Role
	Content string
}

// Request represents a completion request to the LLM.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSONSchema  map[string]any // For structured output
	StrictMode  bool           // Use strict JSON schema validation (only for supported models)
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response represents the result of an LLM execution.
type Response struct {
	Content      string
	FinishReason string
	Usage        Usage
	Model        string // Actual model used (may differ from requested for auto-routing)
	Cost         float64
	Duration     time.Duration
}

// Provider is the interface every LLM backend implements.
type Provider interface {
	// Execute sends one completion request. Implementations must not retry;
	// the caller owns the attempt budget.
	Execute(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider identifier (e.g., "gemini", "anthropic").
	Name() string

	// Model returns the configured model name.
	Model() string
}

// CostEstimator is an optional interface for providers that can estimate
// costs from token counts without making an API call.
type CostEstimator interface {
	EstimateCost(modelID string, inputTokens, outputTokens int) float64
}

// ProviderConfig holds common configuration for providers.
type ProviderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int // SDK level retries; 0 keeps each call to a single attempt
	Timeout    time.Duration
	// HTTPReferer and AppTitle for OpenRouter attribution
	HTTPReferer string
	AppTitle    string
	// Format is Ollama's output format constraint (e.g. "json").
	Format string
}

// DefaultProviderConfig returns single-attempt defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		MaxRetries: 0,
		Timeout:    120 * time.Second,
	}
}

type pricing struct {
	promptPrice     float64
	completionPrice float64
}

func (p pricing) cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*p.promptPrice + float64(outputTokens)*p.completionPrice
}
