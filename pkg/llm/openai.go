package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	geminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

// Known model pricing (per token, USD) for the OpenAI compatible backends.
var chatPricing = map[string]pricing{
	"gpt-4o":           {2.50 / 1_000_000, 10.0 / 1_000_000},
	"gpt-4o-mini":      {0.15 / 1_000_000, 0.60 / 1_000_000},
	"gemini-2.0-flash": {0.10 / 1_000_000, 0.40 / 1_000_000},
	"gemini-2.5-flash": {0.30 / 1_000_000, 2.50 / 1_000_000},
}

// ChatProvider implements Provider for any OpenAI compatible chat
// completions endpoint: OpenAI itself, OpenRouter and Gemini.
type ChatProvider struct {
	client openai.Client
	name   string
	model  string
}

// NewOpenAIProvider creates a provider for the OpenAI API.
func NewOpenAIProvider(cfg ProviderConfig) (*ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key required")
	}
	return newChatProvider("openai", cfg, "", string(openai.ChatModelGPT4o))
}

// NewOpenRouterProvider creates a provider for OpenRouter, sending the
// attribution headers when configured.
func NewOpenRouterProvider(cfg ProviderConfig) (*ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenRouter API key required")
	}
	var extra []option.RequestOption
	if cfg.HTTPReferer != "" {
		extra = append(extra, option.WithHeader("HTTP-Referer", cfg.HTTPReferer))
	}
	if cfg.AppTitle != "" {
		extra = append(extra, option.WithHeader("X-Title", cfg.AppTitle))
	}
	return newChatProvider("openrouter", cfg, openRouterBaseURL, "openrouter/auto", extra...)
}

// NewGeminiProvider creates a provider for Google Gemini through its OpenAI
// compatible endpoint.
func NewGeminiProvider(cfg ProviderConfig) (*ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key required")
	}
	return newChatProvider("gemini", cfg, geminiBaseURL, "gemini-2.0-flash")
}

func newChatProvider(name string, cfg ProviderConfig, defaultBaseURL, defaultModel string, extra ...option.RequestOption) (*ChatProvider, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	opts = append(opts, extra...)

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &ChatProvider{
		client: openai.NewClient(opts...),
		name:   name,
		model:  model,
	}, nil
}

// Execute sends a chat completion request.
func (p *ChatProvider) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(req.Temperature),
	}

	if req.JSONSchema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "listing",
					Schema: req.JSONSchema,
					Strict: openai.Bool(req.StrictMode),
				},
			},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	usage := Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage:        usage,
		Model:        resp.Model,
		Cost:         p.EstimateCost(p.model, usage.InputTokens, usage.OutputTokens),
		Duration:     time.Since(start),
	}, nil
}

func (p *ChatProvider) Name() string {
	return p.name
}

func (p *ChatProvider) Model() string {
	return p.model
}

// EstimateCost uses known pricing, matching versioned model names by prefix.
// Unknown models estimate to zero.
func (p *ChatProvider) EstimateCost(modelID string, inputTokens, outputTokens int) float64 {
	modelID = strings.TrimPrefix(modelID, "models/")
	if pr, ok := chatPricing[modelID]; ok {
		return pr.cost(inputTokens, outputTokens)
	}
	best := ""
	for id := range chatPricing {
		if strings.HasPrefix(modelID, id) && len(id) > len(best) {
			best = id
		}
	}
	if best != "" {
		return chatPricing[best].cost(inputTokens, outputTokens)
	}
	return 0
}

var (
	_ Provider      = (*ChatProvider)(nil)
	_ CostEstimator = (*ChatProvider)(nil)
)
