// Package oracle turns collected listing markup into listing fields with a
// single LLM call.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/pkg/listing"
	"github.com/jmylchreest/listinglens/pkg/llm"
)

// MaxRawResponse bounds the raw response quoted in failure messages.
const MaxRawResponse = 200

// Config holds the oracle call settings.
type Config struct {
	// Temperature for LLM responses (default: 0.1).
	Temperature float64

	// MaxTokens for LLM responses (default: 8192).
	MaxTokens int

	// MaxContentSize limits input markup in bytes (0 = unlimited).
	MaxContentSize int

	// UseSchema sends the field schema as structured output.
	UseSchema bool

	// StrictMode enables strict JSON schema validation where supported.
	StrictMode bool
}

// DefaultConfig returns sensible defaults for listing extraction.
func DefaultConfig() Config {
	return Config{
		Temperature: 0.1,
		MaxTokens:   8192,
	}
}

// Extraction is the outcome of one oracle call. Exactly one of Fields and
// Failure is set.
type Extraction struct {
	Fields   map[string]any
	Failure  *listing.Failure
	Raw      string
	Usage    llm.Usage
	Duration time.Duration
}

// Client calls the extraction oracle. It never retries.
type Client struct {
	provider llm.Provider
	cfg      Config
}

// New creates a client for provider.
func New(provider llm.Provider, cfg Config) *Client {
	return &Client{provider: provider, cfg: cfg}
}

// Provider returns the underlying provider.
func (c *Client) Provider() llm.Provider {
	return c.provider
}

// Extract sends markup to the oracle and returns the parsed object with url
// injected. Empty markup fails without a call.
func (c *Client) Extract(ctx context.Context, markup, url string) Extraction {
	if strings.TrimSpace(markup) == "" {
		logger.WarnContext(ctx, "no markup to analyze, skipping oracle", "url", url)
		return Extraction{Failure: listing.Fail(listing.FailureNoContent,
			"No HTML content extracted from page to analyze.")}
	}

	req := llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: SystemPrompt},
			{Role: llm.RoleUser, Content: BuildPrompt(markup, c.cfg.MaxContentSize)},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		StrictMode:  c.cfg.StrictMode,
	}
	if c.cfg.UseSchema {
		req.JSONSchema = JSONSchema()
	}

	logger.DebugContext(ctx, "calling oracle",
		"url", url,
		"provider", c.provider.Name(),
		"model", c.provider.Model(),
		"markup_size", humanize.Bytes(uint64(len(markup))))

	start := time.Now()
	resp, err := c.provider.Execute(ctx, req)
	duration := time.Since(start)
	if err != nil {
		logger.ErrorContext(ctx, "oracle call failed", "url", url, "duration", duration.Round(time.Millisecond), "error", err)
		msg := fmt.Sprintf("%s API call failed: %s", llm.DisplayName(c.provider.Name()), err.Error())
		return Extraction{
			Failure:  listing.Fail(listing.FailureOracleCall, "%s", strings.ReplaceAll(msg, `"`, "'")),
			Duration: duration,
		}
	}

	out := Extraction{Raw: resp.Content, Usage: resp.Usage, Duration: duration}
	fields, failure := Parse(resp.Content)
	if failure != nil {
		logger.ErrorContext(ctx, "oracle response rejected",
			"url", url,
			"kind", failure.Kind,
			"response", truncate(resp.Content, 500))
		out.Failure = failure
		return out
	}

	fields[listing.FieldURL] = url
	out.Fields = fields
	logger.InfoContext(ctx, "oracle extraction parsed",
		"url", url,
		"duration", duration.Round(time.Millisecond),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)
	return out
}

// Parse decodes an oracle response. A markdown code fence is stripped first
// and the top level value must be a JSON object.
func Parse(content string) (map[string]any, *listing.Failure) {
	cleaned := StripMarkdownCodeBlock(content)

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, listing.Fail(listing.FailureOracleResponse,
			"Failed to parse AI response: %v. Raw response: %s...", err, truncate(cleaned, MaxRawResponse))
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, listing.Fail(listing.FailureOracleResponse,
			"AI output was not a valid JSON object. Raw response: %s...", truncate(cleaned, MaxRawResponse))
	}
	return obj, nil
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
