package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func clearKeys(t *testing.T) {
	t.Helper()
	for _, keys := range providerEnvKeys {
		for _, k := range keys {
			t.Setenv(k, "")
		}
	}
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		wantName string
		wantKey  string
	}{
		{"no keys falls back to ollama", nil, "ollama", ""},
		{"gemini", map[string]string{"GEMINI_API_KEY": "g"}, "gemini", "g"},
		{"google alias", map[string]string{"GOOGLE_API_KEY": "gg"}, "gemini", "gg"},
		{"gemini wins over anthropic", map[string]string{"ANTHROPIC_API_KEY": "a", "GEMINI_API_KEY": "g"}, "gemini", "g"},
		{"openrouter before anthropic", map[string]string{"ANTHROPIC_API_KEY": "a", "OPENROUTER_API_KEY": "o"}, "openrouter", "o"},
		{"openai last", map[string]string{"OPENAI_API_KEY": "x"}, "openai", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearKeys(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			name, key := DetectProvider()
			if name != tt.wantName || key != tt.wantKey {
				t.Errorf("DetectProvider() = (%q, %q), want (%q, %q)", name, key, tt.wantName, tt.wantKey)
			}
		})
	}
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider("nope", DefaultProviderConfig())
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("NewProvider(nope) error = %v, want ErrNoProvider", err)
	}

	for _, name := range []string{"gemini", "anthropic", "openai", "openrouter"} {
		if _, err := NewProvider(name, DefaultProviderConfig()); err == nil {
			t.Errorf("NewProvider(%s) without key should fail", name)
		}
	}

	cfg := DefaultProviderConfig()
	cfg.APIKey = "k"
	p, err := NewProvider("gemini", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "gemini" || p.Model() != "gemini-2.0-flash" {
		t.Errorf("gemini provider = %s/%s", p.Name(), p.Model())
	}

	if _, err := NewProvider("ollama", DefaultProviderConfig()); err != nil {
		t.Errorf("ollama needs no key: %v", err)
	}
}

func TestAvailableProviders_Sorted(t *testing.T) {
	got := strings.Join(AvailableProviders(), ",")
	if !strings.HasPrefix(got, "anthropic,gemini,ollama,openai,openrouter") {
		t.Errorf("AvailableProviders() = %s", got)
	}
}

func TestDisplayName(t *testing.T) {
	if DisplayName("gemini") != "Gemini" || DisplayName("openai") != "OpenAI" {
		t.Error("unexpected display names")
	}
	if DisplayName("custom") != "custom" {
		t.Error("unknown providers should keep their name")
	}
}

const chatCompletion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gemini-2.0-flash",
  "choices": [{"index": 0, "finish_reason": "stop",
    "message": {"role": "assistant", "content": "{\"listing_title\": \"Test Condo\"}"}}],
  "usage": {"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120}
}`

func TestChatProvider_Execute(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletion)
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Execute(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "extract"}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Content != `{"listing_title": "Test Condo"}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 100 || resp.Usage.OutputTokens != 20 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if resp.Cost <= 0 {
		t.Errorf("Cost = %v, want estimate for gemini-2.0-flash", resp.Cost)
	}
	if body["model"] != "gemini-2.0-flash" {
		t.Errorf("request model = %v", body["model"])
	}
}

func TestChatProvider_SingleAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error": {"message": "overloaded"}}`)
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL + "/"})
	_, err := p.Execute(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want exactly 1", n)
	}
}

func TestAnthropicProvider_Execute(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("X-Api-Key"); got != "k" {
			t.Errorf("x-api-key = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
		  "id": "msg_1", "type": "message", "role": "assistant",
		  "model": "claude-sonnet-4-20250514",
		  "content": [{"type": "text", "text": "{\"price\": 500000}"}],
		  "stop_reason": "end_turn",
		  "usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Execute(context.Background(), Request{
		Messages: []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "x"}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Content != `{"price": 500000}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d", calls.Load())
	}
}

func TestOllamaProvider_Execute(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "listinglens/") {
			t.Errorf("User-Agent = %q", ua)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"model": "llama3.2", "message": {"role": "assistant", "content": "{}"}, "done": true, "prompt_eval_count": 7, "eval_count": 3}`)
	}))
	defer srv.Close()

	p, _ := NewOllamaProvider(ProviderConfig{BaseURL: srv.URL + "/", Format: "json"})
	resp, err := p.Execute(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Content != "{}" || resp.Usage.InputTokens != 7 || resp.Usage.OutputTokens != 3 {
		t.Errorf("resp = %+v", resp)
	}
	if string(got.Format) != `"json"` {
		t.Errorf("format = %s, want \"json\"", got.Format)
	}
	if got.Stream {
		t.Error("stream must be false")
	}
}

func TestOllamaProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := NewOllamaProvider(ProviderConfig{BaseURL: srv.URL})
	_, err := p.Execute(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "status 404: model not found") {
		t.Errorf("Execute() error = %v", err)
	}
}

type stubProvider struct {
	resp *Response
	err  error
}

func (s stubProvider) Execute(context.Context, Request) (*Response, error) { return s.resp, s.err }
func (s stubProvider) Name() string                                        { return "stub" }
func (s stubProvider) Model() string                                       { return "stub-1" }

func TestWithObserver(t *testing.T) {
	var events []CallEvent
	obs := ObserverFunc(func(_ context.Context, e CallEvent) { events = append(events, e) })

	ok := WithObserver(stubProvider{resp: &Response{Content: "{}", Model: "stub-1b"}}, obs)
	_, _ = ok.Execute(context.Background(), Request{Messages: []Message{
		{Role: RoleSystem, Content: "ignored"},
		{Role: RoleUser, Content: "12345"},
	}})

	failing := WithObserver(stubProvider{err: errors.New("down")}, NewMultiObserver(obs))
	_, _ = failing.Execute(context.Background(), Request{})

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Model != "stub-1b" || events[0].InputContentSize != 5 || events[0].Error != nil {
		t.Errorf("success event = %+v", events[0])
	}
	if events[1].Error == nil || events[1].Model != "stub-1" || events[1].Provider != "stub" {
		t.Errorf("failure event = %+v", events[1])
	}

	if p := WithObserver(stubProvider{}, nil); p.Name() != "stub" {
		t.Error("nil observer should return provider unchanged")
	}
}

func TestEstimateCost(t *testing.T) {
	p := &ChatProvider{}
	if c := p.EstimateCost("gpt-4o-mini-2024-07-18", 1_000_000, 0); math.Abs(c-0.15) > 1e-9 {
		t.Errorf("prefix match cost = %v, want 0.15", c)
	}
	if c := p.EstimateCost("unknown", 100, 100); c != 0 {
		t.Errorf("unknown model cost = %v", c)
	}
}
