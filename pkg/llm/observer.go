package llm

import (
	"context"
	"time"

	"github.com/jmylchreest/listinglens/internal/logger"
)

// Observer receives a notification after every provider call, successful or
// not. Implementations must not block.
type Observer interface {
	OnLLMCall(ctx context.Context, event CallEvent)
}

// CallEvent describes one provider call.
type CallEvent struct {
	Provider string
	Model    string

	// InputContentSize is the size in bytes of the page content sent.
	InputContentSize int

	Response *Response // nil if the call failed
	Error    error

	Duration  time.Duration
	StartedAt time.Time
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event CallEvent)

func (f ObserverFunc) OnLLMCall(ctx context.Context, event CallEvent) {
	f(ctx, event)
}

// MultiObserver dispatches each event to several observers.
type MultiObserver struct {
	observers []Observer
}

func NewMultiObserver(observers ...Observer) *MultiObserver {
	return &MultiObserver{observers: observers}
}

func (m *MultiObserver) OnLLMCall(ctx context.Context, event CallEvent) {
	for _, obs := range m.observers {
		obs.OnLLMCall(ctx, event)
	}
}

// Add adds an observer.
func (m *MultiObserver) Add(obs Observer) {
	m.observers = append(m.observers, obs)
}

// LogObserver writes every call to the structured log at info level, which
// puts it in the operational event log.
func LogObserver() Observer {
	return ObserverFunc(func(ctx context.Context, e CallEvent) {
		attrs := []any{
			"provider", e.Provider,
			"model", e.Model,
			"input_bytes", e.InputContentSize,
			"duration", e.Duration.Round(time.Millisecond),
		}
		if e.Error != nil {
			logger.WarnContext(ctx, "llm call failed", append(attrs, "error", e.Error)...)
			return
		}
		if e.Response != nil {
			attrs = append(attrs,
				"input_tokens", e.Response.Usage.InputTokens,
				"output_tokens", e.Response.Usage.OutputTokens,
				"finish_reason", e.Response.FinishReason,
				"cost_usd", e.Response.Cost)
		}
		logger.InfoContext(ctx, "llm call", attrs...)
	})
}

// observed wraps a provider and reports every Execute to an observer.
type observed struct {
	Provider
	obs Observer
}

// WithObserver returns p reporting to obs. A nil obs returns p unchanged.
func WithObserver(p Provider, obs Observer) Provider {
	if obs == nil {
		return p
	}
	return &observed{Provider: p, obs: obs}
}

func (o *observed) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := o.Provider.Execute(ctx, req)

	size := 0
	for _, m := range req.Messages {
		if m.Role == RoleUser {
			size += len(m.Content)
		}
	}
	model := o.Provider.Model()
	if resp != nil && resp.Model != "" {
		model = resp.Model
	}

	o.obs.OnLLMCall(ctx, CallEvent{
		Provider:         o.Provider.Name(),
		Model:            model,
		InputContentSize: size,
		Response:         resp,
		Error:            err,
		Duration:         time.Since(start),
		StartedAt:        start,
	})
	return resp, err
}
