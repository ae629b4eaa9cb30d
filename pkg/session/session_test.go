package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/pkg/browser"
	"github.com/jmylchreest/listinglens/pkg/browser/browsertest"
	"github.com/jmylchreest/listinglens/pkg/disclosure"
	"github.com/jmylchreest/listinglens/pkg/listing"
	"github.com/jmylchreest/listinglens/pkg/section"
)

var (
	details    = browser.CSS("div.details")
	viewNumber = browser.TextContains("button", "view number")
)

func testConfig() Config {
	return Config{PageLoadTimeout: 15 * time.Second}
}

func newRunner(f browser.SessionFactory) *Runner {
	ctrl := disclosure.New(disclosure.Config{}, []disclosure.Pattern{
		{Locator: viewNumber, Role: disclosure.RoleReveal},
	})
	ext := section.NewExtractor(section.DefaultConfig(), []string{"div.details", "div.missing"})
	return NewRunner(testConfig(), f, ctrl, ext)
}

func singleDoc(doc *browsertest.Doc) *browsertest.Factory {
	return &browsertest.Factory{New: func(int) *browsertest.Doc { return doc }}
}

func TestRun_Success(t *testing.T) {
	doc := browsertest.NewDoc()
	doc.Set(details, &browsertest.Node{HTML: "<div class=\"details\">RM 500,000</div>"})
	doc.Set(viewNumber, &browsertest.Node{Text: "View Number"})

	r := newRunner(singleDoc(doc))
	var states []State
	r.OnTransition = func(_ string, _, to State) { states = append(states, to) }

	out := r.Run(context.Background(), "https://example.com/1")

	if out.Failed() {
		t.Fatalf("unexpected failure %+v (%s)", out.Failure, out.RawError)
	}
	if out.State != StateSucceeded {
		t.Errorf("State = %s", out.State)
	}
	if !out.Sections.Any() || len(out.Sections.Markup["div.missing"]) != 0 {
		t.Errorf("Sections = %+v", out.Sections)
	}
	if len(out.Disclosure.Clicks) != 1 {
		t.Errorf("Disclosure = %+v", out.Disclosure)
	}
	if doc.Closed() != 1 {
		t.Errorf("Close called %d times, want 1", doc.Closed())
	}
	if len(doc.Navigated) != 1 || doc.Navigated[0] != "https://example.com/1" {
		t.Errorf("Navigated = %v", doc.Navigated)
	}

	want := []State{StateLoading, StateDisclosing, StateExtracting, StateSucceeded, StateClosing}
	if strings.Join(stateNames(states), ",") != strings.Join(stateNames(want), ",") {
		t.Errorf("transitions = %v, want %v", states, want)
	}
}

func stateNames(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func TestRun_EmptySectionsStillSucceed(t *testing.T) {
	doc := browsertest.NewDoc()
	out := newRunner(singleDoc(doc)).Run(context.Background(), "https://example.com/empty")

	if out.Failed() || out.State != StateSucceeded {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Sections.Any() {
		t.Error("Any() = true")
	}
	if len(out.Sections.Markup) != 2 {
		t.Errorf("every selector needs a key: %v", out.Sections.Markup)
	}
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name       string
		factory    *browsertest.Factory
		wantKind   listing.FailureKind
		wantPrefix string
		wantClosed bool
	}{
		{
			name:       "startup",
			factory:    &browsertest.Factory{OpenErr: errors.New("chrome not found")},
			wantKind:   listing.FailureSessionStartup,
			wantPrefix: "Browser setup/runtime error: chrome not found",
		},
		{
			name: "navigation timeout",
			factory: singleDoc(func() *browsertest.Doc {
				d := browsertest.NewDoc()
				d.NavigateErr = &browser.Fault{Kind: browser.FaultTimeout, Op: "navigate", Err: context.DeadlineExceeded}
				return d
			}()),
			wantKind:   listing.FailureNavigationTimeout,
			wantPrefix: "Timeout occurred during page load or element wait (limit 15s): ",
			wantClosed: true,
		},
		{
			name: "navigation error",
			factory: singleDoc(func() *browsertest.Doc {
				d := browsertest.NewDoc()
				d.NavigateErr = &browser.Fault{Kind: browser.FaultSession, Op: "navigate", Err: errors.New("net::ERR_NAME_NOT_RESOLVED")}
				return d
			}()),
			wantKind:   listing.FailureSessionRuntime,
			wantPrefix: "Unexpected scraping error: ",
			wantClosed: true,
		},
		{
			name: "session lost during disclosure",
			factory: singleDoc(func() *browsertest.Doc {
				d := browsertest.NewDoc()
				d.SessionErr = errors.New("target closed")
				return d
			}()),
			wantKind:   listing.FailureSessionRuntime,
			wantPrefix: "Unexpected scraping error: ",
			wantClosed: true,
		},
		{
			name: "panic",
			factory: singleDoc(func() *browsertest.Doc {
				d := browsertest.NewDoc()
				d.Panic = "driver exploded"
				return d
			}()),
			wantKind:   listing.FailureSessionRuntime,
			wantPrefix: "Unexpected scraping error: driver exploded",
			wantClosed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := newRunner(tt.factory).Run(context.Background(), "https://example.com/1")

			if out.Failure == nil || out.Failure.Kind != tt.wantKind {
				t.Fatalf("Failure = %+v, want kind %s", out.Failure, tt.wantKind)
			}
			if !strings.HasPrefix(out.Failure.Message, tt.wantPrefix) {
				t.Errorf("Message = %q, want prefix %q", out.Failure.Message, tt.wantPrefix)
			}
			if out.State != StateFailed {
				t.Errorf("State = %s", out.State)
			}
			if out.RawError == "" {
				t.Error("RawError should carry diagnostics")
			}
			if len(out.Sections.Markup) != 2 {
				t.Errorf("sections keys = %d, want 2 even on failure", len(out.Sections.Markup))
			}
			if opened := tt.factory.Opened(); tt.wantClosed {
				if len(opened) != 1 || opened[0].Closed() != 1 {
					t.Error("session was not closed exactly once")
				}
			}
		})
	}
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	logger.Init(logger.Options{Output: buf, JSON: true})
	t.Cleanup(func() { logger.Init(logger.Options{}) })
	return buf
}

func TestRun_PanicKeepsStack(t *testing.T) {
	logs := captureLogs(t)
	doc := browsertest.NewDoc()
	doc.Panic = "boom"
	out := newRunner(singleDoc(doc)).Run(context.Background(), "https://example.com/1")
	if !strings.Contains(out.RawError, "goroutine") {
		t.Errorf("RawError should include a stack: %q", out.RawError)
	}
	if !strings.Contains(logs.String(), `"raw_error":"panic: boom\n`) || !strings.Contains(logs.String(), "goroutine") {
		t.Errorf("stack not logged:\n%s", logs.String())
	}
}

func TestRun_FailureLogsErrorChain(t *testing.T) {
	logs := captureLogs(t)
	doc := browsertest.NewDoc()
	doc.NavigateErr = &browser.Fault{Kind: browser.FaultSession, Op: "navigate", Err: errors.New("net::ERR_CONNECTION_REFUSED")}

	newRunner(singleDoc(doc)).Run(context.Background(), "https://example.com/1")

	if !strings.Contains(logs.String(), `caused by: net::ERR_CONNECTION_REFUSED`) {
		t.Errorf("error chain not logged:\n%s", logs.String())
	}
}

func TestRun_CloseErrorDoesNotOverride(t *testing.T) {
	doc := browsertest.NewDoc()
	doc.CloseErr = errors.New("already gone")
	out := newRunner(singleDoc(doc)).Run(context.Background(), "https://example.com/1")
	if out.Failed() || out.State != StateSucceeded {
		t.Errorf("outcome = %+v", out)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &browsertest.Factory{}
	out := newRunner(f).Run(ctx, "https://example.com/1")

	if out.Failure == nil || out.Failure.Kind != listing.FailureSessionRuntime {
		t.Fatalf("Failure = %+v", out.Failure)
	}
	if len(f.Opened()) != 0 {
		t.Error("no session should be opened for a cancelled context")
	}
}

func TestRun_CancelledDuringLoad(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	doc := browsertest.NewDoc()
	doc.OnNavigate = func(*browsertest.Doc, string) error {
		cancel()
		return nil
	}

	r := newRunner(singleDoc(doc))
	r.cfg.SettleDelay = time.Hour

	out := r.Run(ctx, "https://example.com/1")
	if out.Failure == nil || out.Failure.Kind != listing.FailureSessionRuntime {
		t.Fatalf("Failure = %+v", out.Failure)
	}
	if doc.Closed() != 1 {
		t.Error("session not closed")
	}
}

func TestRawError(t *testing.T) {
	inner := errors.New("inner")
	err := &browser.Fault{Kind: browser.FaultSession, Op: "navigate", Err: inner}
	got := rawError(err)
	if !strings.Contains(got, "caused by: inner") {
		t.Errorf("rawError = %q", got)
	}
	if rawError(nil) != "" {
		t.Error("rawError(nil) should be empty")
	}
}
