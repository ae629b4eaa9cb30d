// Package session runs one listing page through an exclusively owned
// browser session: load, disclose hidden content, collect sections and
// always release the browser.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/pkg/browser"
	"github.com/jmylchreest/listinglens/pkg/disclosure"
	"github.com/jmylchreest/listinglens/pkg/listing"
	"github.com/jmylchreest/listinglens/pkg/section"
)

// State is a page session lifecycle state.
type State string

const (
	StateCreated    State = "created"
	StateLoading    State = "loading"
	StateDisclosing State = "disclosing"
	StateExtracting State = "extracting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateClosing    State = "closing"
)

// Config holds the page-level timings.
type Config struct {
	PageLoadTimeout time.Duration `validate:"gt=0"`
	SettleDelay     time.Duration `validate:"gte=0"`
}

// DefaultConfig returns the reference timings.
func DefaultConfig() Config {
	return Config{
		PageLoadTimeout: 15 * time.Second,
		SettleDelay:     2 * time.Second,
	}
}

// Outcome is the result of one session. Sections has an entry for every
// selector even when the session failed.
type Outcome struct {
	URL        string
	State      State // StateSucceeded or StateFailed
	Sections   section.Sections
	Disclosure disclosure.Report
	Failure    *listing.Failure
	RawError   string // error chain or stack, logged at error level
}

// Failed reports whether the session ended in StateFailed.
func (o Outcome) Failed() bool {
	return o.Failure != nil
}

// TransitionFunc observes state changes.
type TransitionFunc func(url string, from, to State)

// Runner opens one session per Run call. It is safe for concurrent use.
type Runner struct {
	cfg        Config
	factory    browser.SessionFactory
	disclosure *disclosure.Controller
	sections   *section.Extractor

	// OnTransition, if set, is called for every state change.
	OnTransition TransitionFunc
}

// NewRunner creates a runner.
func NewRunner(cfg Config, factory browser.SessionFactory, ctrl *disclosure.Controller, extractor *section.Extractor) *Runner {
	return &Runner{
		cfg:        cfg,
		factory:    factory,
		disclosure: ctrl,
		sections:   extractor,
	}
}

type run struct {
	*Runner
	url   string
	state State
	start time.Time
	log   *slog.Logger
}

func (s *run) to(next State) {
	prev := s.state
	s.state = next
	s.log.Debug("session state", "from", prev, "state", next, "elapsed", s.elapsed())
	if s.OnTransition != nil {
		s.OnTransition(s.url, prev, next)
	}
}

func (s *run) elapsed() time.Duration {
	return time.Since(s.start).Round(time.Millisecond)
}

// Run processes url. It never panics and always closes the session it
// opened; a close error is logged and does not change the outcome.
func (r *Runner) Run(ctx context.Context, url string) (out Outcome) {
	s := &run{
		Runner: r,
		url:    url,
		state:  StateCreated,
		start:  time.Now(),
		log:    logger.With("url", url),
	}
	out = Outcome{URL: url, Sections: section.NewSections(r.sections.Selectors())}

	var doc browser.Document
	defer func() {
		if v := recover(); v != nil {
			out.Failure = listing.Fail(listing.FailureSessionRuntime, "Unexpected scraping error: %v", v)
			out.RawError = fmt.Sprintf("panic: %v\n%s", v, debug.Stack())
			s.log.Error("panic during scraping", "panic", v, "elapsed", s.elapsed(), "raw_error", out.RawError)
			s.to(StateFailed)
		}
		out.State = s.state

		s.to(StateClosing)
		if doc != nil {
			if err := doc.Close(); err != nil {
				s.log.Warn("error closing browser session", "error", err)
			}
		}
		s.log.Info("finished scraping",
			"state", out.State,
			"elapsed", s.elapsed(),
			"error", out.Failure.String())
	}()

	fail := func(f *listing.Failure, err error) Outcome {
		out.Failure = f
		out.RawError = rawError(err)
		s.log.Error("scraping failed", "kind", f.Kind, "error", err, "elapsed", s.elapsed(), "raw_error", out.RawError)
		s.to(StateFailed)
		return out
	}

	if err := ctx.Err(); err != nil {
		return fail(runtimeFailure(err), err)
	}

	s.to(StateLoading)
	var err error
	doc, err = r.factory.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fail(runtimeFailure(err), err)
		}
		return fail(listing.Fail(listing.FailureSessionStartup, "Browser setup/runtime error: %v", err), err)
	}

	s.log.Info("loading page", "browser", r.factory.Name(), "timeout", r.cfg.PageLoadTimeout)
	if err := doc.Navigate(ctx, url, r.cfg.PageLoadTimeout); err != nil {
		if browser.KindOf(err) == browser.FaultTimeout && ctx.Err() == nil {
			return fail(listing.Fail(listing.FailureNavigationTimeout,
				"Timeout occurred during page load or element wait (limit %s): %v", r.cfg.PageLoadTimeout, err), err)
		}
		return fail(runtimeFailure(err), err)
	}
	s.log.Debug("page loaded", "elapsed", s.elapsed())

	if err := settle(ctx, r.cfg.SettleDelay); err != nil {
		return fail(runtimeFailure(err), err)
	}

	s.to(StateDisclosing)
	report, err := r.disclosure.Run(ctx, doc)
	out.Disclosure = report
	if err != nil {
		return fail(runtimeFailure(err), err)
	}
	s.log.Info("disclosure complete",
		"clicks", len(report.Clicks),
		"labels", report.Labels(1),
		"second_clicks", report.Labels(2),
		"skipped", report.Skipped,
		"abandoned", report.Abandoned,
		"elapsed", s.elapsed())

	s.to(StateExtracting)
	sections, err := r.sections.Extract(ctx, doc)
	out.Sections = sections
	if err != nil {
		return fail(runtimeFailure(err), err)
	}

	s.to(StateSucceeded)
	return out
}

func runtimeFailure(err error) *listing.Failure {
	return listing.Fail(listing.FailureSessionRuntime, "Unexpected scraping error: %v", err)
}

// rawError renders the full error chain, one cause per line.
func rawError(err error) string {
	if err == nil {
		return ""
	}
	out := err.Error()
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		out += "\ncaused by: " + cause.Error()
	}
	return out
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
