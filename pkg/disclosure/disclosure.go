// Package disclosure activates the controls listing pages use to hide
// content: phone number reveal buttons, "show more" expanders and the contact
// buttons that only appear once a section is expanded.
//
// The run has three phases:
//
//  1. Scan reveal and expansion patterns in order and activate every visible,
//     enabled match. Expansion controls are remembered.
//  2. If any expansion control was activated, activate each remembered one a
//     second time. Some sites need two clicks to fully expand.
//  3. Scan the post-expansion patterns.
//
// Missing controls, timeouts, stale references and intercepted clicks are
// expected and only logged. A session fault aborts the run.
package disclosure

import (
	"context"
	"strings"
	"time"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/pkg/browser"
)

// Role says when a pattern is scanned and whether its controls get a second
// activation.
type Role string

const (
	RoleReveal        Role = "reveal"
	RoleExpansion     Role = "expansion"
	RolePostExpansion Role = "post-expansion"
)

// Pattern is one ranked control locator.
type Pattern struct {
	Locator browser.Locator `yaml:"locator" json:"locator"`
	Role    Role            `yaml:"role" json:"role"`
	Label   string          `yaml:"label,omitempty" json:"label,omitempty"`
}

// Name identifies the pattern in logs and reports.
func (p Pattern) Name() string {
	if p.Label != "" {
		return p.Label
	}
	return p.Locator.String()
}

// Config holds the waits and delays of a run.
type Config struct {
	ControlWait        time.Duration // per-attempt wait for a control to appear or become interactive
	SettleDelay        time.Duration // after each first activation
	SecondClickDelay   time.Duration // before the second expansion pass
	SecondClickSettle  time.Duration // after each second activation
	PostExpansionDelay time.Duration // before the post-expansion scan
	StaleRetryDelay    time.Duration // before retrying a stale control
}

// DefaultConfig returns the reference timings.
func DefaultConfig() Config {
	return Config{
		ControlWait:        2 * time.Second,
		SettleDelay:        time.Second,
		SecondClickDelay:   time.Second,
		SecondClickSettle:  time.Second,
		PostExpansionDelay: time.Second,
		StaleRetryDelay:    500 * time.Millisecond,
	}
}

// Click records one successful activation.
type Click struct {
	Label   string `json:"label"`
	Role    Role   `json:"role"`
	Pattern string `json:"pattern"`
	Index   int    `json:"index"`
	Attempt int    `json:"attempt"`
}

// Report summarizes a run.
type Report struct {
	Clicks    []Click `json:"clicks"`
	Skipped   int     `json:"skipped"`   // matched but not visible, enabled or interactive in time
	Abandoned int     `json:"abandoned"` // activation failed after retry
}

// Labels returns the labels of activations with the given attempt number.
func (r Report) Labels(attempt int) []string {
	var out []string
	for _, c := range r.Clicks {
		if c.Attempt == attempt {
			out = append(out, c.Label)
		}
	}
	return out
}

const maxLabelLen = 50

// Controller runs disclosure against documents. It is safe for concurrent
// use; all per-run state lives in Run.
type Controller struct {
	cfg      Config
	patterns []Pattern
}

// New returns a controller for patterns, scanned in the given order within
// each phase.
func New(cfg Config, patterns []Pattern) *Controller {
	return &Controller{cfg: cfg, patterns: append([]Pattern(nil), patterns...)}
}

// Patterns returns a copy of the configured patterns.
func (c *Controller) Patterns() []Pattern {
	return append([]Pattern(nil), c.patterns...)
}

type remembered struct {
	pattern Pattern
	el      browser.Element
}

type run struct {
	*Controller
	doc    browser.Document
	report Report
}

// Run performs all phases on doc. The returned error is always a session
// fault; soft faults only show up in the report counts.
func (c *Controller) Run(ctx context.Context, doc browser.Document) (Report, error) {
	r := &run{Controller: c, doc: doc}

	expanded, err := r.scan(ctx, RoleReveal, RoleExpansion)
	if err != nil {
		return r.report, err
	}

	if len(expanded) > 0 {
		if err := sleep(ctx, c.cfg.SecondClickDelay); err != nil {
			return r.report, err
		}
		logger.Debug("second activation of expansion controls", "count", len(expanded))
		for _, m := range expanded {
			if err := r.doc.WaitPresent(ctx, m.el.Locator, c.cfg.ControlWait); err != nil {
				if !browser.IsSoft(err) {
					return r.report, err
				}
				logger.Debug("expansion control gone before second activation",
					"pattern", m.pattern.Name(), "index", m.el.Index)
				r.report.Abandoned++
				continue
			}
			if _, err := r.activate(ctx, m.pattern, m.el, 2, c.cfg.SecondClickSettle); err != nil {
				return r.report, err
			}
		}
	}

	if c.has(RolePostExpansion) {
		if err := sleep(ctx, c.cfg.PostExpansionDelay); err != nil {
			return r.report, err
		}
		if _, err := r.scan(ctx, RolePostExpansion); err != nil {
			return r.report, err
		}
	}

	return r.report, nil
}

func (c *Controller) has(role Role) bool {
	for _, p := range c.patterns {
		if p.Role == role {
			return true
		}
	}
	return false
}

// scan activates every match of every pattern whose role is in roles and
// returns the activated expansion controls.
func (r *run) scan(ctx context.Context, roles ...Role) ([]remembered, error) {
	var expanded []remembered

	for _, p := range r.patterns {
		if !hasRole(roles, p.Role) {
			continue
		}

		if err := r.doc.WaitPresent(ctx, p.Locator, r.cfg.ControlWait); err != nil {
			if !browser.IsSoft(err) {
				return expanded, err
			}
			continue
		}

		elems, err := r.doc.FindAll(ctx, p.Locator)
		if err != nil {
			if !browser.IsSoft(err) {
				return expanded, err
			}
			logger.Debug("control lookup failed", "pattern", p.Name(), "error", err)
			continue
		}

		for _, el := range elems {
			ok, err := r.activate(ctx, p, el, 1, r.cfg.SettleDelay)
			if err != nil {
				return expanded, err
			}
			if ok && p.Role == RoleExpansion {
				expanded = append(expanded, remembered{pattern: p, el: el})
			}
		}
	}

	return expanded, nil
}

func hasRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// activate clicks one control. It returns false with a nil error when the
// control was skipped or abandoned.
func (r *run) activate(ctx context.Context, p Pattern, el browser.Element, attempt int, settle time.Duration) (bool, error) {
	visible, err := r.doc.Visible(ctx, el)
	if err != nil {
		return false, r.soft(err, p, el, &r.report.Skipped)
	}
	enabled, err := r.doc.Enabled(ctx, el)
	if err != nil {
		return false, r.soft(err, p, el, &r.report.Skipped)
	}
	if !visible || !enabled {
		r.report.Skipped++
		return false, nil
	}

	if err := r.doc.WaitInteractive(ctx, el, r.cfg.ControlWait); err != nil {
		return false, r.soft(err, p, el, &r.report.Skipped)
	}

	label, err := r.label(ctx, el)
	if err != nil {
		return false, err
	}

	if err := r.doc.Activate(ctx, el); err != nil {
		if browser.KindOf(err) != browser.FaultStale {
			return false, r.soft(err, p, el, &r.report.Abandoned)
		}
		logger.Debug("stale control, retrying", "pattern", p.Name(), "index", el.Index)
		if err := sleep(ctx, r.cfg.StaleRetryDelay); err != nil {
			return false, err
		}
		if err := r.doc.Activate(ctx, el); err != nil {
			return false, r.soft(err, p, el, &r.report.Abandoned)
		}
	}

	r.report.Clicks = append(r.report.Clicks, Click{
		Label:   label,
		Role:    p.Role,
		Pattern: p.Name(),
		Index:   el.Index,
		Attempt: attempt,
	})
	logger.Debug("activated control",
		"label", label,
		"pattern", p.Name(),
		"role", p.Role,
		"index", el.Index,
		"attempt", attempt)

	return true, sleep(ctx, settle)
}

// label reads the control text for the report, retrying once on a stale
// reference. A label that cannot be read is replaced by a placeholder.
func (r *run) label(ctx context.Context, el browser.Element) (string, error) {
	text, err := r.doc.Text(ctx, el)
	if err == nil {
		return Label(text), nil
	}
	if !browser.IsSoft(err) {
		return "", err
	}
	if browser.KindOf(err) != browser.FaultStale {
		return "(error getting text)", nil
	}
	if err := sleep(ctx, r.cfg.StaleRetryDelay); err != nil {
		return "", err
	}
	text, err = r.doc.Text(ctx, el)
	if err != nil {
		if !browser.IsSoft(err) {
			return "", err
		}
		return "(stale element)", nil
	}
	return Label(text), nil
}

// soft counts a discarded soft fault and passes session faults through.
func (r *run) soft(err error, p Pattern, el browser.Element, counter *int) error {
	if !browser.IsSoft(err) {
		return err
	}
	*counter++
	logger.Debug("control not activated",
		"pattern", p.Name(),
		"index", el.Index,
		"kind", browser.KindOf(err),
		"error", err)
	return nil
}

// Label normalizes control text for logs: trimmed, newlines flattened to
// spaces, at most 50 characters.
func Label(text string) string {
	s := strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	if rs := []rune(s); len(rs) > maxLabelLen {
		s = string(rs[:maxLabelLen])
	}
	return s
}

// sleep waits for d or until ctx is done, in which case it returns a session
// fault.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return browser.NewFault(ctx, browser.FaultSession, "sleep", err)
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return browser.NewFault(ctx, browser.FaultSession, "sleep", ctx.Err())
	case <-t.C:
		return nil
	}
}
