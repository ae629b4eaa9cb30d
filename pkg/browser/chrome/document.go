package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/listinglens/pkg/browser"
)

// opTimeout bounds element operations that have no caller supplied timeout.
const opTimeout = 10 * time.Second

// Document is a browser.Document backed by a chromedp tab.
type Document struct {
	ctx          context.Context
	cancel       context.CancelFunc
	scrollSettle time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// run executes actions on the tab with a per-call deadline. Cancelling ctx
// aborts the call without tearing down the tab.
func (d *Document) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

// classify turns a chromedp error into a fault. Timeouts are reported as
// such, a dead tab or caller is a session fault, anything else gets fallback.
func (d *Document) classify(ctx context.Context, op string, fallback browser.FaultKind, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || d.ctx.Err() != nil {
		if ctx.Err() == nil {
			err = fmt.Errorf("browser session ended: %w", err)
		}
		return &browser.Fault{Kind: browser.FaultSession, Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, chromedp.ErrPollingTimeout) {
		return browser.NewFault(ctx, browser.FaultTimeout, op, err)
	}
	return browser.NewFault(ctx, fallback, op, err)
}

func (d *Document) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	err := d.run(ctx, timeout,
		navigateEager(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	return d.classify(ctx, "navigate", browser.FaultSession, err)
}

func (d *Document) WaitPresent(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	var ok bool
	err := d.run(ctx, timeout+time.Second,
		chromedp.Poll(presentScript(loc), &ok, chromedp.WithPollingTimeout(timeout)),
	)
	return d.classify(ctx, "wait present "+loc.String(), browser.FaultNotFound, err)
}

func (d *Document) WaitInteractive(ctx context.Context, el browser.Element, timeout time.Duration) error {
	var ok bool
	err := d.run(ctx, timeout+time.Second,
		chromedp.Poll(waitInteractiveScript(el), &ok, chromedp.WithPollingTimeout(timeout)),
	)
	return d.classify(ctx, "wait interactive", browser.FaultNotFound, err)
}

func (d *Document) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	var n int
	if err := d.run(ctx, opTimeout, chromedp.Evaluate(countScript(loc), &n)); err != nil {
		return nil, d.classify(ctx, "find "+loc.String(), browser.FaultNotFound, err)
	}
	elems := make([]browser.Element, n)
	for i := range elems {
		elems[i] = browser.Element{Locator: loc, Index: i}
	}
	return elems, nil
}

// eval runs body against el and returns its raw JSON value.
func (d *Document) eval(ctx context.Context, op string, el browser.Element, body string, fallback browser.FaultKind) (json.RawMessage, error) {
	var res elementResult
	if err := d.run(ctx, opTimeout, chromedp.Evaluate(elementScript(el, body), &res)); err != nil {
		return nil, d.classify(ctx, op, fallback, err)
	}
	if !res.Found {
		return nil, browser.NewFault(ctx, browser.FaultStale, op, browser.ErrStale)
	}
	return res.Value, nil
}

func (d *Document) evalString(ctx context.Context, op string, el browser.Element, body string) (string, bool, error) {
	raw, err := d.eval(ctx, op, el, body, browser.FaultStale)
	if err != nil {
		return "", false, err
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, browser.NewFault(ctx, browser.FaultStale, op, err)
	}
	if s == nil {
		return "", false, nil
	}
	return *s, true, nil
}

func (d *Document) evalBool(ctx context.Context, op string, el browser.Element, body string) (bool, error) {
	raw, err := d.eval(ctx, op, el, body, browser.FaultStale)
	if err != nil {
		return false, err
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, browser.NewFault(ctx, browser.FaultStale, op, err)
	}
	return b, nil
}

func (d *Document) Text(ctx context.Context, el browser.Element) (string, error) {
	s, _, err := d.evalString(ctx, "text", el, bodyText)
	return s, err
}

func (d *Document) Attribute(ctx context.Context, el browser.Element, name string) (string, error) {
	s, ok, err := d.evalString(ctx, "attribute", el, attributeBody(name))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", browser.NewFault(ctx, browser.FaultNotFound, "attribute",
			fmt.Errorf("attribute %q not present", name))
	}
	return s, nil
}

func (d *Document) OuterHTML(ctx context.Context, el browser.Element) (string, error) {
	s, _, err := d.evalString(ctx, "outer html", el, bodyOuterHTML)
	return s, err
}

func (d *Document) Visible(ctx context.Context, el browser.Element) (bool, error) {
	return d.evalBool(ctx, "visible", el, bodyVisible)
}

func (d *Document) Enabled(ctx context.Context, el browser.Element) (bool, error) {
	return d.evalBool(ctx, "enabled", el, bodyEnabled)
}

func (d *Document) Activate(ctx context.Context, el browser.Element) error {
	if _, err := d.eval(ctx, "scroll", el, bodyScroll, browser.FaultStale); err != nil {
		return err
	}

	if d.scrollSettle > 0 {
		t := time.NewTimer(d.scrollSettle)
		select {
		case <-ctx.Done():
			t.Stop()
			return browser.NewFault(ctx, browser.FaultSession, "activate", ctx.Err())
		case <-t.C:
		}
	}

	_, err := d.eval(ctx, "activate", el, bodyClick, browser.FaultIntercepted)
	return err
}

// Close shuts the tab and, for locally launched browsers, the browser process.
func (d *Document) Close() error {
	d.closeOnce.Do(func() {
		// Cancel ends the tab context on success.
		if err := chromedp.Cancel(d.ctx); err != nil {
			d.cancel()
			if !errors.Is(err, context.Canceled) {
				d.closeErr = err
			}
		}
	})
	return d.closeErr
}

var _ browser.Document = (*Document)(nil)
