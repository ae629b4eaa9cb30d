// Package playwright implements browser sessions on top of playwright-go.
//
// One playwright driver is shared by the factory. Every session launches its
// own Chromium process so sessions never share cookies, storage or a crash.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/pkg/browser"
)

const (
	opTimeout    = 10 * time.Second
	pollInterval = 100 * time.Millisecond
)

// Factory launches Chromium through a playwright driver.
type Factory struct {
	cfg browser.Config
	pw  *playwright.Playwright
}

// NewFactory starts the playwright driver. With cfg.InstallDriver set the
// driver and a matching Chromium are downloaded first.
func NewFactory(cfg browser.Config) (*Factory, error) {
	runOpts := &playwright.RunOptions{Browsers: []string{"chromium"}}
	if cfg.InstallDriver {
		logger.Info("installing playwright driver and chromium")
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", errors.Join(browser.ErrNoBrowser, err))
	}
	return &Factory{cfg: cfg, pw: pw}, nil
}

func (f *Factory) Open(ctx context.Context) (browser.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(f.cfg.Headless),
		Args: []string{
			"--disable-gpu",
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-blink-features=AutomationControlled",
			"--disable-infobars",
			"--disable-extensions",
			"--log-level=3",
		},
	}
	if f.cfg.ChromePath != "" {
		opts.ExecutablePath = playwright.String(f.cfg.ChromePath)
	}

	b, err := f.pw.Chromium.Launch(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  f.cfg.WindowWidth,
			Height: f.cfg.WindowHeight,
		},
	}
	if f.cfg.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(f.cfg.UserAgent)
	}

	bctx, err := b.NewContext(ctxOpts)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &Document{
		browser:      b,
		context:      bctx,
		page:         page,
		scrollSettle: f.cfg.ScrollSettle,
	}, nil
}

func (f *Factory) Name() string { return "playwright" }

func (f *Factory) Close() error {
	if f.pw == nil {
		return nil
	}
	return f.pw.Stop()
}

// Document is a browser.Document backed by a playwright page.
type Document struct {
	browser      playwright.Browser
	context      playwright.BrowserContext
	page         playwright.Page
	scrollSettle time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func selector(loc browser.Locator) string {
	if loc.Strategy == browser.ByXPath {
		return "xpath=" + loc.Expr
	}
	return "css=" + loc.Expr
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

// classify maps a playwright error to a fault kind.
func classify(ctx context.Context, op string, fallback browser.FaultKind, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, playwright.ErrTimeout):
		return browser.NewFault(ctx, browser.FaultTimeout, op, err)
	case errors.Is(err, playwright.ErrTargetClosed):
		return &browser.Fault{Kind: browser.FaultSession, Op: op, Err: err}
	case strings.Contains(err.Error(), "not attached to the DOM"),
		strings.Contains(err.Error(), "Execution context was destroyed"):
		return browser.NewFault(ctx, browser.FaultStale, op, errors.Join(browser.ErrStale, err))
	}
	return browser.NewFault(ctx, fallback, op, err)
}

// resolve returns a playwright locator pinned to el, or a stale fault when
// fewer than el.Index+1 elements match now.
func (d *Document) resolve(ctx context.Context, op string, el browser.Element) (playwright.Locator, error) {
	if err := ctx.Err(); err != nil {
		return nil, browser.NewFault(ctx, browser.FaultSession, op, err)
	}
	loc := d.page.Locator(selector(el.Locator))
	n, err := loc.Count()
	if err != nil {
		return nil, classify(ctx, op, browser.FaultStale, err)
	}
	if el.Index >= n {
		return nil, browser.NewFault(ctx, browser.FaultStale, op, browser.ErrStale)
	}
	return loc.Nth(el.Index), nil
}

func (d *Document) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return browser.NewFault(ctx, browser.FaultSession, "navigate", err)
	}
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   ms(timeout),
	})
	return classify(ctx, "navigate", browser.FaultSession, err)
}

func (d *Document) WaitPresent(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return browser.NewFault(ctx, browser.FaultSession, "wait present", err)
	}
	err := d.page.Locator(selector(loc)).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: ms(timeout),
	})
	return classify(ctx, "wait present "+loc.String(), browser.FaultNotFound, err)
}

func (d *Document) WaitInteractive(ctx context.Context, el browser.Element, timeout time.Duration) error {
	const op = "wait interactive"
	deadline := time.Now().Add(timeout)
	for {
		l, err := d.resolve(ctx, op, el)
		if err == nil {
			visible, verr := l.IsVisible()
			enabled, eerr := l.IsEnabled(playwright.LocatorIsEnabledOptions{Timeout: ms(opTimeout)})
			if verr == nil && eerr == nil && visible && enabled {
				return nil
			}
		} else if browser.KindOf(err) == browser.FaultSession {
			return err
		}

		if time.Now().After(deadline) {
			return browser.NewFault(ctx, browser.FaultTimeout, op,
				fmt.Errorf("element not interactive after %s", timeout))
		}
		select {
		case <-ctx.Done():
			return browser.NewFault(ctx, browser.FaultSession, op, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (d *Document) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, browser.NewFault(ctx, browser.FaultSession, "find", err)
	}
	n, err := d.page.Locator(selector(loc)).Count()
	if err != nil {
		return nil, classify(ctx, "find "+loc.String(), browser.FaultNotFound, err)
	}
	elems := make([]browser.Element, n)
	for i := range elems {
		elems[i] = browser.Element{Locator: loc, Index: i}
	}
	return elems, nil
}

func (d *Document) Text(ctx context.Context, el browser.Element) (string, error) {
	l, err := d.resolve(ctx, "text", el)
	if err != nil {
		return "", err
	}
	s, err := l.InnerText(playwright.LocatorInnerTextOptions{Timeout: ms(opTimeout)})
	return s, classify(ctx, "text", browser.FaultStale, err)
}

const attributeJS = `(el, n) => {
	const v = el.getAttribute(n);
	if (v !== null) return v;
	if (n in el && el[n] !== null && el[n] !== undefined) return String(el[n]);
	return null;
}`

func (d *Document) Attribute(ctx context.Context, el browser.Element, name string) (string, error) {
	l, err := d.resolve(ctx, "attribute", el)
	if err != nil {
		return "", err
	}
	v, err := l.Evaluate(attributeJS, name, playwright.LocatorEvaluateOptions{Timeout: ms(opTimeout)})
	if err != nil {
		return "", classify(ctx, "attribute", browser.FaultStale, err)
	}
	s, ok := v.(string)
	if !ok {
		return "", browser.NewFault(ctx, browser.FaultNotFound, "attribute",
			fmt.Errorf("attribute %q not present", name))
	}
	return s, nil
}

func (d *Document) OuterHTML(ctx context.Context, el browser.Element) (string, error) {
	l, err := d.resolve(ctx, "outer html", el)
	if err != nil {
		return "", err
	}
	v, err := l.Evaluate("el => el.outerHTML", nil, playwright.LocatorEvaluateOptions{Timeout: ms(opTimeout)})
	if err != nil {
		return "", classify(ctx, "outer html", browser.FaultStale, err)
	}
	s, _ := v.(string)
	return s, nil
}

func (d *Document) Visible(ctx context.Context, el browser.Element) (bool, error) {
	l, err := d.resolve(ctx, "visible", el)
	if err != nil {
		return false, err
	}
	v, err := l.IsVisible()
	return v, classify(ctx, "visible", browser.FaultStale, err)
}

func (d *Document) Enabled(ctx context.Context, el browser.Element) (bool, error) {
	l, err := d.resolve(ctx, "enabled", el)
	if err != nil {
		return false, err
	}
	v, err := l.IsEnabled(playwright.LocatorIsEnabledOptions{Timeout: ms(opTimeout)})
	return v, classify(ctx, "enabled", browser.FaultStale, err)
}

func (d *Document) Activate(ctx context.Context, el browser.Element) error {
	l, err := d.resolve(ctx, "activate", el)
	if err != nil {
		return err
	}
	if err := l.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: ms(opTimeout)}); err != nil {
		return classify(ctx, "scroll", browser.FaultStale, err)
	}

	if d.scrollSettle > 0 {
		select {
		case <-ctx.Done():
			return browser.NewFault(ctx, browser.FaultSession, "activate", ctx.Err())
		case <-time.After(d.scrollSettle):
		}
	}

	_, err = l.Evaluate("el => el.click()", nil, playwright.LocatorEvaluateOptions{Timeout: ms(opTimeout)})
	return classify(ctx, "activate", browser.FaultIntercepted, err)
}

func (d *Document) Close() error {
	d.closeOnce.Do(func() {
		if err := d.context.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
			d.closeErr = err
		}
		if err := d.browser.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) && d.closeErr == nil {
			d.closeErr = err
		}
	})
	return d.closeErr
}

var (
	_ browser.SessionFactory = (*Factory)(nil)
	_ browser.Document       = (*Document)(nil)
)
