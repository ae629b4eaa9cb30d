// Package browsertest provides a scripted in-memory browser.Document and
// SessionFactory for tests.
package browsertest

import (
	"context"
	"sync"
	"time"

	"github.com/jmylchreest/listinglens/pkg/browser"
)

// Node is one scripted element.
type Node struct {
	Text     string
	HTML     string
	Hidden   bool
	Disabled bool

	// StaleReads makes the next n Text calls report a stale reference.
	StaleReads int
	// StaleClicks makes the next n Activate calls report a stale reference.
	StaleClicks int
	// Intercept makes every Activate call report an intercepted click.
	Intercept bool
	// OnActivate runs after a successful activation, typically to reveal
	// more nodes.
	OnActivate func(d *Doc)
}

// Doc is a scripted browser.Document. Nodes are keyed by Locator.String().
type Doc struct {
	mu sync.Mutex

	nodes map[string][]*Node

	// NavigateErr is returned by Navigate.
	NavigateErr error
	// SessionErr, when set, is returned by every call after navigation.
	SessionErr error
	// Panic makes Navigate panic with this value.
	Panic any
	// OnNavigate runs at the start of Navigate, typically to populate nodes
	// for the requested url. Its error is returned from Navigate.
	OnNavigate func(d *Doc, url string) error
	// CloseErr is returned by Close.
	CloseErr error

	Navigated   []string
	Activations []Activation
	Waits       []string
	closed      int
}

// Activation records a successful Activate call.
type Activation struct {
	Locator browser.Locator
	Index   int
	Text    string
}

// NewDoc returns an empty document.
func NewDoc() *Doc {
	return &Doc{nodes: make(map[string][]*Node)}
}

// Set replaces the nodes matched by loc.
func (d *Doc) Set(loc browser.Locator, nodes ...*Node) *Doc {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[loc.String()] = nodes
	return d
}

// Add appends nodes matched by loc.
func (d *Doc) Add(loc browser.Locator, nodes ...*Node) *Doc {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[loc.String()] = append(d.nodes[loc.String()], nodes...)
	return d
}

// Remove drops every node matched by loc.
func (d *Doc) Remove(loc browser.Locator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.nodes, loc.String())
}

// Closed reports how many times Close was called.
func (d *Doc) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Doc) node(ctx context.Context, op string, el browser.Element) (*Node, error) {
	if err := d.check(ctx, op); err != nil {
		return nil, err
	}
	ns := d.nodes[el.Locator.String()]
	if el.Index >= len(ns) {
		return nil, browser.NewFault(ctx, browser.FaultStale, op, browser.ErrStale)
	}
	return ns[el.Index], nil
}

func (d *Doc) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return browser.NewFault(ctx, browser.FaultSession, op, err)
	}
	if d.SessionErr != nil {
		return &browser.Fault{Kind: browser.FaultSession, Op: op, Err: d.SessionErr}
	}
	return nil
}

func (d *Doc) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if d.Panic != nil {
		panic(d.Panic)
	}
	d.mu.Lock()
	d.Navigated = append(d.Navigated, url)
	d.mu.Unlock()
	if d.OnNavigate != nil {
		if err := d.OnNavigate(d, url); err != nil {
			return err
		}
	}
	if d.NavigateErr != nil {
		return d.NavigateErr
	}
	if err := ctx.Err(); err != nil {
		return browser.NewFault(ctx, browser.FaultSession, "navigate", err)
	}
	return nil
}

func (d *Doc) WaitPresent(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Waits = append(d.Waits, loc.String())
	if err := d.check(ctx, "wait present"); err != nil {
		return err
	}
	if len(d.nodes[loc.String()]) == 0 {
		return browser.NewFault(ctx, browser.FaultTimeout, "wait present", context.DeadlineExceeded)
	}
	return nil
}

func (d *Doc) WaitInteractive(ctx context.Context, el browser.Element, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ctx, "wait interactive", el)
	if err != nil {
		return err
	}
	if n.Hidden || n.Disabled {
		return browser.NewFault(ctx, browser.FaultTimeout, "wait interactive", context.DeadlineExceeded)
	}
	return nil
}

func (d *Doc) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx, "find"); err != nil {
		return nil, err
	}
	elems := make([]browser.Element, len(d.nodes[loc.String()]))
	for i := range elems {
		elems[i] = browser.Element{Locator: loc, Index: i}
	}
	return elems, nil
}

func (d *Doc) Text(ctx context.Context, el browser.Element) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ctx, "text", el)
	if err != nil {
		return "", err
	}
	if n.StaleReads > 0 {
		n.StaleReads--
		return "", browser.NewFault(ctx, browser.FaultStale, "text", browser.ErrStale)
	}
	return n.Text, nil
}

func (d *Doc) Attribute(ctx context.Context, el browser.Element, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ctx, "attribute", el)
	if err != nil {
		return "", err
	}
	if name == "outerHTML" {
		return n.HTML, nil
	}
	return "", browser.NewFault(ctx, browser.FaultNotFound, "attribute", nil)
}

func (d *Doc) OuterHTML(ctx context.Context, el browser.Element) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ctx, "outer html", el)
	if err != nil {
		return "", err
	}
	return n.HTML, nil
}

func (d *Doc) Visible(ctx context.Context, el browser.Element) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ctx, "visible", el)
	if err != nil {
		return false, err
	}
	return !n.Hidden, nil
}

func (d *Doc) Enabled(ctx context.Context, el browser.Element) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ctx, "enabled", el)
	if err != nil {
		return false, err
	}
	return !n.Disabled, nil
}

func (d *Doc) Activate(ctx context.Context, el browser.Element) error {
	d.mu.Lock()
	n, err := d.node(ctx, "activate", el)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if n.Intercept {
		d.mu.Unlock()
		return browser.NewFault(ctx, browser.FaultIntercepted, "activate", nil)
	}
	if n.StaleClicks > 0 {
		n.StaleClicks--
		d.mu.Unlock()
		return browser.NewFault(ctx, browser.FaultStale, "activate", browser.ErrStale)
	}
	d.Activations = append(d.Activations, Activation{Locator: el.Locator, Index: el.Index, Text: n.Text})
	hook := n.OnActivate
	d.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	return nil
}

func (d *Doc) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return d.CloseErr
}

// Factory hands out documents built by New, one per Open call.
type Factory struct {
	New     func(n int) *Doc
	OpenErr error

	mu     sync.Mutex
	opened []*Doc
}

func (f *Factory) Open(ctx context.Context) (browser.Document, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var d *Doc
	if f.New != nil {
		d = f.New(len(f.opened))
	} else {
		d = NewDoc()
	}
	f.opened = append(f.opened, d)
	return d, nil
}

func (f *Factory) Name() string { return "browsertest" }

func (f *Factory) Close() error { return nil }

// Opened returns every document handed out so far.
func (f *Factory) Opened() []*Doc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Doc(nil), f.opened...)
}

var (
	_ browser.Document       = (*Doc)(nil)
	_ browser.SessionFactory = (*Factory)(nil)
)
