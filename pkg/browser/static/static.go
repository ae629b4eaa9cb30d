// Package static implements a browser.Document over server rendered HTML.
//
// Pages are fetched with colly and queried with goquery (CSS) or htmlquery
// (XPath). There is no script runtime, so nothing on the page can change
// after load: waits succeed or time out immediately and controls cannot be
// activated.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/dustin/go-humanize"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/pkg/browser"
)

// ErrNoScript is returned by Activate.
var ErrNoScript = errors.New("static documents cannot run scripts")

// Factory opens static documents.
type Factory struct {
	cfg browser.Config
}

func NewFactory(cfg browser.Config) *Factory {
	if cfg.UserAgent == "" {
		cfg.UserAgent = browser.DefaultUserAgent
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = browser.DefaultConfig().RequestTimeout
	}
	return &Factory{cfg: cfg}
}

func (f *Factory) Open(ctx context.Context) (browser.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Document{cfg: f.cfg}, nil
}

func (f *Factory) Name() string { return "static" }

func (f *Factory) Close() error { return nil }

// Document is a parsed HTML page.
type Document struct {
	cfg  browser.Config
	mu   sync.RWMutex
	root *html.Node
	doc  *goquery.Document
}

// Parse builds a document from markup without fetching anything.
func Parse(markup string) (*Document, error) {
	d := &Document{cfg: browser.DefaultConfig()}
	if err := d.load([]byte(markup)); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Document) load(body []byte) error {
	root, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	d.mu.Lock()
	d.root = root
	d.doc = goquery.NewDocumentFromNode(root)
	d.mu.Unlock()
	return nil
}

func (d *Document) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = d.cfg.RequestTimeout
	}

	c := colly.NewCollector(colly.UserAgent(d.cfg.UserAgent))
	c.SetRequestTimeout(timeout)
	c.Context = ctx

	var (
		body     []byte
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		logger.Debug("fetched page",
			"url", url,
			"status", r.StatusCode,
			"size", humanize.Bytes(uint64(len(r.Body))))
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(url); err != nil {
		return d.fetchFault(ctx, err)
	}
	if fetchErr != nil {
		return d.fetchFault(ctx, fetchErr)
	}
	if err := d.load(body); err != nil {
		return &browser.Fault{Kind: browser.FaultSession, Op: "navigate", Err: err}
	}
	return nil
}

func (d *Document) fetchFault(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
		return browser.NewFault(ctx, browser.FaultTimeout, "navigate", err)
	}
	return browser.NewFault(ctx, browser.FaultSession, "navigate", err)
}

// query returns every node matching loc in document order.
func (d *Document) query(loc browser.Locator) ([]*html.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.root == nil {
		return nil, errors.New("no document loaded")
	}
	if loc.Strategy == browser.ByXPath {
		return htmlquery.QueryAll(d.root, loc.Expr)
	}
	return d.doc.Find(loc.Expr).Nodes, nil
}

func (d *Document) resolve(ctx context.Context, op string, el browser.Element) (*html.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, browser.NewFault(ctx, browser.FaultSession, op, err)
	}
	nodes, err := d.query(el.Locator)
	if err != nil {
		return nil, browser.NewFault(ctx, browser.FaultNotFound, op, err)
	}
	if el.Index >= len(nodes) {
		return nil, browser.NewFault(ctx, browser.FaultStale, op, browser.ErrStale)
	}
	return nodes[el.Index], nil
}

func (d *Document) WaitPresent(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	nodes, err := d.query(loc)
	if err != nil {
		return browser.NewFault(ctx, browser.FaultNotFound, "wait present", err)
	}
	if len(nodes) == 0 {
		return browser.NewFault(ctx, browser.FaultTimeout, "wait present "+loc.String(),
			fmt.Errorf("no match within %s", timeout))
	}
	return nil
}

func (d *Document) WaitInteractive(ctx context.Context, el browser.Element, timeout time.Duration) error {
	n, err := d.resolve(ctx, "wait interactive", el)
	if err != nil {
		return err
	}
	if !visible(n) || !enabled(n) {
		return browser.NewFault(ctx, browser.FaultTimeout, "wait interactive",
			fmt.Errorf("element not interactive within %s", timeout))
	}
	return nil
}

func (d *Document) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	nodes, err := d.query(loc)
	if err != nil {
		return nil, browser.NewFault(ctx, browser.FaultNotFound, "find "+loc.String(), err)
	}
	elems := make([]browser.Element, len(nodes))
	for i := range elems {
		elems[i] = browser.Element{Locator: loc, Index: i}
	}
	return elems, nil
}

func (d *Document) Text(ctx context.Context, el browser.Element) (string, error) {
	n, err := d.resolve(ctx, "text", el)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(htmlquery.InnerText(n)), nil
}

func (d *Document) Attribute(ctx context.Context, el browser.Element, name string) (string, error) {
	n, err := d.resolve(ctx, "attribute", el)
	if err != nil {
		return "", err
	}
	if name == "outerHTML" {
		return goquery.OuterHtml(goquery.NewDocumentFromNode(n).Selection)
	}
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, nil
		}
	}
	return "", browser.NewFault(ctx, browser.FaultNotFound, "attribute",
		fmt.Errorf("attribute %q not present", name))
}

func (d *Document) OuterHTML(ctx context.Context, el browser.Element) (string, error) {
	n, err := d.resolve(ctx, "outer html", el)
	if err != nil {
		return "", err
	}
	return htmlquery.OutputHTML(n, true), nil
}

func (d *Document) Visible(ctx context.Context, el browser.Element) (bool, error) {
	n, err := d.resolve(ctx, "visible", el)
	if err != nil {
		return false, err
	}
	return visible(n), nil
}

func (d *Document) Enabled(ctx context.Context, el browser.Element) (bool, error) {
	n, err := d.resolve(ctx, "enabled", el)
	if err != nil {
		return false, err
	}
	return enabled(n), nil
}

func (d *Document) Activate(ctx context.Context, el browser.Element) error {
	if _, err := d.resolve(ctx, "activate", el); err != nil {
		return err
	}
	return browser.NewFault(ctx, browser.FaultIntercepted, "activate", ErrNoScript)
}

func (d *Document) Close() error { return nil }

// visible approximates rendering for markup without a layout engine: an
// element is hidden when it or an ancestor carries the hidden attribute or an
// inline display:none.
func visible(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		for _, a := range p.Attr {
			switch a.Key {
			case "hidden":
				return false
			case "style":
				style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
				if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
					return false
				}
			}
		}
	}
	return true
}

func enabled(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key == "disabled" || (a.Key == "aria-disabled" && a.Val == "true") {
			return false
		}
	}
	return true
}

var (
	_ browser.SessionFactory = (*Factory)(nil)
	_ browser.Document       = (*Document)(nil)
)
