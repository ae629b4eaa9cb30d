// Package chrome implements browser sessions on top of chromedp.
package chrome

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/pkg/browser"
)

// Factory opens chromedp sessions. In exec mode each session is a fresh
// browser process; in remote mode each session is a new target on an already
// running browser.
type Factory struct {
	cfg         browser.Config
	remote      bool
	allocCtx    context.Context
	cancelAlloc context.CancelFunc

	start func(context.Context) error // nil runs chromedp.Run
}

// NewFactory returns a factory that launches a local Chrome per session.
func NewFactory(cfg browser.Config) (*Factory, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("log-level", "3"),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)

	chromePath := cfg.ChromePath
	if chromePath == "" {
		chromePath = FindChromePath()
	}
	if chromePath != "" {
		opts = append(opts, chromedp.ExecPath(chromePath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	logger.Debug("chrome factory created",
		"headless", cfg.Headless,
		"chrome_path", chromePath,
		"window", fmt.Sprintf("%dx%d", cfg.WindowWidth, cfg.WindowHeight))

	return &Factory{cfg: cfg, allocCtx: allocCtx, cancelAlloc: cancel}, nil
}

// NewRemoteFactory returns a factory that attaches to the browser listening
// at cfg.RemoteURL.
func NewRemoteFactory(cfg browser.Config) (*Factory, error) {
	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("remote browser URL is required: %w", browser.ErrNoBrowser)
	}
	allocCtx, cancel := chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)

	logger.Debug("remote chrome factory created", "url", cfg.RemoteURL)

	return &Factory{cfg: cfg, remote: true, allocCtx: allocCtx, cancelAlloc: cancel}, nil
}

// Open starts a browser session. The browser is started eagerly so that
// startup failures surface here rather than on first navigation.
//
// The first Run allocates the browser under the context it is given, so it
// runs on the tab context itself. ctx only aborts the start.
func (f *Factory) Open(ctx context.Context) (browser.Document, error) {
	tabCtx, cancelTab := chromedp.NewContext(f.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)
	cancel := sync.OnceFunc(cancelTab)

	stop := context.AfterFunc(ctx, cancel)
	if err := f.startBrowser(tabCtx); err != nil {
		stop()
		cancel()
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return nil, fmt.Errorf("start %s browser: %w", f.Name(), err)
	}
	if !stop() {
		cancel()
		return nil, fmt.Errorf("start %s browser: %w", f.Name(), ctx.Err())
	}

	doc := &Document{
		ctx:          tabCtx,
		cancel:       cancel,
		scrollSettle: f.cfg.ScrollSettle,
	}

	// Remote targets share a browser with other tools, so set the user agent
	// per target instead of relying on launch flags.
	if f.remote && f.cfg.UserAgent != "" {
		if err := doc.run(ctx, opTimeout, emulateUserAgent(f.cfg)); err != nil {
			_ = doc.Close()
			return nil, fmt.Errorf("configure remote target: %w", err)
		}
	}

	return doc, nil
}

func (f *Factory) startBrowser(tabCtx context.Context) error {
	if f.start != nil {
		return f.start(tabCtx)
	}
	return chromedp.Run(tabCtx)
}

// Name returns the factory identifier.
func (f *Factory) Name() string {
	if f.remote {
		return "chrome-remote"
	}
	return "chrome"
}

// Close shuts down the allocator and any browser it still owns.
func (f *Factory) Close() error {
	if f.cancelAlloc != nil {
		f.cancelAlloc()
	}
	return nil
}

func emulateUserAgent(cfg browser.Config) chromedp.Action {
	return chromedp.Tasks{
		chromedp.EmulateViewport(int64(cfg.WindowWidth), int64(cfg.WindowHeight)),
		emulation.SetUserAgentOverride(cfg.UserAgent),
	}
}

var _ browser.SessionFactory = (*Factory)(nil)
