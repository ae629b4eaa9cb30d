package chrome

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// navigateEager starts a navigation and returns once the new document has
// fired DOMContentLoaded. Images, stylesheets and the load event are not
// waited for.
func navigateEager(url string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()

		w := newLoaderWatch()
		chromedp.ListenTarget(lctx, w.observe)

		_, loaderID, errText, _, err := page.Navigate(url).Do(ctx)
		switch {
		case err != nil:
			return err
		case errText != "":
			return fmt.Errorf("page load error %s", errText)
		}
		return w.wait(ctx, loaderID)
	})
}

// loaderWatch records which loaders reached DOMContentLoaded. Events can
// arrive before Page.navigate returns the loader id, so they are kept.
type loaderWatch struct {
	mu     sync.Mutex
	loaded map[cdp.LoaderID]bool
	signal chan struct{}
}

func newLoaderWatch() *loaderWatch {
	return &loaderWatch{
		loaded: make(map[cdp.LoaderID]bool),
		signal: make(chan struct{}, 1),
	}
}

func (w *loaderWatch) observe(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.Name != "DOMContentLoaded" {
		return
	}
	w.mu.Lock()
	w.loaded[e.LoaderID] = true
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// wait blocks until id has loaded. Same-document navigations have no loader
// and return at once.
func (w *loaderWatch) wait(ctx context.Context, id cdp.LoaderID) error {
	if id == "" {
		return nil
	}
	for {
		w.mu.Lock()
		done := w.loaded[id]
		w.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.signal:
		}
	}
}
