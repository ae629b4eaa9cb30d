// Package browser defines the document handle that the extraction pipeline
// drives, independent of the engine behind it.
//
// Every method that touches a page returns errors of type *Fault, so callers
// can decide per kind whether a failure is expected (a control that never
// appeared) or fatal for the session (the browser went away).
package browser

import (
	"context"
	"time"
)

// Element addresses the Index-th match (zero based, document order) of a
// locator. Elements are re-resolved on every call, so an element that has
// been removed from the page reports a stale-reference fault instead of
// acting on a detached node.
type Element struct {
	Locator Locator
	Index   int
}

// Document is one live page inside an exclusively owned browser session.
type Document interface {
	// Navigate loads url and waits until the document body exists.
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// WaitPresent waits until at least one element matches loc.
	WaitPresent(ctx context.Context, loc Locator, timeout time.Duration) error

	// WaitInteractive waits until el is visible and enabled.
	WaitInteractive(ctx context.Context, el Element, timeout time.Duration) error

	// FindAll returns every current match of loc. No match is not an error.
	FindAll(ctx context.Context, loc Locator) ([]Element, error)

	Text(ctx context.Context, el Element) (string, error)
	Attribute(ctx context.Context, el Element, name string) (string, error)
	OuterHTML(ctx context.Context, el Element) (string, error)
	Visible(ctx context.Context, el Element) (bool, error)
	Enabled(ctx context.Context, el Element) (bool, error)

	// Activate scrolls el into view and clicks it from script, bypassing
	// pointer hit-testing.
	Activate(ctx context.Context, el Element) error

	// Close terminates the session. It is safe to call more than once.
	Close() error
}

// SessionFactory opens isolated browser sessions. Implementations decide how
// the browser binary or driver is acquired.
type SessionFactory interface {
	Open(ctx context.Context) (Document, error)
	Name() string
	Close() error
}
