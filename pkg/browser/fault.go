package browser

import (
	"context"
	"errors"
	"fmt"
)

// FaultKind categorizes a failed browser interaction.
type FaultKind string

const (
	FaultNotFound    FaultKind = "not-found"
	FaultTimeout     FaultKind = "timeout"
	FaultStale       FaultKind = "stale-reference"
	FaultIntercepted FaultKind = "click-intercepted"
	FaultSession     FaultKind = "session"
)

var (
	// ErrStale is wrapped by faults raised when an element no longer resolves.
	ErrStale = errors.New("element is no longer attached to the document")

	// ErrNoBrowser is returned by factories that cannot locate a browser.
	ErrNoBrowser = errors.New("no browser available")
)

// Fault is the error type returned by Document methods.
type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// NewFault builds a fault. A cancelled or expired parent context always
// yields a session fault regardless of kind, since the session is unusable.
func NewFault(ctx context.Context, kind FaultKind, op string, err error) *Fault {
	if ctx != nil && ctx.Err() != nil {
		kind = FaultSession
		if err == nil {
			err = ctx.Err()
		}
	}
	return &Fault{Kind: kind, Op: op, Err: err}
}

// KindOf reports the fault kind carried by err. Errors that are not faults are
// treated as session faults.
func KindOf(err error) FaultKind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return FaultSession
}

// IsSoft reports whether err is an expected per-control or per-selector
// failure that should be logged and skipped.
func IsSoft(err error) bool {
	switch KindOf(err) {
	case FaultNotFound, FaultTimeout, FaultStale, FaultIntercepted:
		return true
	}
	return false
}
