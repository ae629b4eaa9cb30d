// Package section collects the outer markup of the page regions that hold
// listing data.
package section

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/pkg/browser"
	"github.com/jmylchreest/listinglens/pkg/cleaner"
)

// Sections maps each attempted selector to the markup of its visible matches
// in document order. Every attempted selector has an entry, possibly empty.
type Sections struct {
	Selectors []string            `json:"selectors"`
	Markup    map[string][]string `json:"markup"`
}

// NewSections returns sections with an empty entry for every selector.
func NewSections(selectors []string) Sections {
	s := Sections{
		Selectors: append([]string(nil), selectors...),
		Markup:    make(map[string][]string, len(selectors)),
	}
	for _, sel := range selectors {
		s.Markup[sel] = []string{}
	}
	return s
}

// Any reports whether at least one selector produced markup.
func (s Sections) Any() bool {
	for _, sel := range s.Selectors {
		if len(s.Markup[sel]) > 0 {
			return true
		}
	}
	return false
}

// Combined joins all markup with blank lines, in selector order.
func (s Sections) Combined() string {
	var parts []string
	for _, sel := range s.Selectors {
		parts = append(parts, s.Markup[sel]...)
	}
	return strings.Join(parts, "\n\n")
}

// Size returns the total markup length in bytes.
func (s Sections) Size() int {
	n := 0
	for _, parts := range s.Markup {
		for _, p := range parts {
			n += len(p)
		}
	}
	return n
}

// Config controls extraction.
type Config struct {
	Wait    time.Duration   // per-selector wait for a first match
	Cleaner cleaner.Cleaner // optional, applied to every collected fragment
}

// DefaultConfig returns the reference extraction wait with no cleaning.
func DefaultConfig() Config {
	return Config{Wait: 10 * time.Second}
}

// Extractor collects sections for a fixed, ordered selector list.
type Extractor struct {
	cfg       Config
	selectors []string
}

// NewExtractor returns an extractor for CSS selectors.
func NewExtractor(cfg Config, selectors []string) *Extractor {
	if cfg.Cleaner == nil {
		cfg.Cleaner = cleaner.NewNoop()
	}
	return &Extractor{cfg: cfg, selectors: append([]string(nil), selectors...)}
}

// Selectors returns a copy of the configured selectors.
func (e *Extractor) Selectors() []string {
	return append([]string(nil), e.selectors...)
}

// Extract collects markup for every selector. Selector failures are
// independent and only logged; the returned error is always a session fault,
// in which case the sections gathered so far are returned with it.
func (e *Extractor) Extract(ctx context.Context, doc browser.Document) (Sections, error) {
	out := NewSections(e.selectors)

	for _, sel := range e.selectors {
		start := time.Now()
		parts, err := e.collect(ctx, doc, sel)
		if err != nil {
			if !browser.IsSoft(err) {
				return out, err
			}
			logger.Debug("no content for selector",
				"selector", sel,
				"kind", browser.KindOf(err),
				"duration", time.Since(start).Round(time.Millisecond))
			continue
		}
		out.Markup[sel] = parts
		logger.Debug("collected selector",
			"selector", sel,
			"elements", len(parts),
			"preview", cleaner.Preview(cleaner.Text(strings.Join(parts, " ")), 80),
			"duration", time.Since(start).Round(time.Millisecond))
	}

	if !out.Any() {
		logger.Warn("no markup extracted from any selector", "selectors", len(e.selectors))
	} else {
		logger.Debug("extracted sections", "size", humanize.Bytes(uint64(out.Size())))
	}
	return out, nil
}

func (e *Extractor) collect(ctx context.Context, doc browser.Document, sel string) ([]string, error) {
	loc := browser.CSS(sel)
	if err := doc.WaitPresent(ctx, loc, e.cfg.Wait); err != nil {
		return nil, err
	}
	elems, err := doc.FindAll(ctx, loc)
	if err != nil {
		return nil, err
	}

	parts := []string{}
	for _, el := range elems {
		visible, err := doc.Visible(ctx, el)
		if err != nil {
			if !browser.IsSoft(err) {
				return parts, err
			}
			logger.Debug("skipping element", "selector", sel, "index", el.Index, "kind", browser.KindOf(err))
			continue
		}
		if !visible {
			logger.Debug("skipping hidden element", "selector", sel, "index", el.Index)
			continue
		}

		markup, err := doc.OuterHTML(ctx, el)
		if err != nil {
			if !browser.IsSoft(err) {
				return parts, err
			}
			logger.Debug("skipping element", "selector", sel, "index", el.Index, "kind", browser.KindOf(err))
			continue
		}
		markup = strings.TrimSpace(markup)
		if markup == "" {
			continue
		}

		cleaned, err := e.cfg.Cleaner.Clean(markup)
		if err != nil {
			logger.Warn("cleaner failed, keeping raw markup", "cleaner", e.cfg.Cleaner.Name(), "error", err)
			cleaned = markup
		}
		parts = append(parts, cleaned)
	}
	return parts, nil
}
