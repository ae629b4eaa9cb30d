package cleaner

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultStripSelectors are removed by StripCleaner unless overridden.
var DefaultStripSelectors = []string{"script", "style", "noscript", "svg", "iframe", "link", "meta"}

// StripCleaner removes non-content elements, comments and inline event
// handlers from a fragment, keeping the remaining markup intact.
type StripCleaner struct {
	selectors []string
}

// NewStrip returns a StripCleaner removing selectors, or
// DefaultStripSelectors when none are given.
func NewStrip(selectors ...string) *StripCleaner {
	if len(selectors) == 0 {
		selectors = DefaultStripSelectors
	}
	return &StripCleaner{selectors: selectors}
}

func (c *StripCleaner) Clean(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		// Unparseable markup is passed through untouched.
		return fragment, nil
	}

	doc.Find(strings.Join(c.selectors, ", ")).Remove()

	for _, n := range doc.Nodes {
		removeComments(n)
	}

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			kept := n.Attr[:0]
			for _, a := range n.Attr {
				if !strings.HasPrefix(strings.ToLower(a.Key), "on") {
					kept = append(kept, a)
				}
			}
			n.Attr = kept
		}
	})

	out, err := doc.Find("body").Html()
	if err != nil {
		return fragment, nil
	}
	return strings.TrimSpace(out), nil
}

func (c *StripCleaner) Name() string {
	return "strip"
}

func removeComments(n *html.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		if child.Type == html.CommentNode {
			n.RemoveChild(child)
		} else {
			removeComments(child)
		}
		child = next
	}
}
