package cleaner

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Text returns the visible text of an HTML fragment with whitespace
// collapsed to single spaces. Script and style content is dropped.
func Text(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Preview shortens text to at most n runes, marking the cut with "...".
func Preview(text string, n int) string {
	rs := []rune(text)
	if n <= 0 || len(rs) <= n {
		return text
	}
	return string(rs[:n]) + "..."
}
