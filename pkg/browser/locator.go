package browser

import (
	"fmt"
	"strings"
)

// Strategy selects the query language of a Locator.
type Strategy string

const (
	ByCSS   Strategy = "css"
	ByXPath Strategy = "xpath"
)

// Locator is a query for page elements.
type Locator struct {
	Strategy Strategy `yaml:"strategy" json:"strategy"`
	Expr     string   `yaml:"expr" json:"expr"`
}

// CSS returns a CSS selector locator.
func CSS(expr string) Locator {
	return Locator{Strategy: ByCSS, Expr: expr}
}

// XPath returns an XPath locator.
func XPath(expr string) Locator {
	return Locator{Strategy: ByXPath, Expr: expr}
}

const (
	upperAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerAlphabet = "abcdefghijklmnopqrstuvwxyz"
)

// TextContains returns an XPath locator matching tag elements whose text
// content contains text, ignoring ASCII case. XPath 1.0 has no lower-case(),
// so the comparison folds with translate().
func TextContains(tag, text string) Locator {
	if tag == "" {
		tag = "*"
	}
	return XPath(fmt.Sprintf("//%s[contains(translate(., '%s', '%s'), %s)]",
		tag, upperAlphabet, lowerAlphabet, xpathLiteral(strings.ToLower(text))))
}

// Nth returns an XPath expression addressing the i-th (zero based) match of
// an XPath locator, in the (expr)[n] form used to re-find a control.
func (l Locator) Nth(i int) string {
	return fmt.Sprintf("(%s)[%d]", l.Expr, i+1)
}

func (l Locator) String() string {
	return string(l.Strategy) + "=" + l.Expr
}

// xpathLiteral quotes s as an XPath 1.0 string literal. Strings holding both
// quote kinds are built with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
