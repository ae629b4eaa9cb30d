package chrome

import (
	"encoding/json"
	"fmt"

	"github.com/jmylchreest/listinglens/pkg/browser"
)

// resolveFn finds the index-th match of a locator in document order, or null.
const resolveFn = `function(strategy, expr, index) {
	if (strategy === "xpath") {
		var r = document.evaluate(expr, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		return index < r.snapshotLength ? r.snapshotItem(index) : null;
	}
	return document.querySelectorAll(expr)[index] || null;
}`

// countFn returns how many elements match a locator.
const countFn = `function(strategy, expr) {
	if (strategy === "xpath") {
		return document.evaluate(expr, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength;
	}
	return document.querySelectorAll(expr).length;
}`

// Element bodies. Each runs with `el` bound to the resolved element and
// returns the value handed back to Go.
const (
	bodyText      = `return (el.innerText || el.textContent || "");`
	bodyOuterHTML = `return el.outerHTML;`
	bodyVisible   = `var s = window.getComputedStyle(el);
		return !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length) &&
			s.visibility !== "hidden" && s.display !== "none";`
	bodyEnabled     = `return !el.disabled && el.getAttribute("aria-disabled") !== "true";`
	bodyInteractive = `var s = window.getComputedStyle(el);
		return !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length) &&
			s.visibility !== "hidden" && s.display !== "none" && !el.disabled;`
	bodyScroll = `el.scrollIntoView({block: "center"}); return true;`
	bodyClick  = `el.click(); return true;`
)

// elementResult is the envelope every element script returns. Found is false
// when the element no longer resolves.
type elementResult struct {
	Found bool            `json:"found"`
	Value json.RawMessage `json:"value"`
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// countScript returns an expression evaluating to the match count of loc.
func countScript(loc browser.Locator) string {
	return fmt.Sprintf("(%s)(%s, %s)", countFn, jsString(string(loc.Strategy)), jsString(loc.Expr))
}

// presentScript returns an expression that is truthy once loc matches.
func presentScript(loc browser.Locator) string {
	return countScript(loc) + " > 0"
}

// elementScript wraps body so it runs against el and reports whether el
// resolved.
func elementScript(el browser.Element, body string) string {
	return fmt.Sprintf(`(function() {
	var el = (%s)(%s, %s, %d);
	if (!el) { return {found: false, value: null}; }
	var value = (function(el) { %s })(el);
	return {found: true, value: value};
})()`, resolveFn, jsString(string(el.Locator.Strategy)), jsString(el.Locator.Expr), el.Index, body)
}

// attributeBody reads an attribute, falling back to the DOM property of the
// same name (outerHTML, value) the way WebDriver's getAttribute does.
func attributeBody(name string) string {
	return fmt.Sprintf(`var n = %s;
	var v = el.getAttribute(n);
	if (v !== null) { return v; }
	if (n in el && el[n] !== null && el[n] !== undefined) { return String(el[n]); }
	return null;`, jsString(name))
}

// waitInteractiveScript is truthy once el resolves, is rendered and is not
// disabled.
func waitInteractiveScript(el browser.Element) string {
	return fmt.Sprintf(`(function() {
	var el = (%s)(%s, %s, %d);
	if (!el) { return false; }
	return (function(el) { %s })(el);
})()`, resolveFn, jsString(string(el.Locator.Strategy)), jsString(el.Locator.Expr), el.Index, bodyInteractive)
}
