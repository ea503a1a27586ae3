package browser

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Session helpers wrap the chromedp primitives the scrapers need. They all
// take the task context handed to a Pool task.

// Navigate loads the URL and waits for the document body to be ready.
func Navigate(ctx context.Context, url string) error {
	return chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Fill waits for the input to appear, clears it, and types the value.
func Fill(ctx context.Context, selector, value string) error {
	return chromedp.Run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// Click waits for the element to appear and clicks it.
func Click(ctx context.Context, selector string) error {
	return chromedp.Run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

// WaitVisible reports whether the selector became visible within the
// timeout. A miss is data, not an error, so scrapers can probe selectors.
func WaitVisible(ctx context.Context, selector string, timeout time.Duration) bool {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	return err == nil
}

// Settle gives client-side rendering a moment to finish after an action.
func Settle(ctx context.Context, d time.Duration) error {
	return chromedp.Run(ctx, chromedp.Sleep(d))
}

// Text returns the trimmed text content of the first element matching the
// selector. ok is false when no element matched.
func Text(ctx context.Context, selector string) (string, bool) {
	script := `(() => {
		const el = document.querySelector(` + jsString(selector) + `);
		return el === null ? null : el.textContent;
	})()`
	var out *string
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return "", false
	}
	if out == nil {
		return "", false
	}
	return strings.TrimSpace(*out), true
}

// TextOr returns the element's trimmed text or the fallback when missing.
func TextOr(ctx context.Context, selector, fallback string) string {
	if text, ok := Text(ctx, selector); ok && text != "" {
		return text
	}
	return fallback
}

// Texts returns the trimmed, non-empty text contents of all elements
// matching the selector, in document order.
func Texts(ctx context.Context, selector string) []string {
	script := `(() =>
		Array.from(document.querySelectorAll(` + jsString(selector) + `))
			.map(el => el.textContent.trim())
			.filter(t => t.length > 0)
	)()`
	var out []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return nil
	}
	return out
}

// TextsWithin returns, for each element matching rowSelector, the trimmed
// texts of its children matching the given cell selectors. Rows where every
// cell is empty are dropped.
func TextsWithin(ctx context.Context, rowSelector string, cellSelectors ...string) [][]string {
	cells := make([]string, 0, len(cellSelectors))
	for _, s := range cellSelectors {
		cells = append(cells, jsString(s))
	}
	script := `(() =>
		Array.from(document.querySelectorAll(` + jsString(rowSelector) + `))
			.map(row => [` + strings.Join(cells, ", ") + `].map(sel => {
				const el = row.querySelector(sel);
				return el === null ? "" : el.textContent.trim();
			}))
			.filter(cols => cols.some(c => c.length > 0))
	)()`
	var out [][]string
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return nil
	}
	return out
}

// jsString quotes a selector for safe embedding in an Evaluate script.
func jsString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
