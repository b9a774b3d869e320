package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// Navigate loads productURL in the shared tab and waits for the
// market's render marker to become visible. Each attempt runs under the
// navigation timeout; exhausting the retries is a hard error for the
// (product, market) pair only.
func Navigate(ctx context.Context, productURL, marker string, timeout time.Duration, retries int, logger zerolog.Logger) error {
	err := RetryWithBackoff(retries, logger, func() error {
		navCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return chromedp.Run(navCtx,
			chromedp.Navigate(productURL),
			chromedp.WaitVisible(marker, chromedp.ByQuery),
		)
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", productURL, err)
	}
	return nil
}

// TextContent returns the trimmed text of the first node matching sel,
// or "" when the node is absent.
func TextContent(ctx context.Context, sel string) (string, error) {
	var out string
	script := fmt.Sprintf(`
		(function() {
			var el = document.querySelector(%q);
			return el && el.textContent ? el.textContent.trim() : '';
		})()
	`, sel)
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return "", fmt.Errorf("can't read text of %q: %w", sel, err)
	}
	return out, nil
}

// Attribute returns attribute attr of the first node matching sel, or
// "" when the node or attribute is absent.
func Attribute(ctx context.Context, sel, attr string) (string, error) {
	var out string
	script := fmt.Sprintf(`
		(function() {
			var el = document.querySelector(%q);
			return el ? (el.getAttribute(%q) || '') : '';
		})()
	`, sel, attr)
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return "", fmt.Errorf("can't read attribute %q of %q: %w", attr, sel, err)
	}
	return out, nil
}
