package scraper

import (
	"context"
	"errors"
	"fmt"

	"supermarket-scanner/models"

	"github.com/chromedp/chromedp"
)

// ErrNoPriceTag signals a rendered product page with no parseable price.
// Missing prices are never silently defaulted.
var ErrNoPriceTag = errors.New("unable to locate price tag")

// Extractor fetches one raw price observation from a retailer's product
// page. One variant per retailer; each owns all of that retailer's
// markup-specific knowledge, so the orchestrator never branches on
// retailer internals.
type Extractor interface {
	Market() string
	// FetchObservation navigates the shared browser tab (ctx) to
	// productURL and extracts price, promotion text and photo.
	FetchObservation(ctx context.Context, productURL string) (*models.RawObservation, error)
}

// NewSession launches one shared browser with one tab, reused for every
// product page of a scan. The returned context is the tab; cancel tears
// the whole browser down.
func NewSession(userAgent string, headless bool) (context.Context, context.CancelFunc, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("log-level", "3"), // suppress Chrome logs
		chromedp.IgnoreCertErrors,
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(1280, 900),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	cancel := func() {
		cancelCtx()
		cancelAlloc()
	}

	// Start the browser eagerly so a launch failure surfaces before any
	// product work begins.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("can't launch browser: %w", err)
	}
	return ctx, cancel, nil
}
