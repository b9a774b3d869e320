// Package asda extracts price observations from Asda product pages.
package asda

import (
	"context"
	"regexp"
	"time"

	"supermarket-scanner/models"
	"supermarket-scanner/scraper"
	"supermarket-scanner/services"

	"github.com/rs/zerolog"
)

const (
	priceMarker   = ".pdp-main-details__price-container strong.co-product__price"
	promoSelector = "div.pdp-main-details__promo-cntr span.co-product__promo-text"
	photoSelector = ".product-detail-page__zoomed-image--selected picture.asda-image img.asda-image-zoom__small-image"
)

var priceRegex = regexp.MustCompile(`\d+\.\d+`)

// Extractor reads Asda product pages.
type Extractor struct {
	timeout time.Duration
	retries int
	logger  zerolog.Logger
}

// New returns a new Asda extractor.
func New(timeout time.Duration, retries int, logger zerolog.Logger) *Extractor {
	return &Extractor{timeout: timeout, retries: retries, logger: logger}
}

// Market returns the market name.
func (e *Extractor) Market() string {
	return models.MarketAsda
}

// FetchObservation navigates to the product page and extracts price,
// promotion text and photo. A missing price is a hard error; a missing
// promotion or photo is tolerated as "".
func (e *Extractor) FetchObservation(ctx context.Context, productURL string) (*models.RawObservation, error) {
	if err := scraper.Navigate(ctx, productURL, priceMarker, e.timeout, e.retries, e.logger); err != nil {
		return nil, err
	}

	priceText, err := scraper.TextContent(ctx, priceMarker)
	if err != nil {
		return nil, err
	}
	price := priceRegex.FindString(priceText)
	if price == "" {
		return nil, scraper.ErrNoPriceTag
	}

	promoText, err := scraper.TextContent(ctx, promoSelector)
	if err != nil {
		e.logger.Debug().Err(err).Str("url", productURL).Msg("can't read promotion text")
		promoText = ""
	}

	photo, err := scraper.Attribute(ctx, photoSelector, "src")
	if err != nil {
		e.logger.Debug().Err(err).Str("url", productURL).Msg("can't read photo url")
		photo = ""
	}

	return &models.RawObservation{
		Price:         price,
		Comment:       promoText,
		MultibuyPrice: services.MultibuyUnitPrice(promoText),
		Photo:         photo,
	}, nil
}
