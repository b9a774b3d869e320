// Package tesco extracts price observations from Tesco product pages.
//
// Tesco promotions need two extra rules: a "£X Clubcard Price" offer
// overrides the headline price, and a "N for £X Clubcard Price" offer
// both replaces the stored promotion text and feeds the multibuy
// normalizer.
package tesco

import (
	"context"
	"errors"
	"regexp"
	"time"

	"supermarket-scanner/models"
	"supermarket-scanner/scraper"
	"supermarket-scanner/services"

	"github.com/rs/zerolog"
)

const (
	renderMarker        = "div.footer__copyright"
	availabilityMessage = "Sorry, this product is currently unavailable"

	infoSelector  = "div.product-info-message"
	priceSelector = "div.price-control-wrapper span.value"
	promoSelector = ".product-promotion span.offer-text"
	photoSelector = ".product-image--wrapper > span > div > div > img"
)

var (
	priceRegex            = regexp.MustCompile(`\d+\.\d+`)
	clubcardPriceRegex    = regexp.MustCompile(`£(\d+\.\d+) Clubcard Price`)
	clubcardMultibuyRegex = regexp.MustCompile(`(\d+ for £\d+(\.\d+)?) Clubcard Price`)
)

// ErrUnavailable signals a product page that renders but carries no
// purchasable offer.
var ErrUnavailable = errors.New("product is currently unavailable")

// Extractor reads Tesco product pages.
type Extractor struct {
	timeout time.Duration
	retries int
	logger  zerolog.Logger
}

// New returns a new Tesco extractor.
func New(timeout time.Duration, retries int, logger zerolog.Logger) *Extractor {
	return &Extractor{timeout: timeout, retries: retries, logger: logger}
}

// Market returns the market name.
func (e *Extractor) Market() string {
	return models.MarketTesco
}

// FetchObservation navigates to the product page and extracts price,
// promotion text and photo, applying the Clubcard sub-patterns.
func (e *Extractor) FetchObservation(ctx context.Context, productURL string) (*models.RawObservation, error) {
	if err := scraper.Navigate(ctx, productURL, renderMarker, e.timeout, e.retries, e.logger); err != nil {
		return nil, err
	}

	// Tesco keeps the page layout for delisted products and swaps the
	// price block for an info message.
	if info, err := scraper.TextContent(ctx, infoSelector); err == nil && info == availabilityMessage {
		return nil, ErrUnavailable
	}

	priceText, err := scraper.TextContent(ctx, priceSelector)
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

	price, promoText, multibuy := applyClubcard(price, promoText)

	photo, err := scraper.Attribute(ctx, photoSelector, "src")
	if err != nil {
		e.logger.Debug().Err(err).Str("url", productURL).Msg("can't read photo url")
		photo = ""
	}

	return &models.RawObservation{
		Price:         price,
		Comment:       promoText,
		MultibuyPrice: multibuy,
		Photo:         photo,
	}, nil
}

// applyClubcard applies the loyalty promotion sub-patterns: a Clubcard
// price replaces the headline price, and a Clubcard multibuy offer
// replaces the stored promotion text before multibuy normalization.
func applyClubcard(price, promoText string) (string, string, *string) {
	if match := clubcardPriceRegex.FindStringSubmatch(promoText); match != nil {
		price = match[1]
	}

	if match := clubcardMultibuyRegex.FindStringSubmatch(promoText); match != nil {
		return price, match[1], services.MultibuyUnitPrice(match[1])
	}
	return price, promoText, services.MultibuyUnitPrice(promoText)
}
