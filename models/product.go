package models

import "time"

// Market names of the supported retailers, in scan order.
const (
	MarketAsda  = "asda"
	MarketTesco = "tesco"
)

// Product is one catalog row. It is loaded once per scan and never
// mutated while the scan runs.
type Product struct {
	Skip     bool
	Group    string
	Name     string
	Quantity string
	Volume   string
	Weight   string
	AsdaURL  string
	TescoURL string
}

// MarketURL returns the product page URL for the given market,
// or "" when the market is not configured for this product.
func (p Product) MarketURL(market string) string {
	switch market {
	case MarketAsda:
		return p.AsdaURL
	case MarketTesco:
		return p.TescoURL
	}
	return ""
}

// RawObservation is the result of one extractor visit to a product page.
// It is never persisted directly; it feeds the freshness gate and the
// product's price tag row.
type RawObservation struct {
	Price         string // decimal string, e.g. "1.50"
	Comment       string // promotional text, "" when absent
	MultibuyPrice *string
	Photo         string
}

// PriceRecord is one append-only price history row.
type PriceRecord struct {
	ID            int64
	Market        string
	ProductName   string
	Price         string
	MultibuyPrice *string
	Comment       string
	Timestamp     time.Time
}

// ProductMetadata is the upsertable per-product attribute row.
type ProductMetadata struct {
	Name     string
	Group    string
	Quantity string
	Volume   string
	Weight   string
	Photo    string
}

// PriceTag is the current cross-market snapshot row for one product.
// One explicit field per market attribute; markets that were not
// scanned (or failed) leave their price fields nil.
type PriceTag struct {
	PhotoURL string `json:"photo_url"`
	Group    string `json:"product_group"`
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Volume   string `json:"volume"`
	Weight   string `json:"weight"`

	AsdaURL           string  `json:"asda_url"`
	AsdaPrice         *string `json:"asda_price"`
	AsdaMultibuyPrice *string `json:"asda_multibuy_price"`
	AsdaComment       *string `json:"asda_comment"`

	TescoURL           string  `json:"tesco_url"`
	TescoPrice         *string `json:"tesco_price"`
	TescoMultibuyPrice *string `json:"tesco_multibuy_price"`
	TescoComment       *string `json:"tesco_comment"`
}

// ScanRun records one catalog pass, finished on both success and
// failure paths so a partial snapshot is distinguishable from a
// completed one.
type ScanRun struct {
	ID              int64
	StartedAt       time.Time
	FinishedAt      *time.Time
	Success         *bool
	ProductsScanned int
	RecordsWritten  int
}
