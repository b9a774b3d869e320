package storage

import (
	"context"

	"supermarket-scanner/models"
)

// Store is the persistence boundary used by the scan orchestrator and
// the read API.
type Store interface {
	// CreateTables sets up all tables and indexes, idempotently.
	CreateTables(ctx context.Context) error

	// AppendPriceRecord appends one price history row. It fails when the
	// write reports anything other than exactly one affected row.
	AppendPriceRecord(ctx context.Context, market, productName, price string, multibuyPrice *string, comment string) error
	// LatestPriceRecord returns the most recent record for the pair, or
	// nil when none exists.
	LatestPriceRecord(ctx context.Context, market, productName string) (*models.PriceRecord, error)

	// UpsertProductMetadata inserts on first sighting and updates only
	// when at least one tracked attribute differs from the stored row.
	UpsertProductMetadata(ctx context.Context, meta models.ProductMetadata) error

	// ClearPriceTags empties the snapshot table; called once at scan start.
	ClearPriceTags(ctx context.Context) error
	// WritePriceTag inserts one snapshot row; called once per product.
	WritePriceTag(ctx context.Context, tag models.PriceTag) error
	// ListPriceTags returns all current snapshot rows.
	ListPriceTags(ctx context.Context) ([]models.PriceTag, error)

	// StartScanRun and FinishScanRun bracket one catalog pass.
	StartScanRun(ctx context.Context) (*models.ScanRun, error)
	FinishScanRun(ctx context.Context, run *models.ScanRun) error

	Close() error
}
