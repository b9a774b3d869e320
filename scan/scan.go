// Package scan drives one full catalog pass: for every product and
// every configured market it fetches an observation through the shared
// browser session, applies the freshness gate, and assembles the
// product's price tag row, audit log line and metadata upsert.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"supermarket-scanner/catalog"
	"supermarket-scanner/config"
	"supermarket-scanner/models"
	"supermarket-scanner/scraper"
	"supermarket-scanner/scraper/asda"
	"supermarket-scanner/scraper/tesco"
	"supermarket-scanner/services"
	"supermarket-scanner/storage"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

// ErrScanRunning is returned when a scan is requested while a previous
// one has not finished. The trigger is expected to skip, not queue.
var ErrScanRunning = errors.New("scan already running")

// Gate decides whether a fetched observation needs a new history row.
// A non-nil record means the stored one is still fresh.
type Gate interface {
	Check(ctx context.Context, market, productName, price string, multibuyPrice *string, comment string) (*models.PriceRecord, error)
}

// AuditLogger receives one row per processed product.
type AuditLogger interface {
	Append(tag models.PriceTag) error
	Close() error
}

// CatalogFunc loads the product catalog.
type CatalogFunc func() ([]models.Product, error)

// SessionFunc launches the shared browser session.
type SessionFunc func() (context.Context, context.CancelFunc, error)

// AuditLogFunc opens the per-run audit log.
type AuditLogFunc func(startedAt time.Time) (AuditLogger, error)

// Option is custom configuration of Scanner.
type Option func(s *Scanner)

// WithClock replaces the scanner's wall clock.
func WithClock(clock services.Clock) Option {
	return func(s *Scanner) {
		s.clock = clock
	}
}

// Scanner runs catalog passes. One browser session, one tab, one
// storage handle, product by product and market by market; nothing
// inside a scan runs concurrently.
type Scanner struct {
	store       storage.Store
	gate        Gate
	extractors  []scraper.Extractor
	loadCatalog CatalogFunc
	newSession  SessionFunc
	newAuditLog AuditLogFunc
	limiter     *rate.Limiter
	clock       services.Clock
	logger      zerolog.Logger
	running     atomic.Bool
}

// NewScanner wires a Scanner from its parts.
func NewScanner(
	store storage.Store,
	gate Gate,
	extractors []scraper.Extractor,
	loadCatalog CatalogFunc,
	newSession SessionFunc,
	newAuditLog AuditLogFunc,
	limiter *rate.Limiter,
	logger zerolog.Logger,
	ops ...Option,
) *Scanner {
	scanner := &Scanner{
		store:       store,
		gate:        gate,
		extractors:  extractors,
		loadCatalog: loadCatalog,
		newSession:  newSession,
		newAuditLog: newAuditLog,
		limiter:     limiter,
		clock:       services.SystemClock{},
		logger:      logger,
	}
	for _, op := range ops {
		op(scanner)
	}
	return scanner
}

// New wires a Scanner against the real browser, catalog file and audit
// log directory from cfg.
func New(cfg *config.Config, store storage.Store, logger zerolog.Logger) *Scanner {
	extractors := []scraper.Extractor{
		asda.New(cfg.NavigationTimeout, cfg.MaxRetries, logger),
		tesco.New(cfg.NavigationTimeout, cfg.MaxRetries, logger),
	}
	return NewScanner(
		store,
		services.NewGate(store, logger),
		extractors,
		func() ([]models.Product, error) {
			return catalog.Load(cfg.CatalogPath, logger)
		},
		func() (context.Context, context.CancelFunc, error) {
			return scraper.NewSession(cfg.UserAgent, cfg.Headless)
		},
		func(startedAt time.Time) (AuditLogger, error) {
			return storage.NewAuditLog(cfg.AuditLogDir, startedAt)
		},
		rate.NewLimiter(rate.Every(cfg.RateLimitDelay), 1),
		logger,
	)
}

// Run executes one full catalog pass. Extraction failures are scoped to
// their (product, market) pair; storage failures abort the scan. The
// scan run row is finalized on success and failure alike.
func (s *Scanner) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrScanRunning
	}
	defer s.running.Store(false)

	browserCtx, closeBrowser, err := s.newSession()
	if err != nil {
		return fmt.Errorf("can't start browser session: %w", err)
	}
	defer closeBrowser()

	products, err := s.loadCatalog()
	if err != nil {
		return fmt.Errorf("can't load catalog: %w", err)
	}

	run, err := s.store.StartScanRun(ctx)
	if err != nil {
		return fmt.Errorf("can't start scan run: %w", err)
	}

	scanErr := s.scan(ctx, browserCtx, run, products)

	run.FinishedAt = lo.ToPtr(s.clock.Now())
	run.Success = lo.ToPtr(scanErr == nil)
	if err := s.store.FinishScanRun(ctx, run); err != nil {
		s.logger.Error().Err(err).Int64("run", run.ID).Msg("can't finish scan run")
		if scanErr == nil {
			scanErr = err
		}
	}
	return scanErr
}

func (s *Scanner) scan(ctx, browserCtx context.Context, run *models.ScanRun, products []models.Product) error {
	audit, err := s.newAuditLog(run.StartedAt)
	if err != nil {
		return fmt.Errorf("can't open audit log: %w", err)
	}
	defer func() {
		if err := audit.Close(); err != nil {
			s.logger.Error().Err(err).Msg("can't close audit log")
		}
	}()

	if err := s.store.ClearPriceTags(ctx); err != nil {
		return err
	}

	for _, product := range products {
		if product.Skip {
			s.logger.Debug().Str("product", product.Name).Msg("product is flagged, skipping")
			continue
		}

		tag, records, err := s.scanProduct(ctx, browserCtx, product)
		if err != nil {
			return err
		}
		run.ProductsScanned++
		run.RecordsWritten += records

		if err := audit.Append(*tag); err != nil {
			return err
		}
	}

	s.logger.Info().
		Int("products", run.ProductsScanned).
		Int("records", run.RecordsWritten).
		Msg("scan complete")
	return nil
}

// scanProduct visits every configured market for one product. Extractor
// errors are logged and leave that market's fields unset; only storage
// errors propagate.
func (s *Scanner) scanProduct(ctx, browserCtx context.Context, product models.Product) (*models.PriceTag, int, error) {
	tag := &models.PriceTag{
		Group:    product.Group,
		Name:     product.Name,
		Quantity: product.Quantity,
		Volume:   product.Volume,
		Weight:   product.Weight,
		AsdaURL:  product.AsdaURL,
		TescoURL: product.TescoURL,
	}

	photo := ""
	records := 0
	for _, extractor := range s.extractors {
		market := extractor.Market()
		productURL := product.MarketURL(market)
		if productURL == "" {
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}

		observation, err := extractor.FetchObservation(browserCtx, productURL)
		if err != nil {
			s.logger.Error().Err(err).
				Str("market", market).
				Str("product", product.Name).
				Msg("unable to read price")
			continue
		}
		s.logger.Info().
			Str("market", market).
			Str("product", product.Name).
			Str("price", observation.Price).
			Str("comment", observation.Comment).
			Msg("observed price")

		existing, err := s.gate.Check(ctx, market, product.Name, observation.Price, observation.MultibuyPrice, observation.Comment)
		if err != nil {
			return nil, 0, err
		}
		if existing == nil {
			if err := s.store.AppendPriceRecord(ctx, market, product.Name, observation.Price, observation.MultibuyPrice, observation.Comment); err != nil {
				return nil, 0, err
			}
			records++
		}

		// First market with a photo wins.
		if photo == "" {
			photo = observation.Photo
		}

		switch market {
		case models.MarketAsda:
			tag.AsdaPrice = lo.ToPtr(observation.Price)
			tag.AsdaMultibuyPrice = observation.MultibuyPrice
			tag.AsdaComment = lo.ToPtr(observation.Comment)
		case models.MarketTesco:
			tag.TescoPrice = lo.ToPtr(observation.Price)
			tag.TescoMultibuyPrice = observation.MultibuyPrice
			tag.TescoComment = lo.ToPtr(observation.Comment)
		}
	}
	tag.PhotoURL = photo

	meta := models.ProductMetadata{
		Name:     product.Name,
		Group:    product.Group,
		Quantity: product.Quantity,
		Volume:   product.Volume,
		Weight:   product.Weight,
		Photo:    photo,
	}
	if err := s.store.UpsertProductMetadata(ctx, meta); err != nil {
		return nil, 0, err
	}
	if err := s.store.WritePriceTag(ctx, *tag); err != nil {
		return nil, 0, err
	}
	return tag, records, nil
}
