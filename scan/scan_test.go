package scan_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"supermarket-scanner/models"
	"supermarket-scanner/scan"
	"supermarket-scanner/scraper"
	"supermarket-scanner/services"
	"supermarket-scanner/storage"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type appendCall struct {
	Market        string
	ProductName   string
	Price         string
	MultibuyPrice *string
	Comment       string
}

// storeFake records every write the orchestrator makes.
type storeFake struct {
	mu        sync.Mutex
	latest    map[string]*models.PriceRecord
	cleared   int
	appended  []appendCall
	metadata  []models.ProductMetadata
	tags      []models.PriceTag
	started   int
	finished  []models.ScanRun
	appendErr error
}

var _ storage.Store = (*storeFake)(nil)

func newStoreFake() *storeFake {
	return &storeFake{latest: make(map[string]*models.PriceRecord)}
}

func (f *storeFake) CreateTables(context.Context) error { return nil }

func (f *storeFake) AppendPriceRecord(_ context.Context, market, productName, price string, multibuyPrice *string, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, appendCall{market, productName, price, multibuyPrice, comment})
	return nil
}

func (f *storeFake) LatestPriceRecord(_ context.Context, market, productName string) (*models.PriceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest[market+"/"+productName], nil
}

func (f *storeFake) UpsertProductMetadata(_ context.Context, meta models.ProductMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata = append(f.metadata, meta)
	return nil
}

func (f *storeFake) ClearPriceTags(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *storeFake) WritePriceTag(_ context.Context, tag models.PriceTag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tag)
	return nil
}

func (f *storeFake) ListPriceTags(context.Context) ([]models.PriceTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tags, nil
}

func (f *storeFake) StartScanRun(context.Context) (*models.ScanRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return &models.ScanRun{ID: int64(f.started), StartedAt: time.Now().UTC()}, nil
}

func (f *storeFake) FinishScanRun(_ context.Context, run *models.ScanRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, *run)
	return nil
}

func (f *storeFake) Close() error { return nil }

type extractorFake struct {
	mu     sync.Mutex
	market string
	fetch  func(productURL string) (*models.RawObservation, error)
	calls  []string
}

func (e *extractorFake) Market() string { return e.market }

func (e *extractorFake) FetchObservation(_ context.Context, productURL string) (*models.RawObservation, error) {
	e.mu.Lock()
	e.calls = append(e.calls, productURL)
	e.mu.Unlock()
	return e.fetch(productURL)
}

type auditFake struct {
	rows   []models.PriceTag
	closed bool
}

func (a *auditFake) Append(tag models.PriceTag) error {
	a.rows = append(a.rows, tag)
	return nil
}

func (a *auditFake) Close() error {
	a.closed = true
	return nil
}

func newTestScanner(
	store *storeFake,
	extractors []scraper.Extractor,
	products []models.Product,
	audit *auditFake,
) *scan.Scanner {
	return scan.NewScanner(
		store,
		services.NewGate(store, zerolog.Nop()),
		extractors,
		func() ([]models.Product, error) { return products, nil },
		func() (context.Context, context.CancelFunc, error) { return context.Background(), func() {}, nil },
		func(time.Time) (scan.AuditLogger, error) { return audit, nil },
		rate.NewLimiter(rate.Inf, 0),
		zerolog.Nop(),
	)
}

func observation(price, comment string, multibuy *string, photo string) func(string) (*models.RawObservation, error) {
	return func(string) (*models.RawObservation, error) {
		return &models.RawObservation{Price: price, Comment: comment, MultibuyPrice: multibuy, Photo: photo}, nil
	}
}

func milk() models.Product {
	return models.Product{
		Group:    "dairy",
		Name:     "Milk",
		Quantity: "1",
		Volume:   "2.27",
		AsdaURL:  "https://asda.example/milk",
		TescoURL: "https://tesco.example/milk",
	}
}

func TestRunEndToEndSingleProduct(t *testing.T) {
	store := newStoreFake()
	audit := &auditFake{}
	asdaEx := &extractorFake{
		market: models.MarketAsda,
		fetch:  observation("1.50", "2 for £2.50", lo.ToPtr("1.25"), "https://img.example/a.jpg"),
	}
	tescoEx := &extractorFake{
		market: models.MarketTesco,
		fetch:  observation("1.40", "", nil, "https://img.example/t.jpg"),
	}

	scanner := newTestScanner(store, []scraper.Extractor{asdaEx, tescoEx}, []models.Product{milk()}, audit)
	require.NoError(t, scanner.Run(context.Background()))

	assert.Equal(t, 1, store.cleared, "snapshot table cleared exactly once")
	assert.Equal(t, []string{"https://asda.example/milk"}, asdaEx.calls)
	assert.Equal(t, []string{"https://tesco.example/milk"}, tescoEx.calls)

	require.Len(t, store.appended, 2)
	assert.Equal(t, appendCall{models.MarketAsda, "Milk", "1.50", lo.ToPtr("1.25"), "2 for £2.50"}, store.appended[0])
	assert.Equal(t, appendCall{models.MarketTesco, "Milk", "1.40", nil, ""}, store.appended[1])

	require.Len(t, store.tags, 1)
	tag := store.tags[0]
	assert.Equal(t, models.PriceTag{
		PhotoURL:           "https://img.example/a.jpg",
		Group:              "dairy",
		Name:               "Milk",
		Quantity:           "1",
		Volume:             "2.27",
		AsdaURL:            "https://asda.example/milk",
		AsdaPrice:          lo.ToPtr("1.50"),
		AsdaMultibuyPrice:  lo.ToPtr("1.25"),
		AsdaComment:        lo.ToPtr("2 for £2.50"),
		TescoURL:           "https://tesco.example/milk",
		TescoPrice:         lo.ToPtr("1.40"),
		TescoMultibuyPrice: nil,
		TescoComment:       lo.ToPtr(""),
	}, tag)

	require.Len(t, store.metadata, 1)
	assert.Equal(t, "https://img.example/a.jpg", store.metadata[0].Photo)

	require.Len(t, audit.rows, 1)
	assert.Equal(t, tag, audit.rows[0])
	assert.True(t, audit.closed)

	require.Len(t, store.finished, 1)
	run := store.finished[0]
	require.NotNil(t, run.Success)
	assert.True(t, *run.Success)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, 1, run.ProductsScanned)
	assert.Equal(t, 2, run.RecordsWritten)
}

func TestPerMarketFailureDoesNotAbortSiblings(t *testing.T) {
	store := newStoreFake()
	audit := &auditFake{}

	bread := models.Product{
		Group:    "bakery",
		Name:     "Bread",
		AsdaURL:  "https://asda.example/bread",
		TescoURL: "https://tesco.example/bread",
	}

	asdaEx := &extractorFake{
		market: models.MarketAsda,
		fetch: func(productURL string) (*models.RawObservation, error) {
			if productURL == "https://asda.example/milk" {
				return nil, fmt.Errorf("navigation to %s failed: %w", productURL, scraper.ErrNoPriceTag)
			}
			return &models.RawObservation{Price: "0.90", Photo: "https://img.example/bread.jpg"}, nil
		},
	}
	tescoEx := &extractorFake{
		market: models.MarketTesco,
		fetch:  observation("1.40", "", nil, ""),
	}

	scanner := newTestScanner(store, []scraper.Extractor{asdaEx, tescoEx}, []models.Product{milk(), bread}, audit)
	require.NoError(t, scanner.Run(context.Background()))

	require.Len(t, store.tags, 2, "both products must still produce a price tag")

	milkTag := store.tags[0]
	assert.Nil(t, milkTag.AsdaPrice, "failed market leaves its fields unset")
	require.NotNil(t, milkTag.TescoPrice)
	assert.Equal(t, "1.40", *milkTag.TescoPrice)

	breadTag := store.tags[1]
	require.NotNil(t, breadTag.AsdaPrice)
	assert.Equal(t, "0.90", *breadTag.AsdaPrice)
	require.NotNil(t, breadTag.TescoPrice)

	require.Len(t, store.finished, 1)
	assert.True(t, *store.finished[0].Success, "per-market failures are not fatal")
	assert.Equal(t, 2, store.finished[0].ProductsScanned)
}

func TestPhotoFirstMarketWins(t *testing.T) {
	t.Run("first market has a photo", func(t *testing.T) {
		store := newStoreFake()
		asdaEx := &extractorFake{market: models.MarketAsda, fetch: observation("1.00", "", nil, "https://img.example/a.jpg")}
		tescoEx := &extractorFake{market: models.MarketTesco, fetch: observation("1.00", "", nil, "https://img.example/t.jpg")}

		scanner := newTestScanner(store, []scraper.Extractor{asdaEx, tescoEx}, []models.Product{milk()}, &auditFake{})
		require.NoError(t, scanner.Run(context.Background()))

		require.Len(t, store.tags, 1)
		assert.Equal(t, "https://img.example/a.jpg", store.tags[0].PhotoURL)
	})

	t.Run("first market has no photo", func(t *testing.T) {
		store := newStoreFake()
		asdaEx := &extractorFake{market: models.MarketAsda, fetch: observation("1.00", "", nil, "")}
		tescoEx := &extractorFake{market: models.MarketTesco, fetch: observation("1.00", "", nil, "https://img.example/t.jpg")}

		scanner := newTestScanner(store, []scraper.Extractor{asdaEx, tescoEx}, []models.Product{milk()}, &auditFake{})
		require.NoError(t, scanner.Run(context.Background()))

		require.Len(t, store.tags, 1)
		assert.Equal(t, "https://img.example/t.jpg", store.tags[0].PhotoURL)
		require.Len(t, store.metadata, 1)
		assert.Equal(t, "https://img.example/t.jpg", store.metadata[0].Photo)
	})
}

func TestSkipFlaggedProduct(t *testing.T) {
	store := newStoreFake()
	audit := &auditFake{}
	asdaEx := &extractorFake{market: models.MarketAsda, fetch: observation("1.00", "", nil, "")}

	skipped := milk()
	skipped.Skip = true

	scanner := newTestScanner(store, []scraper.Extractor{asdaEx}, []models.Product{skipped}, audit)
	require.NoError(t, scanner.Run(context.Background()))

	assert.Empty(t, asdaEx.calls, "skipped products make no extractor calls")
	assert.Empty(t, store.tags)
	assert.Empty(t, store.metadata)
	assert.Empty(t, audit.rows)
	require.Len(t, store.finished, 1)
	assert.True(t, *store.finished[0].Success)
	assert.Equal(t, 0, store.finished[0].ProductsScanned)
}

func TestMarketWithoutURLIsNotVisited(t *testing.T) {
	store := newStoreFake()
	asdaEx := &extractorFake{market: models.MarketAsda, fetch: observation("1.00", "", nil, "")}
	tescoEx := &extractorFake{market: models.MarketTesco, fetch: observation("1.00", "", nil, "")}

	product := milk()
	product.TescoURL = ""

	scanner := newTestScanner(store, []scraper.Extractor{asdaEx, tescoEx}, []models.Product{product}, &auditFake{})
	require.NoError(t, scanner.Run(context.Background()))

	assert.Len(t, asdaEx.calls, 1)
	assert.Empty(t, tescoEx.calls)

	require.Len(t, store.tags, 1)
	assert.Nil(t, store.tags[0].TescoPrice)
	assert.Empty(t, store.tags[0].TescoURL)
}

func TestFreshRecordSuppressesWrite(t *testing.T) {
	store := newStoreFake()
	store.latest[models.MarketAsda+"/Milk"] = &models.PriceRecord{
		Market:      models.MarketAsda,
		ProductName: "Milk",
		Price:       "1.50",
		Comment:     "",
		Timestamp:   time.Now().UTC().Add(-time.Hour),
	}

	asdaEx := &extractorFake{market: models.MarketAsda, fetch: observation("1.50", "", nil, "")}

	product := milk()
	product.TescoURL = ""

	scanner := newTestScanner(store, []scraper.Extractor{asdaEx}, []models.Product{product}, &auditFake{})
	require.NoError(t, scanner.Run(context.Background()))

	assert.Empty(t, store.appended, "unchanged fresh observation must not be re-recorded")
	require.Len(t, store.tags, 1, "the price tag is still rebuilt")
	require.NotNil(t, store.tags[0].AsdaPrice)
	assert.Equal(t, "1.50", *store.tags[0].AsdaPrice)

	require.Len(t, store.finished, 1)
	assert.Equal(t, 0, store.finished[0].RecordsWritten)
}

func TestStorageErrorAbortsScan(t *testing.T) {
	store := newStoreFake()
	store.appendErr = assert.AnError
	audit := &auditFake{}
	asdaEx := &extractorFake{market: models.MarketAsda, fetch: observation("1.00", "", nil, "")}

	scanner := newTestScanner(store, []scraper.Extractor{asdaEx}, []models.Product{milk()}, audit)
	err := scanner.Run(context.Background())
	require.ErrorIs(t, err, assert.AnError)

	assert.Empty(t, store.tags, "aborted product writes no snapshot row")
	assert.True(t, audit.closed)
	require.Len(t, store.finished, 1)
	require.NotNil(t, store.finished[0].Success)
	assert.False(t, *store.finished[0].Success, "run row records the failure")
}

func TestBrowserLaunchFailureIsFatal(t *testing.T) {
	store := newStoreFake()
	scanner := scan.NewScanner(
		store,
		services.NewGate(store, zerolog.Nop()),
		nil,
		func() ([]models.Product, error) { return nil, nil },
		func() (context.Context, context.CancelFunc, error) { return nil, nil, assert.AnError },
		func(time.Time) (scan.AuditLogger, error) { return &auditFake{}, nil },
		rate.NewLimiter(rate.Inf, 0),
		zerolog.Nop(),
	)

	err := scanner.Run(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, store.started, "no partial run when the browser never started")
	assert.Zero(t, store.cleared)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	store := newStoreFake()
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	asdaEx := &extractorFake{
		market: models.MarketAsda,
		fetch: func(string) (*models.RawObservation, error) {
			once.Do(func() {
				close(started)
				<-release
			})
			return &models.RawObservation{Price: "1.00"}, nil
		},
	}

	product := milk()
	product.TescoURL = ""

	scanner := newTestScanner(store, []scraper.Extractor{asdaEx}, []models.Product{product}, &auditFake{})

	done := make(chan error, 1)
	go func() {
		done <- scanner.Run(context.Background())
	}()

	<-started
	require.ErrorIs(t, scanner.Run(context.Background()), scan.ErrScanRunning)

	close(release)
	require.NoError(t, <-done)

	// The guard clears once the first scan finishes.
	require.NoError(t, scanner.Run(context.Background()))
}
