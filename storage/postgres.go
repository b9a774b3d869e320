package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"supermarket-scanner/models"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// ErrNoRowsAffected signals a write that was expected to change exactly
// one row but did not. Writes like this are never silently swallowed.
var ErrNoRowsAffected = errors.New("write affected no rows")

// Postgres is the record store: append-only price history, upsertable
// product metadata and the replaceable price tag snapshot.
type Postgres struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgres opens the database connection and pings it.
func NewPostgres(connStr string, logger zerolog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("can't open Postgres connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("can't ping Postgres: %w", err)
	}

	logger.Info().Msg("connected to Postgres")
	return &Postgres{db: db, logger: logger}, nil
}

// CreateTables creates all tables and indexes if they don't exist.
func (p *Postgres) CreateTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS raw_price_record (
		id             SERIAL PRIMARY KEY,
		market         VARCHAR(50) NOT NULL,
		product_name   TEXT        NOT NULL,
		price          TEXT        NOT NULL,
		multibuy_price TEXT,
		comment        TEXT        NOT NULL DEFAULT '',
		timestamp      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_raw_price_record_latest
		ON raw_price_record (market, product_name, timestamp DESC);

	CREATE TABLE IF NOT EXISTS products (
		name          TEXT PRIMARY KEY,
		product_group TEXT,
		quantity      TEXT,
		weight        TEXT,
		volume        TEXT,
		photo         TEXT
	);

	CREATE TABLE IF NOT EXISTS price_tags (
		photo_url            TEXT,
		product_group        TEXT,
		name                 TEXT,
		quantity             TEXT,
		volume               TEXT,
		weight               TEXT,
		asda_url             TEXT,
		asda_price           TEXT,
		asda_multibuy_price  TEXT,
		asda_comment         TEXT,
		tesco_url            TEXT,
		tesco_price          TEXT,
		tesco_multibuy_price TEXT,
		tesco_comment        TEXT
	);

	CREATE TABLE IF NOT EXISTS scan_runs (
		id               SERIAL PRIMARY KEY,
		started_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at      TIMESTAMPTZ,
		success          BOOLEAN,
		products_scanned INT NOT NULL DEFAULT 0,
		records_written  INT NOT NULL DEFAULT 0
	);
	`
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("can't create tables: %w", err)
	}
	p.logger.Info().Msg("tables are ready")
	return nil
}

// AppendPriceRecord appends one price history row.
func (p *Postgres) AppendPriceRecord(ctx context.Context, market, productName, price string, multibuyPrice *string, comment string) error {
	result, err := p.db.ExecContext(ctx,
		`INSERT INTO raw_price_record (market, product_name, price, multibuy_price, comment)
		 VALUES ($1, $2, $3, $4, $5)`,
		market, productName, price, nullString(multibuyPrice), comment,
	)
	if err != nil {
		return fmt.Errorf("can't insert price record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("can't insert price record: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("can't insert price record for %s/%s: %w", market, productName, ErrNoRowsAffected)
	}
	p.logger.Debug().Str("market", market).Str("product", productName).Msg("inserted price record")
	return nil
}

// LatestPriceRecord returns the most recent record for (market, productName), or nil.
func (p *Postgres) LatestPriceRecord(ctx context.Context, market, productName string) (*models.PriceRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, market, product_name, price, multibuy_price, comment, timestamp
		 FROM raw_price_record
		 WHERE market = $1 AND product_name = $2
		 ORDER BY timestamp DESC
		 LIMIT 1`,
		market, productName,
	)

	var record models.PriceRecord
	var multibuy sql.NullString
	err := row.Scan(&record.ID, &record.Market, &record.ProductName, &record.Price, &multibuy, &record.Comment, &record.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("can't query latest price record: %w", err)
	}
	if multibuy.Valid {
		record.MultibuyPrice = &multibuy.String
	}
	return &record, nil
}

// UpsertProductMetadata inserts the product on first sighting; on later
// sightings it updates only when a tracked attribute differs.
func (p *Postgres) UpsertProductMetadata(ctx context.Context, meta models.ProductMetadata) error {
	row := p.db.QueryRowContext(ctx,
		`SELECT product_group, quantity, weight, volume, photo FROM products WHERE name = $1`,
		meta.Name,
	)

	var stored models.ProductMetadata
	err := row.Scan(
		nullTarget(&stored.Group), nullTarget(&stored.Quantity),
		nullTarget(&stored.Weight), nullTarget(&stored.Volume), nullTarget(&stored.Photo),
	)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = p.db.ExecContext(ctx,
			`INSERT INTO products (name, product_group, quantity, weight, volume, photo)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			meta.Name, nullEmpty(meta.Group), nullEmpty(meta.Quantity),
			nullEmpty(meta.Weight), nullEmpty(meta.Volume), nullEmpty(meta.Photo),
		)
		if err != nil {
			return fmt.Errorf("can't insert product metadata: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("can't query product metadata: %w", err)
	}

	if stored.Group == meta.Group &&
		stored.Quantity == meta.Quantity &&
		stored.Weight == meta.Weight &&
		stored.Volume == meta.Volume &&
		stored.Photo == meta.Photo {
		return nil
	}

	_, err = p.db.ExecContext(ctx,
		`UPDATE products SET product_group = $1, quantity = $2, weight = $3, volume = $4, photo = $5
		 WHERE name = $6`,
		nullEmpty(meta.Group), nullEmpty(meta.Quantity), nullEmpty(meta.Weight),
		nullEmpty(meta.Volume), nullEmpty(meta.Photo), meta.Name,
	)
	if err != nil {
		return fmt.Errorf("can't update product metadata: %w", err)
	}
	return nil
}

// ClearPriceTags empties the snapshot table.
func (p *Postgres) ClearPriceTags(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM price_tags`); err != nil {
		return fmt.Errorf("can't clear price tags: %w", err)
	}
	return nil
}

// WritePriceTag inserts one snapshot row.
func (p *Postgres) WritePriceTag(ctx context.Context, tag models.PriceTag) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO price_tags (
			photo_url, product_group, name, quantity, volume, weight,
			asda_url, asda_price, asda_multibuy_price, asda_comment,
			tesco_url, tesco_price, tesco_multibuy_price, tesco_comment
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		nullEmpty(tag.PhotoURL), nullEmpty(tag.Group), nullEmpty(tag.Name),
		nullEmpty(tag.Quantity), nullEmpty(tag.Volume), nullEmpty(tag.Weight),
		nullEmpty(tag.AsdaURL), nullString(tag.AsdaPrice), nullString(tag.AsdaMultibuyPrice), nullString(tag.AsdaComment),
		nullEmpty(tag.TescoURL), nullString(tag.TescoPrice), nullString(tag.TescoMultibuyPrice), nullString(tag.TescoComment),
	)
	if err != nil {
		return fmt.Errorf("can't insert price tag: %w", err)
	}
	return nil
}

// ListPriceTags returns all current snapshot rows.
func (p *Postgres) ListPriceTags(ctx context.Context) ([]models.PriceTag, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT photo_url, product_group, name, quantity, volume, weight,
			asda_url, asda_price, asda_multibuy_price, asda_comment,
			tesco_url, tesco_price, tesco_multibuy_price, tesco_comment
		 FROM price_tags`,
	)
	if err != nil {
		return nil, fmt.Errorf("can't query price tags: %w", err)
	}
	defer rows.Close()

	var tags []models.PriceTag
	for rows.Next() {
		var tag models.PriceTag
		var asdaPrice, asdaMultibuy, asdaComment, tescoPrice, tescoMultibuy, tescoComment sql.NullString
		err := rows.Scan(
			nullTarget(&tag.PhotoURL), nullTarget(&tag.Group), nullTarget(&tag.Name),
			nullTarget(&tag.Quantity), nullTarget(&tag.Volume), nullTarget(&tag.Weight),
			nullTarget(&tag.AsdaURL), &asdaPrice, &asdaMultibuy, &asdaComment,
			nullTarget(&tag.TescoURL), &tescoPrice, &tescoMultibuy, &tescoComment,
		)
		if err != nil {
			return nil, fmt.Errorf("can't scan price tag: %w", err)
		}
		tag.AsdaPrice = fromNull(asdaPrice)
		tag.AsdaMultibuyPrice = fromNull(asdaMultibuy)
		tag.AsdaComment = fromNull(asdaComment)
		tag.TescoPrice = fromNull(tescoPrice)
		tag.TescoMultibuyPrice = fromNull(tescoMultibuy)
		tag.TescoComment = fromNull(tescoComment)
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("can't read price tags: %w", err)
	}
	return tags, nil
}

// StartScanRun opens a new scan run row and returns it.
func (p *Postgres) StartScanRun(ctx context.Context) (*models.ScanRun, error) {
	var run models.ScanRun
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO scan_runs DEFAULT VALUES RETURNING id, started_at`,
	).Scan(&run.ID, &run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("can't start scan run: %w", err)
	}
	return &run, nil
}

// FinishScanRun finalizes the run row with its outcome and counters.
func (p *Postgres) FinishScanRun(ctx context.Context, run *models.ScanRun) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE scan_runs SET finished_at = $1, success = $2, products_scanned = $3, records_written = $4
		 WHERE id = $5`,
		run.FinishedAt, run.Success, run.ProductsScanned, run.RecordsWritten, run.ID,
	)
	if err != nil {
		return fmt.Errorf("can't finish scan run: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil || affected == 0 {
		return fmt.Errorf("can't finish scan run %d: %w", run.ID, ErrNoRowsAffected)
	}
	return nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromNull(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	value := s.String
	return &value
}

// nullTarget scans a nullable column into a plain string, mapping NULL to "".
func nullTarget(s *string) *nullScanner {
	return &nullScanner{target: s}
}

type nullScanner struct {
	target *string
}

func (n *nullScanner) Scan(value any) error {
	var ns sql.NullString
	if err := ns.Scan(value); err != nil {
		return err
	}
	*n.target = ns.String
	return nil
}
