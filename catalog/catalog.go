package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"supermarket-scanner/models"

	"github.com/rs/zerolog"
)

var requiredColumns = []string{"skip", "group", "name", "quantity", "volume", "weight", "asda", "tesco"}

// Load streams the product catalog CSV. Rows that fail to parse, carry
// no name, or repeat an earlier name are logged and skipped; only a
// broken header or an unreadable file is fatal.
func Load(path string, logger zerolog.Logger) ([]models.Product, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("can't open catalog: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("can't read catalog header: %w", err)
	}
	columns, err := columnIndexes(header)
	if err != nil {
		return nil, err
	}

	var products []models.Product
	seen := make(map[string]struct{})
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			logger.Warn().Err(err).Msg("skipping unreadable catalog row")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("can't read catalog: %w", err)
		}

		product := toProduct(row, columns)
		if product.Name == "" {
			logger.Warn().Msg("skipping catalog row without a product name")
			continue
		}
		if _, ok := seen[product.Name]; ok {
			logger.Warn().Str("product", product.Name).Msg("skipping duplicate catalog row")
			continue
		}
		seen[product.Name] = struct{}{}
		products = append(products, product)
	}

	logger.Info().Int("products", len(products)).Str("catalog", path).Msg("catalog loaded")
	return products, nil
}

func columnIndexes(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for ix, name := range header {
		columns[strings.TrimSpace(strings.ToLower(name))] = ix
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("catalog is missing the %q column", name)
		}
	}
	return columns, nil
}

func toProduct(row []string, columns map[string]int) models.Product {
	field := func(name string) string {
		return strings.TrimSpace(row[columns[name]])
	}
	return models.Product{
		Skip:     field("skip") != "",
		Group:    field("group"),
		Name:     field("name"),
		Quantity: field("quantity"),
		Volume:   field("volume"),
		Weight:   field("weight"),
		AsdaURL:  field("asda"),
		TescoURL: field("tesco"),
	}
}
