package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"supermarket-scanner/models"
)

var auditHeader = []string{
	"photo_url", "product_group", "name", "quantity", "volume", "weight",
	"asda_url", "asda_price", "asda_multibuy_price", "asda_comment",
	"tesco_url", "tesco_price", "tesco_multibuy_price", "tesco_comment",
}

// AuditLog writes one CSV row per scanned product, flushed as the scan
// proceeds so a crashed run still leaves the rows it finished. One file
// per run, named by the run's start time.
type AuditLog struct {
	file   *os.File
	writer *csv.Writer
	path   string
}

// NewAuditLog creates the per-run log file and writes the header row.
func NewAuditLog(dir string, startedAt time.Time) (*AuditLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("can't create audit log directory: %w", err)
	}

	name := strings.ReplaceAll(startedAt.UTC().Format(time.RFC3339), ":", "_") + ".csv"
	path := filepath.Join(dir, name)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("can't create audit log file: %w", err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(auditHeader); err != nil {
		file.Close()
		return nil, fmt.Errorf("can't write audit log header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return nil, fmt.Errorf("can't write audit log header: %w", err)
	}

	return &AuditLog{file: file, writer: writer, path: path}, nil
}

// Append writes one product row and flushes it to disk.
func (l *AuditLog) Append(tag models.PriceTag) error {
	row := []string{
		tag.PhotoURL, tag.Group, tag.Name, tag.Quantity, tag.Volume, tag.Weight,
		tag.AsdaURL, orEmpty(tag.AsdaPrice), orEmpty(tag.AsdaMultibuyPrice), orEmpty(tag.AsdaComment),
		tag.TescoURL, orEmpty(tag.TescoPrice), orEmpty(tag.TescoMultibuyPrice), orEmpty(tag.TescoComment),
	}
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("can't write audit log row: %w", err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("can't write audit log row: %w", err)
	}
	return nil
}

// Path returns the log file location.
func (l *AuditLog) Path() string {
	return l.path
}

// Close flushes and closes the log file.
func (l *AuditLog) Close() error {
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		l.file.Close()
		return fmt.Errorf("can't flush audit log: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("can't close audit log: %w", err)
	}
	return nil
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
