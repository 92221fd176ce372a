// Package export writes scraped records to a flat CSV file.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JakeFAU/toscrape-books/internal/books"
	"github.com/JakeFAU/toscrape-books/internal/metrics"
)

// Summary describes a finished export.
type Summary struct {
	Path    string
	Rows    int
	Elapsed time.Duration
}

// CSV writes records with absolute URLs to Path. The file is UTF-8 with a
// byte order mark so spreadsheet tools keep currency symbols intact.
type CSV struct {
	Path    string
	BaseURL string
	Logger  *zap.Logger
}

// Write replaces the file at Path with a header row plus one row per record.
// The data goes to a temporary file in the same directory first, so a failed
// export never leaves a truncated file behind.
func (e CSV) Write(records []books.Record) (Summary, error) {
	start := time.Now()
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if e.Path == "" {
		return Summary{}, errors.New("export path is required")
	}
	base := e.BaseURL
	if base == "" {
		base = books.DefaultBaseURL
	}

	dir := filepath.Dir(e.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Summary{}, fmt.Errorf("create export dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(e.Path)+".*")
	if err != nil {
		return Summary{}, fmt.Errorf("create temp export: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	if err := writeRows(tmp, records, base); err != nil {
		_ = tmp.Close()
		return Summary{}, err
	}
	if err := tmp.Close(); err != nil {
		return Summary{}, fmt.Errorf("close temp export: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return Summary{}, fmt.Errorf("chmod export: %w", err)
	}
	if err := os.Rename(tmpName, e.Path); err != nil {
		return Summary{}, fmt.Errorf("replace %s: %w", e.Path, err)
	}

	summary := Summary{Path: e.Path, Rows: len(records), Elapsed: time.Since(start)}
	metrics.SetExportRows(summary.Rows)
	logger.Info("export written",
		zap.String("path", summary.Path),
		zap.Int("rows", summary.Rows),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

func writeRows(f *os.File, records []books.Record, base string) error {
	enc := transform.NewWriter(f, unicode.UTF8BOM.NewEncoder())
	w := csv.NewWriter(enc)
	if err := w.Write(books.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		if err := w.Write(rec.Absolute(base).Row()); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush encoder: %w", err)
	}
	return nil
}
