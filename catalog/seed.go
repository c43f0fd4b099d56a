package catalog

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

//go:embed data/available_books.csv
var defaultCatalog []byte

// SkippedLine is a catalog line that could not be turned into a book.
type SkippedLine struct {
	Line   int
	Reason string
}

// ParseReport lists the books read from a catalog and the lines that were
// dropped.
type ParseReport struct {
	Books   []*AvailableBook
	Skipped []SkippedLine
}

// ParseCatalog reads title,author,url records, one per line. Blank lines and
// lines starting with '#' are ignored, quoted fields may contain commas, and
// columns beyond the third are ignored. Lines with fewer than three columns
// or an empty title are recorded as skipped.
func ParseCatalog(r io.Reader) (*ParseReport, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	report := &ParseReport{Books: []*AvailableBook{}}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
		line, _ := cr.FieldPos(0)

		if len(record) < 3 {
			report.Skipped = append(report.Skipped, SkippedLine{
				Line:   line,
				Reason: fmt.Sprintf("want 3 columns, got %d", len(record)),
			})
			continue
		}
		b := &AvailableBook{
			Title:  strings.TrimSpace(record[0]),
			Author: strings.TrimSpace(record[1]),
			URL:    strings.TrimSpace(record[2]),
		}
		if b.Title == "" {
			report.Skipped = append(report.Skipped, SkippedLine{Line: line, Reason: "empty title"})
			continue
		}
		report.Books = append(report.Books, b)
	}
	return report, nil
}

// OpenCatalog returns a reader over the catalog at path, or over the bundled
// catalog when path is empty.
func OpenCatalog(path string) (io.ReadCloser, error) {
	if strings.TrimSpace(path) == "" {
		return io.NopCloser(bytes.NewReader(defaultCatalog)), nil
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return f, nil
}

// LoadCatalog opens and parses the catalog at path (bundled when empty).
func LoadCatalog(path string) (*ParseReport, error) {
	rc, err := OpenCatalog(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ParseCatalog(rc)
}
