package certparse

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/princespaghetti/certbake/internal/bundle"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

// FeedEntry is one certificate row of a CA report feed.
type FeedEntry struct {
	// Row is the 0-based CSV record index (the header is row 0).
	Row  int
	Name string
	PEM  string
}

// feedPEMPrefix marks a field holding certificate text. The report quotes
// the PEM with single quotes inside the CSV field.
const feedPEMPrefix = "'" + beginMarker

// ParseFeed reads a CA report CSV. Row 0 is a header and is discarded. The
// name of each entry is columns 0..2 joined with ':'; the first field that
// starts with a quoted BEGIN CERTIFICATE marker is its certificate text.
func ParseFeed(data []byte) ([]FeedEntry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, bakeerrors.ErrEmptyInput
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var entries []FeedEntry
	for row := 0; ; row++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read feed: %w", bakeerrors.ErrMalformedInput, err)
		}
		if row == 0 {
			continue
		}
		if len(record) < 3 {
			return nil, fmt.Errorf("%w: feed row %d has %d columns, want at least 3", bakeerrors.ErrMalformedInput, row, len(record))
		}

		entry := FeedEntry{
			Row:  row,
			Name: record[0] + ":" + record[1] + ":" + record[2],
		}
		for _, field := range record {
			if strings.HasPrefix(field, feedPEMPrefix) {
				entry.PEM = strings.ReplaceAll(field, "'", "")
				break
			}
		}
		if entry.PEM == "" {
			return nil, fmt.Errorf("%w: feed row %d (%s) has no certificate", bakeerrors.ErrMalformedInput, row, entry.Name)
		}

		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil, bakeerrors.ErrNoCertificate
	}
	return entries, nil
}

// FeedCertificates decodes the certificate of every entry and labels each
// record with the entry name. Each entry must hold exactly one certificate.
func FeedCertificates(entries []FeedEntry) ([]bundle.Certificate, error) {
	certs := make([]bundle.Certificate, 0, len(entries))
	for _, e := range entries {
		parsed, err := ParsePEM([]byte(e.PEM))
		if err != nil {
			return nil, fmt.Errorf("feed row %d (%s): %w", e.Row, e.Name, err)
		}
		if len(parsed) != 1 {
			return nil, fmt.Errorf("%w: feed row %d (%s) holds %d certificates", bakeerrors.ErrMalformedInput, e.Row, e.Name, len(parsed))
		}
		c := parsed[0]
		c.Label = e.Name
		certs = append(certs, c)
	}
	return certs, nil
}
