package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

const (
	// DefaultFeedURL is the CCADB report listing every CA included in the
	// Mozilla root store, one PEM certificate per row.
	DefaultFeedURL = "https://ccadb.my.salesforce-sites.com/mozilla/IncludedCACertificateReportPEMCSV"

	// DefaultBundleURL is the curl project's PEM extraction of the Mozilla store.
	DefaultBundleURL = "https://curl.se/ca/cacert.pem"

	userAgent = "certbake/1.0 (firmware trust bundle generator)"
)

// Fetcher downloads upstream trust data over HTTP.
type Fetcher struct {
	client HTTPClient
}

// NewFetcher creates a new Fetcher with the given HTTP client.
// If client is nil, uses http.DefaultClient.
func NewFetcher(client HTTPClient) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		client: client,
	}
}

// Fetch downloads url and returns the body. A non-200 status or an empty body
// is an error. The context can be used to cancel the download or set a timeout.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d: %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("downloaded data is empty")
	}

	return data, nil
}
