// Package fetcher retrieves source images over HTTP for URL ingestion.
package fetcher

import (
	"context"
	"time"

	"resty.dev/v3"

	"pixcache/internal/core/domain"
)

// HTTPFetcher implements port.Fetcher. Failures are never retried; a
// bad fetch is an ingest error for the caller to handle.
type HTTPFetcher struct {
	client *resty.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "pixcache")
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	res, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, &domain.UpstreamError{URL: url, Err: err}
	}

	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		return nil, &domain.UpstreamError{URL: url, Status: res.StatusCode()}
	}

	return res.Bytes(), nil
}

// Close releases the underlying transport.
func (f *HTTPFetcher) Close() error {
	return f.client.Close()
}
