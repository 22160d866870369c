package port

import "context"

// Fetcher retrieves source images for URL ingestion. Network failures
// and non-2xx responses surface as *domain.UpstreamError; no retries.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
