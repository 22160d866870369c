package port

import (
	"context"

	"pixcache/internal/core/domain"
)

// ImageCache is the driver port exposed to the transport layer.
type ImageCache interface {
	// Serve returns the requested rendition's bytes and content type,
	// deriving and caching it on demand.
	Serve(ctx context.Context, caller, id string, raw domain.RawParams) ([]byte, string, error)

	// IngestFromURL fetches and caches a source URL. Idempotent per URL
	// while the cached entry is live, unless force is set.
	IngestFromURL(ctx context.Context, owner, url string, force bool) (string, error)

	// IngestFromBytes caches an inline upload under a fresh id.
	IngestFromBytes(ctx context.Context, owner string, data []byte) (string, error)

	// DeleteAll removes the entry and every cached rendition of id.
	DeleteAll(ctx context.Context, caller, id string) error
}
