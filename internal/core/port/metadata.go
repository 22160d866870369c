package port

import (
	"context"

	"pixcache/internal/core/domain"
)

// MetadataStore holds CacheEntry records. GetByID and GetByURL return
// domain.ErrNotFound for absent rows. Create is atomic: of several
// concurrent creators racing on one id, exactly one succeeds and the
// rest receive domain.ErrAlreadyExists.
//
// URL-cache entries expire at the storage layer, but reaping is not
// instantaneous; callers must still check ExpiresAt on rows they read.
type MetadataStore interface {
	GetByID(ctx context.Context, id string) (*domain.CacheEntry, error)
	GetByURL(ctx context.Context, url string) (*domain.CacheEntry, error)
	Create(ctx context.Context, entry *domain.CacheEntry) error
	Delete(ctx context.Context, id string) error
}
