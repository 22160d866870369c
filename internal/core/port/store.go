package port

import "context"

// ObjectStore is the rendition blob store. Keys are opaque to the
// store; the codec in the domain package owns their layout.
//
// Get on an absent key returns domain.ErrNotFound — an expected cache
// miss signal, not a fault. Delete on an absent key is a no-op. List
// returns the complete key set for a prefix, across any internal
// pagination, before returning.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}
