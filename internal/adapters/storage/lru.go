package storage

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"pixcache/internal/core/port"
)

type cachedObject struct {
	data        []byte
	contentType string
}

// LRUStore fronts another ObjectStore with a capacity-bounded
// in-process cache of hot rendition bytes. Renditions are immutable
// once written, so the only staleness concern is deletion, which
// invalidates the cached copy.
type LRUStore struct {
	next  port.ObjectStore
	cache *lru.Cache[string, cachedObject]
}

func NewLRUStore(next port.ObjectStore, size int) (*LRUStore, error) {
	cache, err := lru.New[string, cachedObject](size)
	if err != nil {
		return nil, err
	}
	return &LRUStore{next: next, cache: cache}, nil
}

func (s *LRUStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.next.Put(ctx, key, data, contentType); err != nil {
		return err
	}
	s.cache.Add(key, cachedObject{data: data, contentType: contentType})
	return nil
}

func (s *LRUStore) Get(ctx context.Context, key string) ([]byte, error) {
	if obj, ok := s.cache.Get(key); ok {
		return obj.data, nil
	}

	data, err := s.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, cachedObject{data: data})
	return data, nil
}

func (s *LRUStore) Delete(ctx context.Context, key string) error {
	s.cache.Remove(key)
	return s.next.Delete(ctx, key)
}

// List always consults the backing store; the cache holds no authority
// over the key set.
func (s *LRUStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.next.List(ctx, prefix)
}
