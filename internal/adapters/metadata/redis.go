// Package metadata stores CacheEntry records in Redis.
package metadata

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pixcache/internal/core/domain"
)

const (
	entryKeyPrefix = "entry:"
	urlKeyPrefix   = "url:"
)

// RedisStore implements port.MetadataStore. Entries live as JSON under
// entry:{id}; URL-ingested entries additionally get a url:{sha1} index
// pointing at the id. Both carry the entry's TTL, so expired URL-cache
// rows vanish at the storage layer.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func entryKey(id string) string { return entryKeyPrefix + id }

func urlKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return urlKeyPrefix + hex.EncodeToString(sum[:])
}

func (s *RedisStore) GetByID(ctx context.Context, id string) (*domain.CacheEntry, error) {
	payload, err := s.client.Get(ctx, entryKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, &domain.StorageError{Op: "get", Key: entryKey(id), Err: err}
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, &domain.StorageError{Op: "get", Key: entryKey(id), Err: err}
	}
	return &entry, nil
}

func (s *RedisStore) GetByURL(ctx context.Context, url string) (*domain.CacheEntry, error) {
	id, err := s.client.Get(ctx, urlKey(url)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, &domain.StorageError{Op: "get", Key: urlKey(url), Err: err}
	}

	// The index may outlive the entry row by a moment; an absent entry
	// reads as not found either way.
	return s.GetByID(ctx, id)
}

// Create is conditional on both keys being absent. For URL-ingested
// entries the url index is claimed first: ids are freshly minted, so
// the URL is what concurrent creators actually collide on, and exactly
// one SETNX on it wins.
func (s *RedisStore) Create(ctx context.Context, entry *domain.CacheEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry %s: %w", entry.ID, err)
	}

	var ttl time.Duration
	if entry.ExpiresAt != nil {
		ttl = time.Until(*entry.ExpiresAt)
		if ttl <= 0 {
			return fmt.Errorf("entry %s expires in the past", entry.ID)
		}
	}

	if entry.SourceURL != "" {
		ok, err := s.client.SetNX(ctx, urlKey(entry.SourceURL), entry.ID, ttl).Result()
		if err != nil {
			return &domain.StorageError{Op: "create", Key: urlKey(entry.SourceURL), Err: err}
		}
		if !ok {
			return domain.ErrAlreadyExists
		}
	}

	ok, err := s.client.SetNX(ctx, entryKey(entry.ID), payload, ttl).Result()
	if err != nil {
		return &domain.StorageError{Op: "create", Key: entryKey(entry.ID), Err: err}
	}
	if !ok {
		if entry.SourceURL != "" {
			_ = s.client.Del(ctx, urlKey(entry.SourceURL)).Err()
		}
		return domain.ErrAlreadyExists
	}
	return nil
}

// Delete removes the entry and its URL index. Deleting an absent id is
// a no-op.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	entry, err := s.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	keys := []string{entryKey(id)}
	if entry.SourceURL != "" {
		keys = append(keys, urlKey(entry.SourceURL))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return &domain.StorageError{Op: "delete", Key: entryKey(id), Err: err}
	}
	return nil
}
