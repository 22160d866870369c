package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog/log"

	"pixcache/internal/core/domain"
	"pixcache/internal/core/port"
	"pixcache/internal/metrics"
)

// Config carries the orchestrator's tunables.
type Config struct {
	// URLCacheTTL is how long a URL-ingested entry stays live before a
	// re-request refetches the source.
	URLCacheTTL time.Duration
}

// Cache is the orchestrator tying canonicalization, key computation,
// resolution, derivation and persistence together. It exclusively owns
// entry creation and deletion.
type Cache struct {
	store       port.ObjectStore
	meta        port.MetadataStore
	transformer port.Transformer
	fetcher     port.Fetcher
	resolver    *Resolver
	persister   *Persister
	codec       domain.Codec
	urlTTL      time.Duration
	now         func() time.Time
}

func NewCache(store port.ObjectStore, meta port.MetadataStore, transformer port.Transformer,
	fetcher port.Fetcher, persister *Persister, codec domain.Codec, cfg Config) *Cache {
	return &Cache{
		store:       store,
		meta:        meta,
		transformer: transformer,
		fetcher:     fetcher,
		resolver:    NewResolver(store, codec),
		persister:   persister,
		codec:       codec,
		urlTTL:      cfg.URLCacheTTL,
		now:         time.Now,
	}
}

// Serve returns the requested rendition, deriving it on demand. A
// derived rendition is handed to the background persister after the
// bytes are ready to return; the caller never waits on the object
// store write. A concurrent identical request arriving before that
// write lands repeats the derivation, which is accepted duplicate work.
func (c *Cache) Serve(ctx context.Context, caller, id string, raw domain.RawParams) ([]byte, string, error) {
	if err := domain.ValidateID(id); err != nil {
		return nil, "", validationFailure("id", err)
	}

	l := log.With().Str("id", id).Str("caller", caller).Logger()

	entry, err := c.meta.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", domain.ErrNotFound
		}
		return nil, "", err
	}

	res, err := c.resolver.Resolve(ctx, caller, entry, raw)
	if err != nil {
		return nil, "", err
	}

	if res.Hit() {
		metrics.VariantHits.Inc()
		l.Debug().Str("key", res.Key).Msg("exact hit")
		return res.Bytes, res.Params.Format.ContentType(), nil
	}
	metrics.VariantMisses.Inc()

	src, err := c.store.Get(ctx, res.SourceKey)
	if err != nil {
		return nil, "", fmt.Errorf("reading source rendition %s: %w", res.SourceKey, err)
	}

	out, changed, err := c.transformer.Derive(src, res.SourceParams, res.Params)
	if err != nil {
		return nil, "", err
	}

	if !changed {
		// The source already satisfies the request bit-for-bit; nothing
		// new to store.
		l.Debug().Str("source", res.SourceKey).Msg("serving source as-is")
		return out, res.SourceParams.Format.ContentType(), nil
	}

	metrics.Derivations.Inc()
	l.Debug().Str("key", res.Key).Str("source", res.SourceKey).Msg("derived new rendition")

	c.persister.Enqueue(res.Key, out, res.Params.Format.ContentType())

	return out, res.Params.Format.ContentType(), nil
}

// IngestFromURL caches the image behind url. While a live entry for the
// URL exists and force is unset, the existing id is returned without
// any upstream fetch. Racing creators collapse to a single winner via
// the metadata store's conditional create.
func (c *Cache) IngestFromURL(ctx context.Context, owner, url string, force bool) (string, error) {
	if err := domain.ValidateOwner(owner); err != nil {
		return "", validationFailure("owner", err)
	}
	if url == "" {
		return "", validationFailure("url", fmt.Errorf("empty url"))
	}

	l := log.With().Str("owner", owner).Str("url", url).Logger()

	existing, err := c.meta.GetByURL(ctx, url)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	if existing != nil && !existing.Expired(c.now()) && !force {
		l.Debug().Str("id", existing.ID).Msg("url already cached")
		return existing.ID, nil
	}

	metrics.UpstreamFetches.Inc()
	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}

	info, err := c.transformer.Probe(data)
	if err != nil {
		return "", err
	}

	// Reuse the id of an expired or force-refreshed entry so clients
	// holding the old id keep resolving. Renditions derived from the
	// previous bytes must not survive the refresh.
	var id string
	if existing != nil {
		id = existing.ID
		if err := c.meta.Delete(ctx, id); err != nil {
			return "", err
		}
		if _, err := c.purgeRenditions(ctx, existing.Owner, id); err != nil {
			return "", err
		}
	} else {
		id = newID()
	}

	entry, err := c.createEntry(ctx, owner, id, url, data, info)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Race loser: the winner's entry is the one to use, and the
			// original uploaded here is unreachable.
			winner, gerr := c.meta.GetByURL(ctx, url)
			if gerr == nil {
				if winner.ID != id {
					key := c.codec.Encode(owner, id, domain.OriginalParams(info.Width, info.Height, info.Format))
					if derr := c.store.Delete(ctx, key); derr != nil {
						l.Warn().Err(derr).Str("key", key).Msg("failed removing orphaned original")
					}
				}
				return winner.ID, nil
			}
			return "", err
		}
		return "", err
	}

	l.Info().Str("id", entry.ID).Int("bytes", len(data)).Msg("ingested url")
	return entry.ID, nil
}

// IngestFromBytes caches an inline upload under a fresh id. Inline
// uploads are never deduplicated; every call creates a new entry.
func (c *Cache) IngestFromBytes(ctx context.Context, owner string, data []byte) (string, error) {
	if err := domain.ValidateOwner(owner); err != nil {
		return "", validationFailure("owner", err)
	}

	info, err := c.transformer.Probe(data)
	if err != nil {
		return "", err
	}

	id := newID()
	entry, err := c.createEntry(ctx, owner, id, "", data, info)
	if err != nil {
		return "", err
	}

	log.Info().Str("owner", owner).Str("id", entry.ID).Int("bytes", len(data)).Msg("ingested upload")
	return entry.ID, nil
}

// createEntry uploads the original rendition and creates the metadata
// row. The original key records native dimensions, format and full
// quality; it is the permanent derivation root for the id.
func (c *Cache) createEntry(ctx context.Context, owner, id, url string, data []byte,
	info port.ImageInfo) (*domain.CacheEntry, error) {
	params := domain.OriginalParams(info.Width, info.Height, info.Format)
	key := c.codec.Encode(owner, id, params)

	if err := c.store.Put(ctx, key, data, info.Format.ContentType()); err != nil {
		return nil, err
	}

	entry := &domain.CacheEntry{
		ID:          id,
		Owner:       owner,
		SourceURL:   url,
		OriginalKey: key,
		CreatedAt:   c.now(),
	}
	if url != "" {
		// URL-cache entries are shared lookups: anyone requesting the
		// same URL receives the same id, so the renditions are public.
		entry.IsPublic = true
		expires := c.now().Add(c.urlTTL)
		entry.ExpiresAt = &expires
	}

	if err := c.meta.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// DeleteAll removes the metadata row first, so reads stop immediately,
// then best-effort deletes every rendition under the id's prefix.
// Absent keys are swallowed; any other delete failure is surfaced but
// does not restore the metadata row.
func (c *Cache) DeleteAll(ctx context.Context, caller, id string) error {
	if err := domain.ValidateID(id); err != nil {
		return validationFailure("id", err)
	}

	entry, err := c.meta.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !entry.OwnedBy(caller) {
		return domain.ErrNotFound
	}

	if err := c.meta.Delete(ctx, id); err != nil {
		return err
	}

	removed, err := c.purgeRenditions(ctx, entry.Owner, id)
	if err != nil {
		return err
	}

	log.Info().Str("id", id).Int("renditions", removed).Msg("deleted image")
	return nil
}

// purgeRenditions deletes every stored rendition under the id's
// prefix, reporting how many keys were found and the first delete
// failure after attempting them all.
func (c *Cache) purgeRenditions(ctx context.Context, owner, id string) (int, error) {
	keys, err := c.store.List(ctx, c.codec.OwnerIDPrefix(owner, id))
	if err != nil {
		return 0, err
	}

	var firstErr error
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("failed deleting rendition")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return len(keys), firstErr
}

func newID() string {
	return uuid.Must(uuid.NewV4()).String()
}

func validationFailure(field string, err error) error {
	return &domain.ValidationError{Fields: map[string]string{field: err.Error()}}
}
