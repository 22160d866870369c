package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"pixcache/internal/core/domain"
	"pixcache/internal/core/port"
)

// Resolution is the outcome of resolving a rendition request: either an
// exact hit carrying the stored bytes, or the best available source to
// derive the requested rendition from.
type Resolution struct {
	// Key is the storage key of the requested rendition.
	Key string
	// Params is the realized target parameter set (dimensions filled).
	Params domain.CanonicalParams

	// Bytes is set on an exact hit.
	Bytes []byte

	// SourceKey and SourceParams are set on a miss.
	SourceKey    string
	SourceParams domain.CanonicalParams
}

// Hit reports whether the requested rendition already existed.
func (r Resolution) Hit() bool { return r.Bytes != nil }

// Resolver decides, per request, between an exact hit and the most
// information-preserving source rendition to derive from.
type Resolver struct {
	store port.ObjectStore
	codec domain.Codec
	now   func() time.Time
}

func NewResolver(store port.ObjectStore, codec domain.Codec) *Resolver {
	return &Resolver{store: store, codec: codec, now: time.Now}
}

// Resolve realizes the requested parameters against the entry's
// original dimensions, probes the object store for the exact key, and
// on a miss ranks every existing rendition by pixel count (then
// quality) to pick the derivation source.
//
// An absent entry, an expired URL-cache entry, or a caller without read
// access all yield ErrNotFound; private images are indistinguishable
// from missing ones.
func (r *Resolver) Resolve(ctx context.Context, caller string, entry *domain.CacheEntry,
	raw domain.RawParams) (Resolution, error) {
	if entry == nil || entry.Expired(r.now()) || !entry.ReadableBy(caller) {
		return Resolution{}, domain.ErrNotFound
	}

	// The original key records native dimensions, format and quality;
	// no pixel data is read during resolution.
	_, _, origParams, err := r.codec.Decode(entry.OriginalKey)
	if err != nil {
		return Resolution{}, fmt.Errorf("decoding original key of %s: %w", entry.ID, err)
	}

	target, err := domain.Canonicalize(raw, origParams.Format)
	if err != nil {
		return Resolution{}, err
	}
	target.Width, target.Height = domain.Realize(origParams.Width, origParams.Height, target)

	key := r.codec.Encode(entry.Owner, entry.ID, target)

	data, err := r.store.Get(ctx, key)
	if err == nil {
		return Resolution{Key: key, Params: target, Bytes: data}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return Resolution{}, err
	}

	sourceKey, sourceParams, err := r.bestSource(ctx, entry)
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{
		Key:          key,
		Params:       target,
		SourceKey:    sourceKey,
		SourceParams: sourceParams,
	}, nil
}

type candidate struct {
	key    string
	params domain.CanonicalParams
}

// bestSource ranks every rendition under the entry's prefix by total
// pixel count descending, quality descending. Downscaling from the
// largest, highest-quality source never loses information the
// requester could have gotten from a smaller one.
func (r *Resolver) bestSource(ctx context.Context, entry *domain.CacheEntry) (string, domain.CanonicalParams, error) {
	keys, err := r.store.List(ctx, r.codec.OwnerIDPrefix(entry.Owner, entry.ID))
	if err != nil {
		return "", domain.CanonicalParams{}, err
	}

	candidates := make([]candidate, 0, len(keys))
	for _, key := range keys {
		_, _, params, err := r.codec.Decode(key)
		if err != nil {
			log.Warn().Str("key", key).Err(err).Msg("skipping undecodable rendition key")
			continue
		}
		candidates = append(candidates, candidate{key: key, params: params})
	}

	if len(candidates) == 0 {
		// Metadata row without blobs: renditions were reaped or the
		// store drifted. Treat as absent.
		return "", domain.CanonicalParams{}, domain.ErrNotFound
	}

	sort.Slice(candidates, func(i, j int) bool {
		pi, pj := candidates[i].params.PixelCount(), candidates[j].params.PixelCount()
		if pi != pj {
			return pi > pj
		}
		if candidates[i].params.Quality != candidates[j].params.Quality {
			return candidates[i].params.Quality > candidates[j].params.Quality
		}
		return candidates[i].key < candidates[j].key
	})

	return candidates[0].key, candidates[0].params, nil
}
