package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixcache/internal/core/domain"
	"pixcache/internal/core/port"
)

type fixture struct {
	store     *memStore
	meta      *memMeta
	tf        *mockTransformer
	fetch     *mockFetcher
	persister *Persister
	cache     *Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: newMemStore(),
		meta:  newMemMeta(),
		tf:    &mockTransformer{info: port.ImageInfo{Width: 800, Height: 600, Format: domain.FormatPNG}},
		fetch: &mockFetcher{data: []byte("source-image")},
	}
	f.persister = NewPersister(f.store, 1, 16)
	t.Cleanup(f.persister.Close)

	f.cache = NewCache(f.store, f.meta, f.tf, f.fetch, f.persister, codec, Config{URLCacheTTL: time.Hour})
	return f
}

func (f *fixture) upload(t *testing.T, owner string) string {
	t.Helper()
	id, err := f.cache.IngestFromBytes(context.Background(), owner, []byte("source-image"))
	require.NoError(t, err)
	return id
}

func TestServeRepeatRequestIsExactHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.upload(t, "u1")

	// First request misses and derives.
	first, ct, err := f.cache.Serve(ctx, "u1", id, domain.RawParams{Width: intp(400)})
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, 1, f.tf.deriveCount())

	// Once the async persist lands, an identical request is an exact
	// hit: byte-identical output, no transform invoked.
	f.persister.Flush()

	second, _, err := f.cache.Serve(ctx, "u1", id, domain.RawParams{Width: intp(400)})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.tf.deriveCount())
}

func TestServePersistsRealizedDimensionsKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.upload(t, "u1")

	// 800x600 source, width 400 requested: aspect-preserved 400x300.
	_, _, err := f.cache.Serve(ctx, "u1", id, domain.RawParams{Width: intp(400)})
	require.NoError(t, err)
	f.persister.Flush()

	keys, err := f.store.List(ctx, codec.OwnerIDPrefix("u1", id))
	require.NoError(t, err)
	require.Len(t, keys, 2)

	var derived string
	for _, key := range keys {
		if key != f.mustEntry(t, id).OriginalKey {
			derived = key
		}
	}
	assert.Contains(t, derived, "width:400")
	assert.Contains(t, derived, "height:300")
	assert.Contains(t, derived, ".png")
}

func TestServeUnchangedSourceSkipsPersist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.upload(t, "u1")

	// Different kernel, same realized output: the key differs from the
	// original's but no resize or re-encode happens, so nothing new is
	// written.
	data, _, err := f.cache.Serve(ctx, "u1", id, domain.RawParams{Kernel: "nearest"})
	require.NoError(t, err)
	assert.Equal(t, []byte("source-image"), data)

	f.persister.Flush()
	assert.Equal(t, 1, f.store.keyCount())
}

func TestServeNeverUpscales(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.upload(t, "u1")

	// Larger than the source on both axes: the original is served
	// unchanged and nothing is derived.
	data, _, err := f.cache.Serve(ctx, "u1", id, domain.RawParams{Width: intp(1600), Height: intp(1200)})
	require.NoError(t, err)
	assert.Equal(t, []byte("source-image"), data)
	assert.Equal(t, 0, f.tf.deriveCount())
}

func TestServeUnknownID(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.cache.Serve(context.Background(), "u1", "nope", domain.RawParams{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestServePrivateImageHidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.upload(t, "u1")

	_, _, err := f.cache.Serve(ctx, "u2", id, domain.RawParams{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = f.cache.Serve(ctx, "", id, domain.RawParams{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestServeRejectsMalformedID(t *testing.T) {
	f := newFixture(t)

	for _, id := range []string{"", "a/b", "a_b", strings.Repeat("x", 129)} {
		_, _, err := f.cache.Serve(context.Background(), "u1", id, domain.RawParams{})

		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr, "id %q", id)
		assert.Contains(t, verr.Fields, "id")
	}
}

func TestDeleteAllRejectsMalformedID(t *testing.T) {
	f := newFixture(t)

	err := f.cache.DeleteAll(context.Background(), "u1", "a/b")

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "id")
}

func TestServeValidationFailure(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "u1")

	_, _, err := f.cache.Serve(context.Background(), "u1", id, domain.RawParams{
		Quality: intp(300), Background: "red",
	})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 2)
}

func TestIngestFromBytesNoDedup(t *testing.T) {
	f := newFixture(t)

	a := f.upload(t, "u1")
	b := f.upload(t, "u1")
	assert.NotEqual(t, a, b)
}

func TestIngestFromBytesInvalidImage(t *testing.T) {
	f := newFixture(t)
	f.tf.probeErr = domain.ErrInvalidImage

	_, err := f.cache.IngestFromBytes(context.Background(), "u1", []byte("not an image"))
	assert.ErrorIs(t, err, domain.ErrInvalidImage)
	assert.Equal(t, 0, f.store.keyCount())
}

func TestIngestFromURLDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.cache.IngestFromURL(ctx, "u1", "https://example.com/cat.png", false)
	require.NoError(t, err)

	b, err := f.cache.IngestFromURL(ctx, "u1", "https://example.com/cat.png", false)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, f.fetch.calls)
}

func TestIngestFromURLForceRefetches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.cache.IngestFromURL(ctx, "u1", "https://example.com/cat.png", false)
	require.NoError(t, err)

	b, err := f.cache.IngestFromURL(ctx, "u1", "https://example.com/cat.png", true)
	require.NoError(t, err)

	assert.Equal(t, a, b, "force keeps the id stable")
	assert.Equal(t, 2, f.fetch.calls)
}

func TestIngestFromURLExpiredEntryRefetched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.cache.IngestFromURL(ctx, "u1", "https://example.com/cat.png", false)
	require.NoError(t, err)

	f.cache.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	b, err := f.cache.IngestFromURL(ctx, "u1", "https://example.com/cat.png", false)
	require.NoError(t, err)

	assert.Equal(t, a, b, "expired entry's id is reused")
	assert.Equal(t, 2, f.fetch.calls)
}

func TestIngestFromURLUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.fetch.err = &domain.UpstreamError{URL: "https://example.com/cat.png", Status: 503}

	_, err := f.cache.IngestFromURL(context.Background(), "u1", "https://example.com/cat.png", false)

	var uerr *domain.UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 503, uerr.Status)
	assert.Equal(t, 0, f.store.keyCount())
}

func TestIngestFromURLConcurrentCreatorsCollapse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	url := "https://example.com/cat.png"

	a, err := f.cache.IngestFromURL(ctx, "u1", url, false)
	require.NoError(t, err)

	// A second creator whose read raced ahead of the first create: it
	// misses the index, refetches, and must lose the conditional create
	// on the url rather than mint a second entry.
	f.meta.missURLReads = 1
	b, err := f.cache.IngestFromURL(ctx, "u2", url, false)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 2, f.fetch.calls)

	f.meta.mu.Lock()
	assert.Len(t, f.meta.byID, 1)
	f.meta.mu.Unlock()

	// The loser's uploaded original does not linger in the store.
	assert.Equal(t, 1, f.store.keyCount())
}

func TestIngestFromURLForceRefreshPurgesStaleRenditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	url := "https://example.com/cat.png"

	id, err := f.cache.IngestFromURL(ctx, "u1", url, false)
	require.NoError(t, err)

	_, _, err = f.cache.Serve(ctx, "u1", id, domain.RawParams{Width: intp(400)})
	require.NoError(t, err)
	f.persister.Flush()
	require.Equal(t, 2, f.store.keyCount())

	f.fetch.data = []byte("fresh-image")
	b, err := f.cache.IngestFromURL(ctx, "u1", url, true)
	require.NoError(t, err)
	require.Equal(t, id, b)

	// Only the refreshed original remains; renditions of the old bytes
	// are gone.
	assert.Equal(t, 1, f.store.keyCount())

	data, err := f.store.Get(ctx, f.mustEntry(t, id).OriginalKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh-image"), data)
}

func TestIngestFromURLRaceLoserGetsWinnerID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	winner := &domain.CacheEntry{
		ID:        "winner",
		Owner:     "u2",
		SourceURL: "https://example.com/cat.png",
		IsPublic:  true,
	}
	f.meta.raceWinner = winner

	id, err := f.cache.IngestFromURL(ctx, "u1", "https://example.com/cat.png", false)
	require.NoError(t, err)
	assert.Equal(t, "winner", id)
}

func TestIngestFromURLEntryIsPublicAndExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.cache.IngestFromURL(ctx, "u1", "https://example.com/cat.png", false)
	require.NoError(t, err)

	entry := f.mustEntry(t, id)
	assert.True(t, entry.IsPublic)
	require.NotNil(t, entry.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *entry.ExpiresAt, time.Minute)

	// Anyone may read a URL-cached image.
	_, _, err = f.cache.Serve(ctx, "", id, domain.RawParams{})
	assert.NoError(t, err)
}

func TestDeleteAllCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.upload(t, "u1")

	_, _, err := f.cache.Serve(ctx, "u1", id, domain.RawParams{Width: intp(400)})
	require.NoError(t, err)
	f.persister.Flush()

	require.NoError(t, f.cache.DeleteAll(ctx, "u1", id))

	keys, err := f.store.List(ctx, codec.OwnerIDPrefix("u1", id))
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, _, err = f.cache.Serve(ctx, "u1", id, domain.RawParams{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteAllRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.upload(t, "u1")

	err := f.cache.DeleteAll(ctx, "u2", id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The entry is untouched.
	_, _, err = f.cache.Serve(ctx, "u1", id, domain.RawParams{})
	assert.NoError(t, err)
}

func TestDeleteAllSurfacesBlobFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.upload(t, "u1")

	f.store.delErr = errors.New("backend down")
	err := f.cache.DeleteAll(ctx, "u1", id)
	require.Error(t, err)

	// Metadata is gone regardless; reads stop immediately.
	_, _, serr := f.cache.Serve(ctx, "u1", id, domain.RawParams{})
	assert.ErrorIs(t, serr, domain.ErrNotFound)
}

func (f *fixture) mustEntry(t *testing.T, id string) *domain.CacheEntry {
	t.Helper()
	entry, err := f.meta.GetByID(context.Background(), id)
	require.NoError(t, err)
	return entry
}
