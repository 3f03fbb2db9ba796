package knowledge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	papervault "github.com/wolfeidau/paper-vault"
	"github.com/wolfeidau/paper-vault/store/metadb"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	db := metadb.New()
	require.NoError(t, db.Open(filepath.Join(t.TempDir(), "test.db")))
	t.Cleanup(func() { _ = db.Close() })
	return NewCache(db)
}

func TestCachePutGet(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	digest := papervault.DigestBytes([]byte("paper content"))

	k := &papervault.Knowledge{
		Title:       "On the Electrodynamics of Moving Bodies",
		Authors:     []string{"Einstein"},
		Year:        1905,
		ExtractedAt: time.Now().Truncate(time.Second).UTC(),
	}

	require.NoError(t, cache.Put(ctx, digest, k))

	got, err := cache.Get(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, k.Title, got.Title)
	assert.Equal(t, k.Authors, got.Authors)
	assert.Equal(t, k.Year, got.Year)
}

func TestCacheGetNotFound(t *testing.T) {
	cache := newTestCache(t)

	_, err := cache.Get(context.Background(), papervault.DigestBytes([]byte("missing")))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCacheHas(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	digest := papervault.DigestBytes([]byte("content"))

	has, err := cache.Has(ctx, digest)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, cache.Put(ctx, digest, &papervault.Knowledge{Title: "T"}))

	has, err = cache.Has(ctx, digest)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCacheDelete(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	digest := papervault.DigestBytes([]byte("content"))

	require.NoError(t, cache.Put(ctx, digest, &papervault.Knowledge{Title: "T"}))
	require.NoError(t, cache.Delete(ctx, digest))

	_, err := cache.Get(ctx, digest)
	require.ErrorIs(t, err, ErrNotFound)

	// Idempotent.
	require.NoError(t, cache.Delete(ctx, digest))
}
