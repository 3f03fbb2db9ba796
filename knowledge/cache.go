// Package knowledge provides the digest-keyed cache of extracted
// document metadata and the extraction client that fills it.
package knowledge

import (
	"context"
	"errors"

	papervault "github.com/wolfeidau/paper-vault"
	"github.com/wolfeidau/paper-vault/store/metadb"
)

// ErrNotFound is returned when no knowledge entry exists for a digest.
var ErrNotFound = errors.New("knowledge: not found")

// Cache is a passive cache of extraction results keyed by content
// digest. Entries have no expiry: the extracted content of an
// immutable blob never changes. The cache never triggers extraction
// itself; callers extract when Has returns false.
type Cache struct {
	db metadb.MetaDB
}

// NewCache creates a cache over the given metadata database.
func NewCache(db metadb.MetaDB) *Cache {
	return &Cache{db: db}
}

// Has reports whether an entry exists for the digest.
func (c *Cache) Has(ctx context.Context, d papervault.Digest) (bool, error) {
	return c.db.HasKnowledge(ctx, d.String())
}

// Get returns the entry for the digest, or ErrNotFound.
func (c *Cache) Get(ctx context.Context, d papervault.Digest) (*papervault.Knowledge, error) {
	k, err := c.db.GetKnowledge(ctx, d.String())
	if err != nil {
		if errors.Is(err, metadb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return k, nil
}

// Put stores an entry for the digest.
func (c *Cache) Put(ctx context.Context, d papervault.Digest, k *papervault.Knowledge) error {
	return c.db.PutKnowledge(ctx, d.String(), k)
}

// Delete removes the entry for the digest. Used by the collector when
// a blob is reclaimed. Idempotent.
func (c *Cache) Delete(ctx context.Context, d papervault.Digest) error {
	err := c.db.DeleteKnowledge(ctx, d.String())
	if err != nil && !errors.Is(err, metadb.ErrNotFound) {
		return err
	}
	return nil
}
