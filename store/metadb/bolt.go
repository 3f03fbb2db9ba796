package metadb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	papervault "github.com/wolfeidau/paper-vault"
)

// BoltDB implements MetaDB using bbolt.
type BoltDB struct {
	db     *bbolt.DB
	codec  *knowledgeCodec
	logger *slog.Logger
	now    func() time.Time
	noSync bool // disables fsync per transaction (for testing only)
}

// BoltDBOption configures a BoltDB instance.
type BoltDBOption func(*BoltDB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) BoltDBOption {
	return func(b *BoltDB) {
		b.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) BoltDBOption {
	return func(b *BoltDB) {
		b.now = now
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) BoltDBOption {
	return func(b *BoltDB) {
		b.noSync = noSync
	}
}

// NewBoltDB creates a new BoltDB instance with options.
func NewBoltDB(opts ...BoltDBOption) *BoltDB {
	b := &BoltDB{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the database at the given path.
func (b *BoltDB) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	if err := b.createBuckets(); err != nil {
		_ = db.Close()
		return err
	}

	codec, err := newKnowledgeCodec()
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("creating knowledge codec: %w", err)
	}
	b.codec = codec

	b.logger.Debug("opened metadb", "path", path, "noSync", b.noSync)
	return nil
}

func (b *BoltDB) createBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			bucketBlobsByDigest,
			bucketKnowledgeByDigest,
			bucketDocuments,
			bucketDocsDigest,
			bucketTrashByExpiry,
			bucketTrashExpiryByDoc,
			bucketAnnotations,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database and releases resources.
func (b *BoltDB) Close() error {
	if b.codec != nil {
		b.codec.Close()
		b.codec = nil
	}
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing metadb")
	return b.db.Close()
}

// GetBlob retrieves blob metadata by digest.
func (b *BoltDB) GetBlob(_ context.Context, digest string) (*BlobEntry, error) {
	var entry BlobEntry
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBlobsByDigest)
		if bucket == nil {
			return ErrNotFound
		}

		val := bucket.Get([]byte(digest))
		if val == nil {
			return ErrNotFound
		}

		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// PutBlob stores blob metadata.
func (b *BoltDB) PutBlob(_ context.Context, entry *BlobEntry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBlobsByDigest)
		if bucket == nil {
			return fmt.Errorf("blobs_by_digest bucket not found")
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling blob entry: %w", err)
		}

		if err := bucket.Put([]byte(entry.Digest), data); err != nil {
			return fmt.Errorf("putting blob: %w", err)
		}

		return nil
	})
}

// DeleteBlob removes blob metadata.
func (b *BoltDB) DeleteBlob(_ context.Context, digest string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBlobsByDigest)
		if bucket == nil {
			return nil
		}

		return bucket.Delete([]byte(digest))
	})
}

// TouchBlob updates the last access time for a blob.
func (b *BoltDB) TouchBlob(_ context.Context, digest string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBlobsByDigest)
		if bucket == nil {
			return ErrNotFound
		}

		val := bucket.Get([]byte(digest))
		if val == nil {
			return ErrNotFound
		}

		var entry BlobEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			return fmt.Errorf("unmarshaling blob entry: %w", err)
		}

		entry.LastAccess = b.now()

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshaling blob entry: %w", err)
		}

		return bucket.Put([]byte(digest), data)
	})
}

// TotalBlobSize returns the total size of all tracked blobs. The
// uploader uses this for aggregate quota enforcement.
func (b *BoltDB) TotalBlobSize(_ context.Context) (int64, error) {
	var total int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBlobsByDigest)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(_, v []byte) error {
			var entry BlobEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil // Skip invalid entries
			}
			total += entry.Size
			return nil
		})
	})
	return total, err
}

// GetKnowledge retrieves a cached knowledge entry by digest.
func (b *BoltDB) GetKnowledge(_ context.Context, digest string) (*papervault.Knowledge, error) {
	var k papervault.Knowledge
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketKnowledgeByDigest)
		if bucket == nil {
			return ErrNotFound
		}

		val := bucket.Get([]byte(digest))
		if val == nil {
			return ErrNotFound
		}

		return b.codec.decode(val, &k)
	})
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// PutKnowledge stores a knowledge entry. Entries are immutable in
// practice: the cache never regenerates while a valid entry exists,
// but an overwrite with fresh data is permitted and harmless.
func (b *BoltDB) PutKnowledge(_ context.Context, digest string, k *papervault.Knowledge) error {
	data, err := b.codec.encode(k)
	if err != nil {
		return fmt.Errorf("encoding knowledge: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketKnowledgeByDigest)
		if bucket == nil {
			return fmt.Errorf("knowledge_by_digest bucket not found")
		}
		return bucket.Put([]byte(digest), data)
	})
}

// HasKnowledge checks whether a knowledge entry exists for the digest.
func (b *BoltDB) HasKnowledge(_ context.Context, digest string) (bool, error) {
	var exists bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketKnowledgeByDigest)
		if bucket == nil {
			return nil
		}
		exists = bucket.Get([]byte(digest)) != nil
		return nil
	})
	return exists, err
}

// DeleteKnowledge removes a knowledge entry.
func (b *BoltDB) DeleteKnowledge(_ context.Context, digest string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketKnowledgeByDigest)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(digest))
	})
}

// Compile-time interface check
var _ MetaDB = (*BoltDB)(nil)
