package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	papervault "github.com/wolfeidau/paper-vault"
	"github.com/wolfeidau/paper-vault/backend"
	"github.com/wolfeidau/paper-vault/store/metadb"
)

// BlobStore implements Store over a local cache backend and a durable
// remote backend, with blob metadata tracked in metadb.
type BlobStore struct {
	local   backend.Backend
	durable backend.Backend
	db      metadb.MetaDB
	logger  *slog.Logger
	now     func() time.Time
}

// BlobStoreOption configures a BlobStore.
type BlobStoreOption func(*BlobStore)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) BlobStoreOption {
	return func(s *BlobStore) {
		s.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) BlobStoreOption {
	return func(s *BlobStore) {
		s.now = now
	}
}

// NewBlobStore creates a blob store over the given backends. The local
// backend is a cache; the durable backend is the source of truth.
func NewBlobStore(local, durable backend.Backend, db metadb.MetaDB, opts ...BlobStoreOption) *BlobStore {
	s := &BlobStore{
		local:   local,
		durable: durable,
		db:      db,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exists checks the local cache first, then the durable store.
func (s *BlobStore) Exists(ctx context.Context, d papervault.Digest) (bool, error) {
	key := papervault.BlobStorageKey(d)

	exists, err := s.local.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("checking local cache: %w", err)
	}
	if exists {
		return true, nil
	}

	exists, err = s.durable.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("checking durable store: %w", err)
	}
	return exists, nil
}

// Put stores content under its digest. The upload is streamed to a
// temp file while re-hashing, then written locally and durably.
//
// Dedup: if a metadata record already exists for the digest, nothing
// is written. Concurrent duplicate writers both pass the check and
// both write identical immutable bytes, so the race is benign.
//
// Orphan recovery: a previous Put that crashed after the durable
// upload but before the metadata record leaves durable bytes with no
// record. A retried Put detects the durable bytes, skips the upload
// and only rewrites the record.
func (s *BlobStore) Put(ctx context.Context, d papervault.Digest, r io.Reader, mediaType string) (*PutResult, error) {
	digest := d.String()
	key := papervault.BlobStorageKey(d)

	if entry, err := s.db.GetBlob(ctx, digest); err == nil {
		// Best effort, a stale access time is harmless.
		_ = s.db.TouchBlob(ctx, digest)
		return &PutResult{Digest: d, Size: entry.Size, Exists: true}, nil
	} else if !errors.Is(err, metadb.ErrNotFound) {
		return nil, fmt.Errorf("checking blob record: %w", err)
	}

	// Spool to a temp file so large uploads are not held in memory and
	// the digest can be verified before any backend write.
	tmpFile, err := os.CreateTemp("", "vault-upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmpFile.Name()) }()
	defer func() { _ = tmpFile.Close() }()

	hr := papervault.NewHashingReader(r)
	if _, err := io.Copy(tmpFile, hr); err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}

	if got := hr.Sum(); got != d {
		return nil, fmt.Errorf("%w: expected %s, got %s", papervault.ErrDigestMismatch, d.ShortString(), got.ShortString())
	}
	size := hr.BytesRead()

	durableExists, err := s.durable.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("checking durable store: %w", err)
	}

	if !durableExists {
		if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seeking temp file: %w", err)
		}
		if err := s.durable.Write(ctx, key, tmpFile); err != nil {
			return nil, fmt.Errorf("writing durable blob: %w", err)
		}
	} else {
		s.logger.Info("recovering orphaned durable blob", "digest", d.ShortString())
	}

	// Local cache fill is best effort; the durable copy is authoritative.
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking temp file: %w", err)
	}
	if err := s.local.Write(ctx, key, tmpFile); err != nil {
		s.logger.Warn("failed to fill local cache", "digest", d.ShortString(), "error", err)
	}

	now := s.now()
	entry := &metadb.BlobEntry{
		Digest:     digest,
		Size:       size,
		MediaType:  mediaType,
		CreatedAt:  now,
		LastAccess: now,
	}
	if err := s.db.PutBlob(ctx, entry); err != nil {
		// The durable bytes are in place; the next Put for this digest
		// self-heals by rewriting only this record.
		return nil, fmt.Errorf("recording blob metadata: %w", err)
	}

	return &PutResult{Digest: d, Size: size, Exists: false}, nil
}

// Get retrieves content by digest: local cache first, then the
// durable store with a local backfill on hit.
func (s *BlobStore) Get(ctx context.Context, d papervault.Digest) (io.ReadCloser, error) {
	key := papervault.BlobStorageKey(d)

	rc, err := s.local.Read(ctx, key)
	if err == nil {
		s.touch(d)
		return rc, nil
	}
	if !errors.Is(err, backend.ErrNotFound) {
		return nil, fmt.Errorf("reading local cache: %w", err)
	}

	rc, err = s.durable.Read(ctx, key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("reading durable blob: %w", err)
	}
	defer func() { _ = rc.Close() }()

	// Backfill through the local cache, then serve the cached copy so
	// the durable stream is only read once. The backfill is best effort
	// like the cache fill in Put: a full or read-only cache disk must
	// not break reads, so on failure the durable object is re-read and
	// served directly.
	if err := s.local.Write(ctx, key, rc); err != nil {
		s.logger.Warn("failed to backfill local cache", "digest", d.ShortString(), "error", err)
		fresh, err := s.durable.Read(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("reading durable blob: %w", err)
		}
		s.touch(d)
		return fresh, nil
	}

	s.touch(d)
	return s.local.Read(ctx, key)
}

// GetBytes is a convenience method for retrieving content as bytes.
func (s *BlobStore) GetBytes(ctx context.Context, d papervault.Digest) ([]byte, error) {
	rc, err := s.Get(ctx, d)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	return data, nil
}

// Delete removes the blob from both backends and drops its metadata
// record. Callers must have verified reference safety first; the store
// does not re-check. Idempotent.
func (s *BlobStore) Delete(ctx context.Context, d papervault.Digest) error {
	key := papervault.BlobStorageKey(d)

	if err := s.durable.Delete(ctx, key); err != nil && !errors.Is(err, backend.ErrNotFound) {
		return fmt.Errorf("deleting durable blob: %w", err)
	}
	if err := s.local.Delete(ctx, key); err != nil && !errors.Is(err, backend.ErrNotFound) {
		return fmt.Errorf("deleting local blob: %w", err)
	}
	if err := s.db.DeleteBlob(ctx, d.String()); err != nil && !errors.Is(err, metadb.ErrNotFound) {
		return fmt.Errorf("deleting blob record: %w", err)
	}
	return nil
}

// TotalSize returns the aggregate size of all tracked blobs.
func (s *BlobStore) TotalSize(ctx context.Context) (int64, error) {
	return s.db.TotalBlobSize(ctx)
}

// Size returns the recorded size of a blob.
func (s *BlobStore) Size(ctx context.Context, d papervault.Digest) (int64, error) {
	entry, err := s.db.GetBlob(ctx, d.String())
	if err != nil {
		if errors.Is(err, metadb.ErrNotFound) {
			return 0, backend.ErrNotFound
		}
		return 0, err
	}
	return entry.Size, nil
}

func (s *BlobStore) touch(d papervault.Digest) {
	// Access-time updates are advisory.
	go func() { _ = s.db.TouchBlob(context.Background(), d.String()) }()
}

// Compile-time interface check
var _ Store = (*BlobStore)(nil)
