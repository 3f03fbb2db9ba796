// Package store provides the content-addressable blob store: a local
// filesystem cache in front of a durable remote backend, with
// upload-once deduplication keyed by BLAKE3 digest.
package store

import (
	"context"
	"io"

	papervault "github.com/wolfeidau/paper-vault"
)

// Store provides content-addressable blob operations. Content is
// stored by digest, so identical bytes are stored exactly once
// system-wide regardless of how many documents reference them.
type Store interface {
	// Exists checks if a blob with the given digest exists, consulting
	// the local cache first and the durable store second.
	Exists(ctx context.Context, d papervault.Digest) (bool, error)

	// Put stores content under its digest. If a blob for the digest
	// already exists this is a no-op, including under concurrent
	// duplicate writers.
	Put(ctx context.Context, d papervault.Digest, r io.Reader, mediaType string) (*PutResult, error)

	// Get retrieves content by digest, backfilling the local cache on
	// a durable-store hit. Returns backend.ErrNotFound if absent.
	// The caller must close the returned ReadCloser.
	Get(ctx context.Context, d papervault.Digest) (io.ReadCloser, error)

	// Delete removes the blob bytes and its metadata record.
	// Unconditional: callers must have verified reference safety.
	Delete(ctx context.Context, d papervault.Digest) error

	// TotalSize returns the aggregate size of all tracked blobs.
	TotalSize(ctx context.Context) (int64, error)
}

// PutResult contains information about a Put operation.
type PutResult struct {
	Digest papervault.Digest
	Size   int64
	// Exists is true if the blob already existed and no durable
	// upload was performed.
	Exists bool
}
