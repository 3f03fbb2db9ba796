// Package metadb provides metadata storage using bbolt for the vault:
// blob records, knowledge entries, the per-project document registry
// and the trash-expiry index.
package metadb

import "time"

// BlobEntry contains metadata about a stored blob. There is exactly
// one entry per digest; the entry is written on first upload and
// removed only when the garbage collector deletes the blob.
type BlobEntry struct {
	Digest     string    `json:"digest"`
	Size       int64     `json:"size"`
	MediaType  string    `json:"media_type,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}
