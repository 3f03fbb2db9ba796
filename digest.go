package papervault

import (
	"fmt"
	"strings"
)

// Blob storage key layout shared by the local and durable backends.

const blobKeyPrefix = "blobs"

// BlobStorageKey returns the backend storage key for a blob.
// Format: blobs/{hex[:2]}/{hex}
func BlobStorageKey(d Digest) string {
	hex := d.String()
	return blobKeyPrefix + "/" + hex[:2] + "/" + hex
}

// BlobKeyPrefix is the key prefix under which all blobs are stored.
// The garbage collector lists this prefix when scanning for orphans.
const BlobKeyPrefix = blobKeyPrefix + "/"

// ParseBlobStorageKey extracts a Digest from a backend storage key.
func ParseBlobStorageKey(key string) (Digest, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != blobKeyPrefix {
		return Digest{}, fmt.Errorf("invalid blob key format: %s", key)
	}
	return ParseDigest(parts[2])
}
