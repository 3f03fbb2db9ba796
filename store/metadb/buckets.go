package metadb

import (
	"encoding/binary"
	"time"
)

// Bucket names for bbolt storage.
var (
	// Blob tracking
	bucketBlobsByDigest = []byte("blobs_by_digest") // digest hex -> BlobEntry JSON

	// Knowledge cache
	bucketKnowledgeByDigest = []byte("knowledge_by_digest") // digest hex -> zstd(Knowledge JSON)

	// Document registry
	bucketDocuments  = []byte("documents")           // project|id -> Document JSON
	bucketDocsDigest = []byte("documents_by_digest") // digest|project|id -> nil (reference index)

	// Trash expiry indexes
	bucketTrashByExpiry    = []byte("trash_by_expiry")     // timestamp|project|id -> project|id
	bucketTrashExpiryByDoc = []byte("trash_expiry_by_doc") // project|id -> 8-byte timestamp (reverse index for O(1) delete)

	// Annotations owned by documents
	bucketAnnotations = []byte("annotations") // project|docid|annid -> Annotation JSON
)

// encodeTimestamp converts a time.Time to a fixed-width big-endian byte slice.
// This ensures correct lexicographic ordering for time-based indexes.
// Uses an offset to handle negative nanosecond values (pre-1970 dates).
func encodeTimestamp(t time.Time) []byte {
	buf := make([]byte, 8)
	ns := t.UnixNano()
	// Offset by math.MinInt64 to convert signed to unsigned while preserving order.
	binary.BigEndian.PutUint64(buf, uint64(ns-(-1<<63))) //nolint:gosec // intentional signed->unsigned shift
	return buf
}

// decodeTimestamp converts a big-endian byte slice back to time.Time.
func decodeTimestamp(b []byte) time.Time {
	if len(b) < 8 {
		return time.Time{}
	}
	u := binary.BigEndian.Uint64(b[:8])
	ns := int64(u) + (-1 << 63) //nolint:gosec // intentional unsigned->signed shift
	return time.Unix(0, ns).UTC()
}

// makeDocKey creates a compound key for a document.
// Format: [project][separator][id]
func makeDocKey(project, id string) []byte {
	result := make([]byte, len(project)+1+len(id))
	copy(result, project)
	result[len(project)] = 0 // null separator
	copy(result[len(project)+1:], id)
	return result
}

// parseDocKey extracts project and id from a compound document key.
func parseDocKey(data []byte) (project, id string) {
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), string(data[i+1:])
		}
	}
	return string(data), ""
}

// makeTrashExpiryKey creates a key for the trash_by_expiry index.
// Format: [8-byte timestamp][project][separator][id]
func makeTrashExpiryKey(trashUntil time.Time, project, id string) []byte {
	ts := encodeTimestamp(trashUntil)
	docKey := makeDocKey(project, id)
	result := make([]byte, 8+len(docKey))
	copy(result[:8], ts)
	copy(result[8:], docKey)
	return result
}

// parseTrashExpiryKey extracts the expiry time and document key parts
// from a trash_by_expiry index key.
func parseTrashExpiryKey(data []byte) (trashUntil time.Time, project, id string) {
	if len(data) < 9 {
		return time.Time{}, "", ""
	}
	trashUntil = decodeTimestamp(data[:8])
	project, id = parseDocKey(data[8:])
	return
}

// makeDigestIndexKey creates a key for the documents_by_digest index.
// Format: [digest hex][separator][project][separator][id]
func makeDigestIndexKey(digest, project, id string) []byte {
	docKey := makeDocKey(project, id)
	result := make([]byte, len(digest)+1+len(docKey))
	copy(result, digest)
	result[len(digest)] = 0
	copy(result[len(digest)+1:], docKey)
	return result
}

// makeAnnotationKey creates a compound key for an annotation.
// Format: [project][separator][docid][separator][annid]
func makeAnnotationKey(project, docID, annID string) []byte {
	docKey := makeDocKey(project, docID)
	result := make([]byte, len(docKey)+1+len(annID))
	copy(result, docKey)
	result[len(docKey)] = 0
	copy(result[len(docKey)+1:], annID)
	return result
}
