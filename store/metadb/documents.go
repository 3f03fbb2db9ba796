package metadb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	papervault "github.com/wolfeidau/paper-vault"
)

// CreateDocument inserts a new active document. The digest reference
// index is updated in the same transaction so the reference-safety
// checker always sees a consistent view.
func (b *BoltDB) CreateDocument(_ context.Context, doc *papervault.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		if docs == nil {
			return fmt.Errorf("documents bucket not found")
		}

		key := makeDocKey(doc.Project, doc.ID)
		if docs.Get(key) != nil {
			return papervault.ErrDuplicateDocument
		}

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshaling document: %w", err)
		}
		if err := docs.Put(key, data); err != nil {
			return fmt.Errorf("putting document: %w", err)
		}

		digestIdx := tx.Bucket(bucketDocsDigest)
		if digestIdx == nil {
			return fmt.Errorf("documents_by_digest bucket not found")
		}
		return digestIdx.Put(makeDigestIndexKey(doc.Digest.String(), doc.Project, doc.ID), nil)
	})
}

// GetDocument retrieves a document by key.
func (b *BoltDB) GetDocument(_ context.Context, key papervault.DocumentKey) (*papervault.Document, error) {
	var doc papervault.Document
	err := b.db.View(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		if docs == nil {
			return ErrNotFound
		}
		val := docs.Get(makeDocKey(key.Project, key.ID))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// SoftDeleteDocuments moves documents to the trash. Each document gets
// deleted_at = now and trash_until = now + RetentionPeriod, and an
// entry in the trash expiry index. Idempotent per id: documents
// already in the trash keep their original deletion time. Missing ids
// are skipped.
func (b *BoltDB) SoftDeleteDocuments(_ context.Context, keys []papervault.DocumentKey) error {
	now := b.now()

	return b.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		expiryIdx := tx.Bucket(bucketTrashByExpiry)
		reverseIdx := tx.Bucket(bucketTrashExpiryByDoc)
		if docs == nil || expiryIdx == nil || reverseIdx == nil {
			return fmt.Errorf("registry buckets not found")
		}

		for _, key := range keys {
			docKey := makeDocKey(key.Project, key.ID)
			val := docs.Get(docKey)
			if val == nil {
				b.logger.Debug("soft delete skipping missing document", "doc", key)
				continue
			}

			var doc papervault.Document
			if err := json.Unmarshal(val, &doc); err != nil {
				return fmt.Errorf("unmarshaling document %s: %w", key, err)
			}

			if doc.Trashed() {
				continue
			}

			doc.Lifecycle = papervault.Trash(now)
			doc.Version++

			data, err := json.Marshal(&doc)
			if err != nil {
				return fmt.Errorf("marshaling document %s: %w", key, err)
			}
			if err := docs.Put(docKey, data); err != nil {
				return fmt.Errorf("putting document %s: %w", key, err)
			}

			expiryKey := makeTrashExpiryKey(doc.TrashUntil, key.Project, key.ID)
			if err := expiryIdx.Put(expiryKey, docKey); err != nil {
				return fmt.Errorf("putting trash expiry index: %w", err)
			}
			if err := reverseIdx.Put(docKey, encodeTimestamp(doc.TrashUntil)); err != nil {
				return fmt.Errorf("putting trash reverse index: %w", err)
			}
		}
		return nil
	})
}

// RestoreDocuments returns trashed documents to the active state,
// clearing both trash markers and removing the expiry index entries.
// Restoring an active or missing document is an error for that id;
// the remaining ids are still processed.
func (b *BoltDB) RestoreDocuments(_ context.Context, keys []papervault.DocumentKey) error {
	var errs []error

	err := b.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		expiryIdx := tx.Bucket(bucketTrashByExpiry)
		reverseIdx := tx.Bucket(bucketTrashExpiryByDoc)
		if docs == nil || expiryIdx == nil || reverseIdx == nil {
			return fmt.Errorf("registry buckets not found")
		}

		for _, key := range keys {
			docKey := makeDocKey(key.Project, key.ID)
			val := docs.Get(docKey)
			if val == nil {
				errs = append(errs, fmt.Errorf("restore %s: %w", key, papervault.ErrDocumentNotFound))
				continue
			}

			var doc papervault.Document
			if err := json.Unmarshal(val, &doc); err != nil {
				return fmt.Errorf("unmarshaling document %s: %w", key, err)
			}

			if doc.Active() {
				errs = append(errs, fmt.Errorf("restore %s: %w", key, papervault.ErrNotTrashed))
				continue
			}

			doc.Lifecycle = papervault.Lifecycle{}
			doc.Version++

			data, err := json.Marshal(&doc)
			if err != nil {
				return fmt.Errorf("marshaling document %s: %w", key, err)
			}
			if err := docs.Put(docKey, data); err != nil {
				return fmt.Errorf("putting document %s: %w", key, err)
			}

			if err := b.removeTrashIndex(expiryIdx, reverseIdx, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

// removeTrashIndex deletes the forward and reverse trash index entries
// for a document, using the reverse index for an O(1) lookup.
func (b *BoltDB) removeTrashIndex(expiryIdx, reverseIdx *bbolt.Bucket, key papervault.DocumentKey) error {
	docKey := makeDocKey(key.Project, key.ID)
	tsBytes := reverseIdx.Get(docKey)
	if tsBytes == nil {
		return nil
	}
	trashUntil := decodeTimestamp(tsBytes)
	if err := expiryIdx.Delete(makeTrashExpiryKey(trashUntil, key.Project, key.ID)); err != nil {
		return fmt.Errorf("deleting trash expiry index: %w", err)
	}
	if err := reverseIdx.Delete(docKey); err != nil {
		return fmt.Errorf("deleting trash reverse index: %w", err)
	}
	return nil
}

// ListActive returns all documents in the project that are not trashed.
func (b *BoltDB) ListActive(ctx context.Context, project string) ([]*papervault.Document, error) {
	return b.listProject(ctx, project, func(doc *papervault.Document) bool {
		return doc.Active()
	})
}

// ListTrashed returns all documents in the project that are in the trash.
func (b *BoltDB) ListTrashed(ctx context.Context, project string) ([]*papervault.Document, error) {
	return b.listProject(ctx, project, func(doc *papervault.Document) bool {
		return doc.Trashed()
	})
}

func (b *BoltDB) listProject(_ context.Context, project string, keep func(*papervault.Document) bool) ([]*papervault.Document, error) {
	var out []*papervault.Document
	prefix := append([]byte(project), 0)

	err := b.db.View(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		if docs == nil {
			return nil
		}

		cursor := docs.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var doc papervault.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("unmarshaling document %s: %w", k, err)
			}
			if keep(&doc) {
				out = append(out, &doc)
			}
		}
		return nil
	})
	return out, err
}

// HardDeleteDocument removes the document record, its annotations and
// its index entries in one transaction. It never touches the blob;
// blob deletion is a separate, safety-checked collector step.
// Deleting a missing document is a no-op.
func (b *BoltDB) HardDeleteDocument(_ context.Context, key papervault.DocumentKey) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		if docs == nil {
			return nil
		}

		docKey := makeDocKey(key.Project, key.ID)
		val := docs.Get(docKey)
		if val == nil {
			// The row is already gone, but index entries can outlive it
			// after a partial failure. Clear them, or the collector would
			// re-scan the same stale expiry entry on every sweep.
			return b.removeStaleIndexes(tx, key, docKey)
		}

		var doc papervault.Document
		if err := json.Unmarshal(val, &doc); err != nil {
			return fmt.Errorf("unmarshaling document %s: %w", key, err)
		}

		if err := docs.Delete(docKey); err != nil {
			return fmt.Errorf("deleting document %s: %w", key, err)
		}

		if digestIdx := tx.Bucket(bucketDocsDigest); digestIdx != nil {
			idxKey := makeDigestIndexKey(doc.Digest.String(), key.Project, key.ID)
			if err := digestIdx.Delete(idxKey); err != nil {
				return fmt.Errorf("deleting digest index: %w", err)
			}
		}

		expiryIdx := tx.Bucket(bucketTrashByExpiry)
		reverseIdx := tx.Bucket(bucketTrashExpiryByDoc)
		if expiryIdx != nil && reverseIdx != nil {
			if err := b.removeTrashIndex(expiryIdx, reverseIdx, key); err != nil {
				return err
			}
		}

		// Annotations are owned by the document: deleted unconditionally.
		if anns := tx.Bucket(bucketAnnotations); anns != nil {
			annPrefix := append(docKey, 0)
			cursor := anns.Cursor()
			for k, _ := cursor.Seek(annPrefix); k != nil && bytes.HasPrefix(k, annPrefix); k, _ = cursor.Next() {
				if err := cursor.Delete(); err != nil {
					return fmt.Errorf("deleting annotation: %w", err)
				}
			}
		}

		return nil
	})
}

// removeStaleIndexes drops trash and digest index entries for a
// document whose row no longer exists. The digest cannot be recovered
// from the missing row, so the digest index is swept by document-key
// suffix instead.
func (b *BoltDB) removeStaleIndexes(tx *bbolt.Tx, key papervault.DocumentKey, docKey []byte) error {
	expiryIdx := tx.Bucket(bucketTrashByExpiry)
	reverseIdx := tx.Bucket(bucketTrashExpiryByDoc)
	if expiryIdx != nil && reverseIdx != nil {
		if err := b.removeTrashIndex(expiryIdx, reverseIdx, key); err != nil {
			return err
		}
	}

	digestIdx := tx.Bucket(bucketDocsDigest)
	if digestIdx == nil {
		return nil
	}
	suffix := append([]byte{0}, docKey...)
	cursor := digestIdx.Cursor()
	for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
		if bytes.HasSuffix(k, suffix) {
			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("deleting stale digest index: %w", err)
			}
		}
	}
	return nil
}

// GetExpiredDocuments returns documents whose retention window elapsed
// before the given time, in expiry order.
func (b *BoltDB) GetExpiredDocuments(_ context.Context, before time.Time, limit int) ([]papervault.DocumentKey, error) {
	var keys []papervault.DocumentKey
	beforeTs := encodeTimestamp(before)

	err := b.db.View(func(tx *bbolt.Tx) error {
		expiryIdx := tx.Bucket(bucketTrashByExpiry)
		if expiryIdx == nil {
			return nil
		}

		cursor := expiryIdx.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			// Keys are sorted by timestamp, so stop when we pass the cutoff.
			// A document trashed at t0 expires at exactly t0 + RetentionPeriod,
			// so the comparison is > rather than >=.
			if bytes.Compare(k[:8], beforeTs) > 0 {
				break
			}

			if limit > 0 && len(keys) >= limit {
				break
			}

			_, project, id := parseTrashExpiryKey(k)
			keys = append(keys, papervault.DocumentKey{Project: project, ID: id})
		}
		return nil
	})
	return keys, err
}

// CountActiveByDigest counts active documents referencing the digest,
// across all projects, skipping any keys in the exclude list. The
// collector excludes the document being removed in the current pass.
func (b *BoltDB) CountActiveByDigest(_ context.Context, digest string, exclude ...papervault.DocumentKey) (int, error) {
	excluded := make(map[papervault.DocumentKey]struct{}, len(exclude))
	for _, k := range exclude {
		excluded[k] = struct{}{}
	}

	count := 0
	prefix := append([]byte(digest), 0)

	err := b.db.View(func(tx *bbolt.Tx) error {
		digestIdx := tx.Bucket(bucketDocsDigest)
		docs := tx.Bucket(bucketDocuments)
		if digestIdx == nil || docs == nil {
			return nil
		}

		cursor := digestIdx.Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			project, id := parseDocKey(k[len(prefix):])
			if _, ok := excluded[papervault.DocumentKey{Project: project, ID: id}]; ok {
				continue
			}

			val := docs.Get(makeDocKey(project, id))
			if val == nil {
				// Stale index entry; skip rather than fail the count.
				continue
			}

			var doc papervault.Document
			if err := json.Unmarshal(val, &doc); err != nil {
				return fmt.Errorf("unmarshaling document %s/%s: %w", project, id, err)
			}
			if doc.Active() {
				count++
			}
		}
		return nil
	})
	return count, err
}

// PutAnnotation stores an annotation. The owning document must exist.
func (b *BoltDB) PutAnnotation(_ context.Context, a *papervault.Annotation) error {
	if a.ID == "" || a.Project == "" || a.DocumentID == "" {
		return fmt.Errorf("annotation id, project and document id are required")
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		if docs == nil || docs.Get(makeDocKey(a.Project, a.DocumentID)) == nil {
			return papervault.ErrDocumentNotFound
		}

		anns := tx.Bucket(bucketAnnotations)
		if anns == nil {
			return fmt.Errorf("annotations bucket not found")
		}

		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshaling annotation: %w", err)
		}
		return anns.Put(makeAnnotationKey(a.Project, a.DocumentID, a.ID), data)
	})
}

// ListAnnotations returns all annotations owned by a document.
func (b *BoltDB) ListAnnotations(_ context.Context, project, docID string) ([]*papervault.Annotation, error) {
	var out []*papervault.Annotation
	prefix := append(makeDocKey(project, docID), 0)

	err := b.db.View(func(tx *bbolt.Tx) error {
		anns := tx.Bucket(bucketAnnotations)
		if anns == nil {
			return nil
		}

		cursor := anns.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var a papervault.Annotation
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("unmarshaling annotation: %w", err)
			}
			out = append(out, &a)
		}
		return nil
	})
	return out, err
}
