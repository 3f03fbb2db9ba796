package metadb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	papervault "github.com/wolfeidau/paper-vault"
)

func testDocument(project, id string, content []byte) *papervault.Document {
	return &papervault.Document{
		ID:        id,
		Project:   project,
		Digest:    papervault.DigestBytes(content),
		Title:     "Test Document " + id,
		MediaType: "application/pdf",
		Size:      int64(len(content)),
		Version:   1,
		CreatedAt: time.Now().Truncate(time.Second),
	}
}

func TestBoltDB_CreateGetDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trip", func(t *testing.T) {
		db := newTestBoltDB(t)
		doc := testDocument("thesis", "doc-1", []byte("content"))

		require.NoError(t, db.CreateDocument(ctx, doc))

		got, err := db.GetDocument(ctx, doc.Key())
		require.NoError(t, err)
		assert.Equal(t, doc.ID, got.ID)
		assert.Equal(t, doc.Project, got.Project)
		assert.Equal(t, doc.Digest, got.Digest)
		assert.True(t, got.Active())
	})

	t.Run("duplicate id in same project", func(t *testing.T) {
		db := newTestBoltDB(t)
		doc := testDocument("thesis", "doc-1", []byte("content"))

		require.NoError(t, db.CreateDocument(ctx, doc))
		require.ErrorIs(t, db.CreateDocument(ctx, doc), papervault.ErrDuplicateDocument)
	})

	t.Run("same id in different projects", func(t *testing.T) {
		db := newTestBoltDB(t)

		require.NoError(t, db.CreateDocument(ctx, testDocument("thesis", "doc-1", []byte("a"))))
		require.NoError(t, db.CreateDocument(ctx, testDocument("survey", "doc-1", []byte("b"))))
	})

	t.Run("invalid document rejected", func(t *testing.T) {
		db := newTestBoltDB(t)

		err := db.CreateDocument(ctx, &papervault.Document{ID: "doc-1"})
		require.Error(t, err)
	})

	t.Run("missing document", func(t *testing.T) {
		db := newTestBoltDB(t)

		_, err := db.GetDocument(ctx, papervault.DocumentKey{Project: "thesis", ID: "nope"})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBoltDB_SoftDeleteDocuments(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("sets the trash window", func(t *testing.T) {
		db := newTestBoltDB(t, WithNow(func() time.Time { return now }))
		doc := testDocument("thesis", "doc-1", []byte("content"))
		require.NoError(t, db.CreateDocument(ctx, doc))

		require.NoError(t, db.SoftDeleteDocuments(ctx, []papervault.DocumentKey{doc.Key()}))

		got, err := db.GetDocument(ctx, doc.Key())
		require.NoError(t, err)
		assert.True(t, got.Trashed())
		assert.True(t, now.Equal(got.DeletedAt))
		assert.True(t, now.Add(papervault.RetentionPeriod).Equal(got.TrashUntil))
		assert.Equal(t, 2, got.Version)
	})

	t.Run("idempotent, keeps original deletion time", func(t *testing.T) {
		current := now
		db := newTestBoltDB(t, WithNow(func() time.Time { return current }))
		doc := testDocument("thesis", "doc-1", []byte("content"))
		require.NoError(t, db.CreateDocument(ctx, doc))

		require.NoError(t, db.SoftDeleteDocuments(ctx, []papervault.DocumentKey{doc.Key()}))

		current = now.Add(48 * time.Hour)
		require.NoError(t, db.SoftDeleteDocuments(ctx, []papervault.DocumentKey{doc.Key()}))

		got, err := db.GetDocument(ctx, doc.Key())
		require.NoError(t, err)
		assert.True(t, now.Equal(got.DeletedAt))
		assert.Equal(t, 2, got.Version)
	})

	t.Run("missing ids are skipped", func(t *testing.T) {
		db := newTestBoltDB(t)
		doc := testDocument("thesis", "doc-1", []byte("content"))
		require.NoError(t, db.CreateDocument(ctx, doc))

		keys := []papervault.DocumentKey{
			{Project: "thesis", ID: "missing"},
			doc.Key(),
		}
		require.NoError(t, db.SoftDeleteDocuments(ctx, keys))

		got, err := db.GetDocument(ctx, doc.Key())
		require.NoError(t, err)
		assert.True(t, got.Trashed())
	})
}

func TestBoltDB_RestoreDocuments(t *testing.T) {
	ctx := context.Background()

	t.Run("clears trash state", func(t *testing.T) {
		db := newTestBoltDB(t)
		doc := testDocument("thesis", "doc-1", []byte("content"))
		require.NoError(t, db.CreateDocument(ctx, doc))
		require.NoError(t, db.SoftDeleteDocuments(ctx, []papervault.DocumentKey{doc.Key()}))

		require.NoError(t, db.RestoreDocuments(ctx, []papervault.DocumentKey{doc.Key()}))

		got, err := db.GetDocument(ctx, doc.Key())
		require.NoError(t, err)
		assert.True(t, got.Active())
		assert.True(t, got.DeletedAt.IsZero())
		assert.True(t, got.TrashUntil.IsZero())
		assert.Equal(t, 3, got.Version)

		// No longer eligible for collection.
		expired, err := db.GetExpiredDocuments(ctx, time.Now().Add(papervault.RetentionPeriod*2), 0)
		require.NoError(t, err)
		assert.Empty(t, expired)
	})

	t.Run("restoring an active document errors", func(t *testing.T) {
		db := newTestBoltDB(t)
		doc := testDocument("thesis", "doc-1", []byte("content"))
		require.NoError(t, db.CreateDocument(ctx, doc))

		err := db.RestoreDocuments(ctx, []papervault.DocumentKey{doc.Key()})
		require.ErrorIs(t, err, papervault.ErrNotTrashed)
	})

	t.Run("restoring a missing document errors", func(t *testing.T) {
		db := newTestBoltDB(t)

		err := db.RestoreDocuments(ctx, []papervault.DocumentKey{{Project: "thesis", ID: "nope"}})
		require.ErrorIs(t, err, papervault.ErrDocumentNotFound)
	})

	t.Run("partial failure still restores the rest", func(t *testing.T) {
		db := newTestBoltDB(t)
		doc := testDocument("thesis", "doc-1", []byte("content"))
		require.NoError(t, db.CreateDocument(ctx, doc))
		require.NoError(t, db.SoftDeleteDocuments(ctx, []papervault.DocumentKey{doc.Key()}))

		keys := []papervault.DocumentKey{
			{Project: "thesis", ID: "missing"},
			doc.Key(),
		}
		err := db.RestoreDocuments(ctx, keys)
		require.ErrorIs(t, err, papervault.ErrDocumentNotFound)

		got, err := db.GetDocument(ctx, doc.Key())
		require.NoError(t, err)
		assert.True(t, got.Active())
	})
}

func TestBoltDB_ListDocuments(t *testing.T) {
	ctx := context.Background()
	db := newTestBoltDB(t)

	active := testDocument("thesis", "doc-active", []byte("a"))
	trashed := testDocument("thesis", "doc-trashed", []byte("b"))
	other := testDocument("survey", "doc-other", []byte("c"))

	require.NoError(t, db.CreateDocument(ctx, active))
	require.NoError(t, db.CreateDocument(ctx, trashed))
	require.NoError(t, db.CreateDocument(ctx, other))
	require.NoError(t, db.SoftDeleteDocuments(ctx, []papervault.DocumentKey{trashed.Key()}))

	activeList, err := db.ListActive(ctx, "thesis")
	require.NoError(t, err)
	require.Len(t, activeList, 1)
	assert.Equal(t, "doc-active", activeList[0].ID)

	trashedList, err := db.ListTrashed(ctx, "thesis")
	require.NoError(t, err)
	require.Len(t, trashedList, 1)
	assert.Equal(t, "doc-trashed", trashedList[0].ID)

	// Projects are isolated.
	otherList, err := db.ListActive(ctx, "survey")
	require.NoError(t, err)
	require.Len(t, otherList, 1)
	assert.Equal(t, "doc-other", otherList[0].ID)
}

func TestBoltDB_GetExpiredDocuments(t *testing.T) {
	ctx := context.Background()
	trashedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiresAt := trashedAt.Add(papervault.RetentionPeriod)

	newDB := func(t *testing.T) *BoltDB {
		db := newTestBoltDB(t, WithNow(func() time.Time { return trashedAt }))
		doc := testDocument("thesis", "doc-1", []byte("content"))
		require.NoError(t, db.CreateDocument(ctx, doc))
		require.NoError(t, db.SoftDeleteDocuments(ctx, []papervault.DocumentKey{doc.Key()}))
		return db
	}

	t.Run("not expired before the window elapses", func(t *testing.T) {
		db := newDB(t)

		keys, err := db.GetExpiredDocuments(ctx, expiresAt.Add(-time.Nanosecond), 0)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("expired exactly at the boundary", func(t *testing.T) {
		db := newDB(t)

		keys, err := db.GetExpiredDocuments(ctx, expiresAt, 0)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, papervault.DocumentKey{Project: "thesis", ID: "doc-1"}, keys[0])
	})

	t.Run("limit caps the batch", func(t *testing.T) {
		db := newTestBoltDB(t, WithNow(func() time.Time { return trashedAt }))
		var keys []papervault.DocumentKey
		for _, id := range []string{"doc-1", "doc-2", "doc-3"} {
			doc := testDocument("thesis", id, []byte(id))
			require.NoError(t, db.CreateDocument(ctx, doc))
			keys = append(keys, doc.Key())
		}
		require.NoError(t, db.SoftDeleteDocuments(ctx, keys))

		expired, err := db.GetExpiredDocuments(ctx, expiresAt.Add(time.Hour), 2)
		require.NoError(t, err)
		assert.Len(t, expired, 2)
	})
}

func TestBoltDB_CountActiveByDigest(t *testing.T) {
	ctx := context.Background()
	db := newTestBoltDB(t)

	content := []byte("shared content")
	digest := papervault.DigestBytes(content)

	doc1 := testDocument("thesis", "doc-1", content)
	doc2 := testDocument("survey", "doc-2", content)
	unrelated := testDocument("thesis", "doc-3", []byte("other content"))

	require.NoError(t, db.CreateDocument(ctx, doc1))
	require.NoError(t, db.CreateDocument(ctx, doc2))
	require.NoError(t, db.CreateDocument(ctx, unrelated))

	count, err := db.CountActiveByDigest(ctx, digest.String())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Excluded keys are not counted.
	count, err = db.CountActiveByDigest(ctx, digest.String(), doc1.Key())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Trashed documents are not active references.
	require.NoError(t, db.SoftDeleteDocuments(ctx, []papervault.DocumentKey{doc2.Key()}))

	count, err = db.CountActiveByDigest(ctx, digest.String())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBoltDB_HardDeleteDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("removes record, indexes and annotations", func(t *testing.T) {
		db := newTestBoltDB(t)
		content := []byte("content")
		doc := testDocument("thesis", "doc-1", content)
		require.NoError(t, db.CreateDocument(ctx, doc))

		require.NoError(t, db.PutAnnotation(ctx, &papervault.Annotation{
			ID:         "ann-1",
			Project:    "thesis",
			DocumentID: "doc-1",
			Kind:       papervault.AnnotationNote,
			Body:       "important",
		}))

		require.NoError(t, db.SoftDeleteDocuments(ctx, []papervault.DocumentKey{doc.Key()}))
		require.NoError(t, db.HardDeleteDocument(ctx, doc.Key()))

		_, err := db.GetDocument(ctx, doc.Key())
		require.ErrorIs(t, err, ErrNotFound)

		count, err := db.CountActiveByDigest(ctx, papervault.DigestBytes(content).String())
		require.NoError(t, err)
		assert.Zero(t, count)

		anns, err := db.ListAnnotations(ctx, "thesis", "doc-1")
		require.NoError(t, err)
		assert.Empty(t, anns)

		expired, err := db.GetExpiredDocuments(ctx, time.Now().Add(papervault.RetentionPeriod*2), 0)
		require.NoError(t, err)
		assert.Empty(t, expired)
	})

	t.Run("missing document is a no-op", func(t *testing.T) {
		db := newTestBoltDB(t)
		require.NoError(t, db.HardDeleteDocument(ctx, papervault.DocumentKey{Project: "thesis", ID: "nope"}))
	})

	t.Run("missing row still clears stale index entries", func(t *testing.T) {
		db := newTestBoltDB(t)
		content := []byte("content")
		doc := testDocument("thesis", "doc-1", content)
		require.NoError(t, db.CreateDocument(ctx, doc))
		require.NoError(t, db.SoftDeleteDocuments(ctx, []papervault.DocumentKey{doc.Key()}))

		// Drop only the document row, leaving the trash and digest index
		// entries behind as a partial failure would.
		require.NoError(t, db.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketDocuments).Delete(makeDocKey("thesis", "doc-1"))
		}))

		require.NoError(t, db.HardDeleteDocument(ctx, doc.Key()))

		// The expiry index no longer yields the document, so the
		// collector will not re-scan it on every sweep.
		expired, err := db.GetExpiredDocuments(ctx, time.Now().Add(papervault.RetentionPeriod*2), 0)
		require.NoError(t, err)
		assert.Empty(t, expired)

		// The digest reference index was swept too.
		require.NoError(t, db.db.View(func(tx *bbolt.Tx) error {
			k, _ := tx.Bucket(bucketDocsDigest).Cursor().First()
			assert.Nil(t, k)
			return nil
		}))
	})
}

func TestBoltDB_Annotations(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trip", func(t *testing.T) {
		db := newTestBoltDB(t)
		doc := testDocument("thesis", "doc-1", []byte("content"))
		require.NoError(t, db.CreateDocument(ctx, doc))

		a := &papervault.Annotation{
			ID:         "ann-1",
			Project:    "thesis",
			DocumentID: "doc-1",
			Kind:       papervault.AnnotationHighlight,
			Page:       3,
			Body:       "key result",
			CreatedAt:  time.Now().Truncate(time.Second),
		}
		require.NoError(t, db.PutAnnotation(ctx, a))

		got, err := db.ListAnnotations(ctx, "thesis", "doc-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, a.Kind, got[0].Kind)
		assert.Equal(t, a.Page, got[0].Page)
		assert.Equal(t, a.Body, got[0].Body)
	})

	t.Run("owning document must exist", func(t *testing.T) {
		db := newTestBoltDB(t)

		err := db.PutAnnotation(ctx, &papervault.Annotation{
			ID:         "ann-1",
			Project:    "thesis",
			DocumentID: "missing",
			Body:       "orphan",
		})
		require.ErrorIs(t, err, papervault.ErrDocumentNotFound)
	})
}
