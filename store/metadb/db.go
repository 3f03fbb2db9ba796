package metadb

import (
	"context"
	"errors"
	"time"

	papervault "github.com/wolfeidau/paper-vault"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("metadb: not found")

// MetaDB provides metadata storage for the vault.
type MetaDB interface {
	// Lifecycle
	Open(path string) error
	Close() error

	// Blob tracking
	GetBlob(ctx context.Context, digest string) (*BlobEntry, error)
	PutBlob(ctx context.Context, entry *BlobEntry) error
	DeleteBlob(ctx context.Context, digest string) error
	TouchBlob(ctx context.Context, digest string) error
	TotalBlobSize(ctx context.Context) (int64, error)

	// Knowledge cache
	GetKnowledge(ctx context.Context, digest string) (*papervault.Knowledge, error)
	PutKnowledge(ctx context.Context, digest string, k *papervault.Knowledge) error
	HasKnowledge(ctx context.Context, digest string) (bool, error)
	DeleteKnowledge(ctx context.Context, digest string) error

	// Document registry
	CreateDocument(ctx context.Context, doc *papervault.Document) error
	GetDocument(ctx context.Context, key papervault.DocumentKey) (*papervault.Document, error)
	SoftDeleteDocuments(ctx context.Context, keys []papervault.DocumentKey) error
	RestoreDocuments(ctx context.Context, keys []papervault.DocumentKey) error
	ListActive(ctx context.Context, project string) ([]*papervault.Document, error)
	ListTrashed(ctx context.Context, project string) ([]*papervault.Document, error)
	HardDeleteDocument(ctx context.Context, key papervault.DocumentKey) error

	// Collector queries
	GetExpiredDocuments(ctx context.Context, before time.Time, limit int) ([]papervault.DocumentKey, error)
	CountActiveByDigest(ctx context.Context, digest string, exclude ...papervault.DocumentKey) (int, error)

	// Annotations
	PutAnnotation(ctx context.Context, a *papervault.Annotation) error
	ListAnnotations(ctx context.Context, project, docID string) ([]*papervault.Annotation, error)
}

// New creates a new MetaDB backed by bbolt.
func New(opts ...BoltDBOption) MetaDB {
	return NewBoltDB(opts...)
}
