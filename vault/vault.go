// Package vault is the public surface of the document store. It
// coordinates the blob store, knowledge cache, document registry and
// collector so that uploads deduplicate, deletes are recoverable for
// the retention window and storage is reclaimed safely.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	papervault "github.com/wolfeidau/paper-vault"
	"github.com/wolfeidau/paper-vault/backend"
	"github.com/wolfeidau/paper-vault/gc"
	"github.com/wolfeidau/paper-vault/knowledge"
	"github.com/wolfeidau/paper-vault/store"
	"github.com/wolfeidau/paper-vault/store/metadb"
	"github.com/wolfeidau/paper-vault/telemetry"
)

// Limits are the named storage ceilings enforced on uploads of new
// content. Uploads deduplicated against an existing blob bypass both:
// reusing a blob that is already stored and counted costs nothing.
type Limits struct {
	// MaxFileBytes is the per-file size ceiling. Zero disables it.
	MaxFileBytes int64
	// MaxTotalBytes is the aggregate quota across all blobs.
	// Zero disables it.
	MaxTotalBytes int64
}

// Upload describes a file being added to a project.
type Upload struct {
	// ID is the caller-generated document id, unique within the
	// project. A fresh id is generated when empty.
	ID string
	// Title is the display title. Falls back to the extracted title.
	Title     string
	MediaType string
	Content   io.Reader
}

// View selects which partition of a project's documents to list.
type View string

const (
	ViewActive  View = "active"
	ViewTrashed View = "trashed"
)

// Vault exposes the document store operations to collaborators.
type Vault struct {
	db        metadb.MetaDB
	blobs     store.Store
	cache     *knowledge.Cache
	extractor knowledge.Extractor
	collector *gc.Collector
	limits    Limits
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the logger for the vault.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		v.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(v *Vault) {
		v.now = now
	}
}

// WithExtractor sets the metadata extractor. Without one, documents
// are created without enrichment.
func WithExtractor(e knowledge.Extractor) Option {
	return func(v *Vault) {
		v.extractor = e
	}
}

// WithCollector sets the garbage collector invoked at opportunistic
// checkpoints. Without one, no collection runs.
func WithCollector(c *gc.Collector) Option {
	return func(v *Vault) {
		v.collector = c
	}
}

// New creates a vault over the given storage components.
func New(db metadb.MetaDB, blobs store.Store, cache *knowledge.Cache, limits Limits, opts ...Option) *Vault {
	v := &Vault{
		db:     db,
		blobs:  blobs,
		cache:  cache,
		limits: limits,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// AddDocument uploads a file into a project. The sequence is fixed:
// collect garbage (free space before checking quota), hash, dedup
// check, limits, durable store, knowledge, and only then the document
// record. Nothing before the final step creates a document, so an
// abandoned or failed upload never leaves a partial record; a blob or
// knowledge entry written by a failed attempt stays valid for retries.
func (v *Vault) AddDocument(ctx context.Context, project string, upload Upload) (*papervault.Document, error) {
	if project == "" {
		return nil, fmt.Errorf("project is required")
	}
	if upload.Content == nil {
		return nil, fmt.Errorf("upload content is required")
	}

	v.Collect(ctx)

	// Spool the upload so the content can be re-read for the durable
	// write and the extraction call.
	tmpFile, err := os.CreateTemp("", "vault-add-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmpFile.Name()) }()
	defer func() { _ = tmpFile.Close() }()

	hr := papervault.NewHashingReader(upload.Content)
	if _, err := io.Copy(tmpFile, hr); err != nil {
		return nil, fmt.Errorf("hashing content: %w", err)
	}
	digest := hr.Sum()
	size := hr.BytesRead()

	exists, err := v.blobs.Exists(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("checking blob existence: %w", err)
	}

	if !exists {
		// Size and quota apply only to genuinely new content.
		if err := v.checkLimits(ctx, size); err != nil {
			return nil, err
		}

		if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seeking temp file: %w", err)
		}
		if _, err := v.blobs.Put(ctx, digest, tmpFile, upload.MediaType); err != nil {
			return nil, fmt.Errorf("storing blob: %w", err)
		}
	} else if entry, err := v.db.GetBlob(ctx, digest.String()); err == nil {
		size = entry.Size
	}

	know := v.enrich(ctx, digest, tmpFile)

	doc := &papervault.Document{
		ID:        upload.ID,
		Project:   project,
		Digest:    digest,
		Title:     upload.Title,
		MediaType: upload.MediaType,
		Size:      size,
		Version:   1,
		CreatedAt: v.now(),
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if know != nil {
		doc.Fields = know.Fields()
		if doc.Title == "" {
			doc.Title = know.Title
		}
	}

	if err := v.db.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}

	telemetry.RecordUpload(ctx, exists, size)

	v.logger.Info("document added",
		"doc", doc.Key(),
		"digest", digest.ShortString(),
		"size", size,
		"dedup", exists,
	)
	return doc, nil
}

// checkLimits enforces the per-file and aggregate ceilings before any
// write happens.
func (v *Vault) checkLimits(ctx context.Context, size int64) error {
	if v.limits.MaxFileBytes > 0 && size > v.limits.MaxFileBytes {
		telemetry.RecordQuotaReject(ctx, "file_too_large")
		return fmt.Errorf("%w: %d bytes (limit %d)", papervault.ErrFileTooLarge, size, v.limits.MaxFileBytes)
	}

	if v.limits.MaxTotalBytes > 0 {
		total, err := v.blobs.TotalSize(ctx)
		if err != nil {
			return fmt.Errorf("checking total size: %w", err)
		}
		if total+size > v.limits.MaxTotalBytes {
			telemetry.RecordQuotaReject(ctx, "quota_exceeded")
			return fmt.Errorf("%w: %d + %d bytes exceeds quota %d", papervault.ErrQuotaExceeded, total, size, v.limits.MaxTotalBytes)
		}
	}

	return nil
}

// enrich returns cached knowledge for the digest, extracting and
// caching it when absent. Extraction is best effort: any failure
// leaves the document without enrichment, never fails the upload.
func (v *Vault) enrich(ctx context.Context, digest papervault.Digest, content io.ReadSeeker) *papervault.Knowledge {
	know, err := v.cache.Get(ctx, digest)
	if err == nil {
		telemetry.RecordExtraction(ctx, "cache_hit")
		return know
	}
	if !errors.Is(err, knowledge.ErrNotFound) {
		v.logger.Warn("knowledge cache read failed", "digest", digest.ShortString(), "error", err)
		return nil
	}

	if v.extractor == nil {
		return nil
	}

	if _, err := content.Seek(0, io.SeekStart); err != nil {
		v.logger.Warn("seeking content for extraction", "error", err)
		return nil
	}

	know, err = v.extractor.Extract(ctx, content)
	if err != nil {
		telemetry.RecordExtraction(ctx, "error")
		v.logger.Warn("metadata extraction failed",
			"digest", digest.ShortString(), "error", err)
		return nil
	}
	telemetry.RecordExtraction(ctx, "ok")

	if err := v.cache.Put(ctx, digest, know); err != nil {
		v.logger.Warn("caching knowledge failed", "digest", digest.ShortString(), "error", err)
	}
	return know
}

// DeleteDocuments moves documents to the trash. They remain listable
// under the trashed view and restorable for RetentionPeriod, after
// which the collector removes them permanently.
func (v *Vault) DeleteDocuments(ctx context.Context, project string, ids []string) error {
	return v.db.SoftDeleteDocuments(ctx, keysFor(project, ids))
}

// RestoreDocuments returns trashed documents to the active state.
func (v *Vault) RestoreDocuments(ctx context.Context, project string, ids []string) error {
	return v.db.RestoreDocuments(ctx, keysFor(project, ids))
}

// ListDocuments lists a project's documents in the given view.
func (v *Vault) ListDocuments(ctx context.Context, project string, view View) ([]*papervault.Document, error) {
	switch view {
	case ViewActive, "":
		return v.db.ListActive(ctx, project)
	case ViewTrashed:
		return v.db.ListTrashed(ctx, project)
	default:
		return nil, fmt.Errorf("unknown view %q", view)
	}
}

// GetDocument returns a document record without touching its content.
func (v *Vault) GetDocument(ctx context.Context, project, id string) (*papervault.Document, error) {
	doc, err := v.db.GetDocument(ctx, papervault.DocumentKey{Project: project, ID: id})
	if err != nil {
		if errors.Is(err, metadb.ErrNotFound) {
			return nil, papervault.ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

// OpenDocument returns the document record and a reader over its
// content. The caller must close the reader.
func (v *Vault) OpenDocument(ctx context.Context, project, id string) (*papervault.Document, io.ReadCloser, error) {
	doc, err := v.GetDocument(ctx, project, id)
	if err != nil {
		return nil, nil, err
	}

	rc, err := v.blobs.Get(ctx, doc.Digest)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			// The durable copy is gone (see the collector's
			// check-then-act race note): report it so the caller can
			// prompt a re-upload rather than failing silently.
			return doc, nil, fmt.Errorf("blob %s missing, document needs re-upload: %w", doc.Digest.ShortString(), err)
		}
		return nil, nil, fmt.Errorf("reading blob: %w", err)
	}
	return doc, rc, nil
}

// Annotate attaches a note or highlight to a document.
func (v *Vault) Annotate(ctx context.Context, a *papervault.Annotation) (*papervault.Annotation, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = v.now()
	}
	if a.Kind == "" {
		a.Kind = papervault.AnnotationNote
	}
	if err := v.db.PutAnnotation(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Annotations lists the annotations owned by a document.
func (v *Vault) Annotations(ctx context.Context, project, docID string) ([]*papervault.Annotation, error) {
	return v.db.ListAnnotations(ctx, project, docID)
}

// Collect runs one opportunistic collector sweep. Callers invoke it at
// checkpoints such as registry load; AddDocument calls it before the
// quota check. Returns nil when no collector is configured.
func (v *Vault) Collect(ctx context.Context) *gc.Result {
	if v.collector == nil {
		return nil
	}
	return v.collector.Sweep(ctx)
}

func keysFor(project string, ids []string) []papervault.DocumentKey {
	keys := make([]papervault.DocumentKey, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, papervault.DocumentKey{Project: project, ID: id})
	}
	return keys
}
