// Package gc provides trash garbage collection for the vault. The
// collector is not run on a timer: callers trigger a sweep at natural
// checkpoints, such as registry load or just before an upload, so
// space is reclaimed opportunistically without a background worker.
package gc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	papervault "github.com/wolfeidau/paper-vault"
	"github.com/wolfeidau/paper-vault/backend"
	"github.com/wolfeidau/paper-vault/knowledge"
	"github.com/wolfeidau/paper-vault/refsafe"
	"github.com/wolfeidau/paper-vault/store"
	"github.com/wolfeidau/paper-vault/store/metadb"
)

// Config configures the collector.
type Config struct {
	BatchSize         int           // Max expired documents to process per sweep (default: 500)
	OrphanScan        bool          // Scan the durable store for orphaned blobs
	OrphanGracePeriod time.Duration // Min age before an unrecorded durable blob is treated as orphaned (default: 24h)
}

// DefaultConfig returns the default collector configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:         500,
		OrphanScan:        false,
		OrphanGracePeriod: 24 * time.Hour,
	}
}

// Result contains the results of a single sweep.
type Result struct {
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	DocumentsRemoved int           `json:"documents_removed"`
	BlobsDeleted     int           `json:"blobs_deleted"`
	BlobsRetained    int           `json:"blobs_retained"`
	KnowledgeDeleted int           `json:"knowledge_deleted"`
	BytesReclaimed   int64         `json:"bytes_reclaimed"`
	Errors           []string      `json:"errors,omitempty"`
}

// Collector hard-deletes expired documents and, where reference-safe,
// their blobs and cached knowledge.
type Collector struct {
	db      metadb.MetaDB
	blobs   store.Store
	cache   *knowledge.Cache
	checker *refsafe.Checker
	durable backend.Backend
	config  Config
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	lastRun *Result
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithLogger sets the logger for the collector.
func WithLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		c.now = now
	}
}

// WithMetrics enables sweep metrics recording.
func WithMetrics(m *Metrics) CollectorOption {
	return func(c *Collector) {
		c.metrics = m
	}
}

// WithDurableBackend gives the collector direct access to the durable
// store for the orphan scan phase.
func WithDurableBackend(b backend.Backend) CollectorOption {
	return func(c *Collector) {
		c.durable = b
	}
}

// New creates a collector.
func New(db metadb.MetaDB, blobs store.Store, cache *knowledge.Cache, checker *refsafe.Checker, config Config, opts ...CollectorOption) *Collector {
	c := &Collector{
		db:      db,
		blobs:   blobs,
		cache:   cache,
		checker: checker,
		config:  config,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the last sweep result, or nil if no sweep has run.
func (c *Collector) Status() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}

// Sweep runs one collection pass. It never returns an error: failures
// on individual documents are recorded in the result and retried on
// the next opportunistic sweep, so collection can never interrupt the
// user flow that triggered it.
func (c *Collector) Sweep(ctx context.Context) *Result {
	result := &Result{StartedAt: c.now()}

	c.phaseExpireDocuments(ctx, result)
	if c.config.OrphanScan {
		c.phaseDeleteOrphans(ctx, result)
	}

	result.Duration = time.Since(result.StartedAt)

	c.mu.Lock()
	c.lastRun = result
	c.mu.Unlock()

	c.recordMetrics(ctx, result)

	if result.DocumentsRemoved > 0 || len(result.Errors) > 0 {
		c.logger.Info("sweep completed",
			"duration", result.Duration,
			"documents_removed", result.DocumentsRemoved,
			"blobs_deleted", result.BlobsDeleted,
			"blobs_retained", result.BlobsRetained,
			"bytes_reclaimed", result.BytesReclaimed,
			"errors", len(result.Errors),
		)
	}

	return result
}

// phaseExpireDocuments removes documents whose retention window has
// elapsed, deleting their blob and knowledge entry first when no other
// active document references the digest.
func (c *Collector) phaseExpireDocuments(ctx context.Context, result *Result) {
	expired, err := c.db.GetExpiredDocuments(ctx, c.now(), c.config.BatchSize)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("get expired documents: %v", err))
		c.logger.Error("failed to get expired documents", "error", err)
		return
	}

	for _, key := range expired {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.removeDocument(ctx, key, result); err != nil {
			// Keep sweeping; this document is retried next run.
			result.Errors = append(result.Errors, fmt.Sprintf("remove %s: %v", key, err))
			c.logger.Error("failed to remove expired document", "doc", key, "error", err)
			continue
		}
		result.DocumentsRemoved++
	}
}

// removeDocument reclaims one expired document. The safety check
// excludes the document itself, since it is being removed in this
// pass. The document row goes last: if a blob delete fails, the
// expiry index entry survives and the next sweep retries.
func (c *Collector) removeDocument(ctx context.Context, key papervault.DocumentKey, result *Result) error {
	doc, err := c.db.GetDocument(ctx, key)
	if err != nil {
		if errors.Is(err, metadb.ErrNotFound) {
			// Already gone; drop the stale index entry via hard delete.
			return c.db.HardDeleteDocument(ctx, key)
		}
		return fmt.Errorf("get document: %w", err)
	}

	if !doc.Expired(c.now()) {
		// Restored or re-trashed between index read and now.
		return nil
	}

	if !doc.Digest.IsZero() {
		if !c.checker.SafeToDelete(ctx, doc.Digest, key) {
			result.BlobsRetained++
			c.logger.Debug("blob still referenced, retained", "digest", doc.Digest.ShortString())
		} else if entry, err := c.db.GetBlob(ctx, doc.Digest.String()); err == nil {
			if err := c.blobs.Delete(ctx, doc.Digest); err != nil {
				return fmt.Errorf("delete blob: %w", err)
			}
			result.BlobsDeleted++
			result.BytesReclaimed += entry.Size

			if err := c.cache.Delete(ctx, doc.Digest); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("delete knowledge %s: %v", doc.Digest.ShortString(), err))
			} else {
				result.KnowledgeDeleted++
			}

			c.logger.Debug("reclaimed blob", "digest", doc.Digest.ShortString(), "size", entry.Size)
		} else if !errors.Is(err, metadb.ErrNotFound) {
			return fmt.Errorf("get blob record: %w", err)
		}
		// A missing record means an earlier document in this sweep
		// shared the digest and already reclaimed the blob.
	}

	// Removes the document row, its annotations and index entries.
	if err := c.db.HardDeleteDocument(ctx, key); err != nil {
		return fmt.Errorf("hard delete: %w", err)
	}

	return nil
}

// phaseDeleteOrphans scans the durable store for blobs with no
// metadata record, the leftovers of uploads that failed between the
// durable write and the record write and were never retried. Only
// blobs older than the grace period are removed, so in-flight uploads
// are never touched.
func (c *Collector) phaseDeleteOrphans(ctx context.Context, result *Result) {
	if c.durable == nil {
		return
	}

	keys, err := c.durable.List(ctx, papervault.BlobKeyPrefix)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list durable blobs: %v", err))
		return
	}

	mt, hasModTime := c.durable.(backend.ModTimeAwareBackend)

	for _, key := range keys {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d, err := papervault.ParseBlobStorageKey(key)
		if err != nil {
			continue
		}

		if _, err := c.db.GetBlob(ctx, d.String()); err == nil {
			continue
		} else if !errors.Is(err, metadb.ErrNotFound) {
			result.Errors = append(result.Errors, fmt.Sprintf("check blob %s: %v", d.ShortString(), err))
			continue
		}

		// Without a modification time the blob age is unknown; leave
		// it for a retried upload to reclaim instead.
		if !hasModTime {
			continue
		}
		modTime, err := mt.ModTime(ctx, key)
		if err != nil || c.now().Sub(modTime) < c.config.OrphanGracePeriod {
			continue
		}

		if !c.checker.SafeToDelete(ctx, d) {
			continue
		}

		if err := c.durable.Delete(ctx, key); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete orphan %s: %v", d.ShortString(), err))
			continue
		}
		result.BlobsDeleted++
		c.logger.Debug("deleted orphaned durable blob", "digest", d.ShortString())
	}
}

func (c *Collector) recordMetrics(ctx context.Context, result *Result) {
	if c.metrics == nil {
		return
	}

	c.metrics.sweepsTotal.Add(ctx, 1)
	c.metrics.sweepDuration.Record(ctx, result.Duration.Seconds())
	c.metrics.documentsRemoved.Add(ctx, int64(result.DocumentsRemoved))
	c.metrics.blobsDeleted.Add(ctx, int64(result.BlobsDeleted))
	c.metrics.blobsRetained.Add(ctx, int64(result.BlobsRetained))
	c.metrics.bytesReclaimed.Add(ctx, result.BytesReclaimed)
	c.metrics.errorsTotal.Add(ctx, int64(len(result.Errors)))
}
