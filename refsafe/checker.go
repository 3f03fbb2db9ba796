// Package refsafe decides whether a shared blob can be deleted. A blob
// may be referenced by documents the local process has never loaded
// (another device, another project), so the checker consults both the
// local registry and a remote mirror, and fails closed when the remote
// cannot be reached.
package refsafe

import (
	"context"
	"log/slog"

	papervault "github.com/wolfeidau/paper-vault"
	"github.com/wolfeidau/paper-vault/store/metadb"
)

// RemoteRegistry reports how many active documents reference a digest
// according to the durable remote mirror.
type RemoteRegistry interface {
	CountActiveReferences(ctx context.Context, d papervault.Digest) (int, error)
}

// RemoteRegistryFunc adapts a function to the RemoteRegistry interface.
type RemoteRegistryFunc func(ctx context.Context, d papervault.Digest) (int, error)

// CountActiveReferences implements RemoteRegistry.
func (f RemoteRegistryFunc) CountActiveReferences(ctx context.Context, d papervault.Digest) (int, error) {
	return f(ctx, d)
}

// Checker determines whether a digest is still referenced by any
// active document anywhere.
type Checker struct {
	db     metadb.MetaDB
	remote RemoteRegistry
	logger *slog.Logger
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithLogger sets the logger for the checker.
func WithLogger(logger *slog.Logger) CheckerOption {
	return func(c *Checker) {
		c.logger = logger
	}
}

// WithRemoteRegistry sets the remote mirror. Without one, only the
// local registry is consulted.
func WithRemoteRegistry(remote RemoteRegistry) CheckerOption {
	return func(c *Checker) {
		c.remote = remote
	}
}

// NewChecker creates a reference-safety checker over the local
// registry.
func NewChecker(db metadb.MetaDB, opts ...CheckerOption) *Checker {
	c := &Checker{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SafeToDelete returns true only when no active document, local or
// remote, references the digest. Documents in the exclude list are
// ignored; the collector passes the documents it is removing in the
// current sweep.
//
// Any failure, local or remote, fails closed: the blob stays until a
// later sweep can verify it is unreferenced.
func (c *Checker) SafeToDelete(ctx context.Context, d papervault.Digest, exclude ...papervault.DocumentKey) bool {
	count, err := c.db.CountActiveByDigest(ctx, d.String(), exclude...)
	if err != nil {
		c.logger.Warn("local reference check failed, keeping blob",
			"digest", d.ShortString(), "error", err)
		return false
	}
	if count > 0 {
		return false
	}

	if c.remote != nil {
		remoteCount, err := c.remote.CountActiveReferences(ctx, d)
		if err != nil {
			c.logger.Warn("remote reference check failed, keeping blob",
				"digest", d.ShortString(), "error", err)
			return false
		}
		if remoteCount > 0 {
			return false
		}
	}

	return true
}
