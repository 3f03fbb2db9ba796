package papervault

import "errors"

// Errors surfaced to callers of the vault. Quota and size violations
// are user-actionable and must stay distinguishable; everything else
// is wrapped with context at the point of failure.
var (
	// ErrFileTooLarge is returned when an upload exceeds the per-file
	// size ceiling. Nothing has been written when this is returned.
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrQuotaExceeded is returned when storing a new blob would push
	// total storage past the aggregate quota. Uploads deduplicated
	// against an existing blob never count against quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrDuplicateDocument is returned when creating a document whose
	// id already exists in the project.
	ErrDuplicateDocument = errors.New("document id already exists in project")

	// ErrDocumentNotFound is returned when a document id does not
	// exist in the project.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNotTrashed is returned when restoring a document that is not
	// in the trash.
	ErrNotTrashed = errors.New("document is not in the trash")

	// ErrDigestMismatch is returned when uploaded bytes do not hash to
	// the digest the caller claimed.
	ErrDigestMismatch = errors.New("content does not match digest")
)
