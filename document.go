package papervault

import (
	"fmt"
	"time"
)

// RetentionPeriod is how long a trashed document is kept before it
// becomes eligible for permanent removal. This is a caller-visible
// contract: restore is possible at any point before the period
// elapses and never afterwards.
const RetentionPeriod = 10 * 24 * time.Hour

// Lifecycle is the trash state of a document. A document is either
// active or trashed; the trashed state carries its own timestamps so
// the deleted-at / trash-until pairing cannot drift apart.
type Lifecycle struct {
	// DeletedAt is the time the document was moved to the trash.
	// Zero for active documents.
	DeletedAt time.Time `json:"deleted_at,omitzero"`
	// TrashUntil is always DeletedAt + RetentionPeriod.
	// Zero for active documents.
	TrashUntil time.Time `json:"trash_until,omitzero"`
}

// Active reports whether the document has not been soft-deleted.
func (l Lifecycle) Active() bool {
	return l.DeletedAt.IsZero()
}

// Trashed reports whether the document is in the trash.
func (l Lifecycle) Trashed() bool {
	return !l.DeletedAt.IsZero()
}

// Expired reports whether the retention window has elapsed at the
// given time. Expired documents are removed by the next collector run.
func (l Lifecycle) Expired(now time.Time) bool {
	return l.Trashed() && !now.Before(l.TrashUntil)
}

// Trash returns the lifecycle for a document deleted at the given time.
func Trash(deletedAt time.Time) Lifecycle {
	return Lifecycle{
		DeletedAt:  deletedAt,
		TrashUntil: deletedAt.Add(RetentionPeriod),
	}
}

// Document is a per-project record referencing an uploaded file by
// content digest. Many documents, across projects and devices, may
// reference the same digest.
type Document struct {
	ID        string            `json:"id"`
	Project   string            `json:"project"`
	Digest    Digest            `json:"digest"`
	Title     string            `json:"title"`
	MediaType string            `json:"media_type,omitempty"`
	Size      int64             `json:"size"`
	Fields    map[string]string `json:"fields,omitempty"`
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Lifecycle
}

// Key returns the document's registry key.
func (d *Document) Key() DocumentKey {
	return DocumentKey{Project: d.Project, ID: d.ID}
}

// Validate checks the fields required before a document can be stored.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if d.Project == "" {
		return fmt.Errorf("document project is required")
	}
	if d.Digest.IsZero() {
		return fmt.Errorf("document digest is required")
	}
	return nil
}

// DocumentKey identifies a document within the registry. Document IDs
// are caller-generated and unique only within a project.
type DocumentKey struct {
	Project string `json:"project"`
	ID      string `json:"id"`
}

// String returns "project/id" for log output.
func (k DocumentKey) String() string {
	return k.Project + "/" + k.ID
}

// AnnotationKind distinguishes the two annotation record types.
type AnnotationKind string

const (
	AnnotationNote      AnnotationKind = "note"
	AnnotationHighlight AnnotationKind = "highlight"
)

// Annotation is a note or highlight owned by a single document. It is
// removed unconditionally whenever its owning document is hard-deleted;
// there is no sharing and no safety check.
type Annotation struct {
	ID         string         `json:"id"`
	Project    string         `json:"project"`
	DocumentID string         `json:"document_id"`
	Kind       AnnotationKind `json:"kind"`
	Page       int            `json:"page,omitempty"`
	Body       string         `json:"body"`
	CreatedAt  time.Time      `json:"created_at"`
}
