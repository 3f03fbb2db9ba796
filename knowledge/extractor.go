package knowledge

import (
	"context"
	"io"

	papervault "github.com/wolfeidau/paper-vault"
)

// Extractor produces structured metadata from document content. It is
// an external collaborator (typically a network call to an AI service)
// and is treated as best effort: extraction failure never fails the
// upload that requested it.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader) (*papervault.Knowledge, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, r io.Reader) (*papervault.Knowledge, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, r io.Reader) (*papervault.Knowledge, error) {
	return f(ctx, r)
}
