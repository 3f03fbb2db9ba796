package papervault

import (
	"strconv"
	"strings"
	"time"
)

// Knowledge is the structured metadata extracted from a document's
// content. Because content is immutable and keyed by digest, a
// knowledge entry is computed at most once per digest and never
// regenerated while a valid entry exists.
type Knowledge struct {
	Title       string    `json:"title,omitempty"`
	Authors     []string  `json:"authors,omitempty"`
	Abstract    string    `json:"abstract,omitempty"`
	Year        int       `json:"year,omitempty"`
	DOI         string    `json:"doi,omitempty"`
	ArxivID     string    `json:"arxiv_id,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Fields flattens the knowledge entry into the free-form metadata
// fields carried on a document record.
func (k *Knowledge) Fields() map[string]string {
	fields := make(map[string]string)
	if k.Title != "" {
		fields["title"] = k.Title
	}
	if len(k.Authors) > 0 {
		fields["authors"] = strings.Join(k.Authors, ", ")
	}
	if k.Abstract != "" {
		fields["abstract"] = k.Abstract
	}
	if k.DOI != "" {
		fields["doi"] = k.DOI
	}
	if k.ArxivID != "" {
		fields["arxiv_id"] = k.ArxivID
	}
	if k.Year != 0 {
		fields["year"] = strconv.Itoa(k.Year)
	}
	if len(k.Keywords) > 0 {
		fields["keywords"] = strings.Join(k.Keywords, ", ")
	}
	return fields
}
