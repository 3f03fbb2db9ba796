package papervault

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKnowledgeFields(t *testing.T) {
	k := &Knowledge{
		Title:    "Attention Is All You Need",
		Authors:  []string{"Vaswani", "Shazeer"},
		Abstract: "The dominant sequence transduction models...",
		Year:     2017,
		DOI:      "10.48550/arXiv.1706.03762",
		ArxivID:  "1706.03762",
		Keywords: []string{"transformers", "attention"},
	}

	fields := k.Fields()
	assert.Equal(t, "Attention Is All You Need", fields["title"])
	assert.Equal(t, "Vaswani, Shazeer", fields["authors"])
	assert.Equal(t, "10.48550/arXiv.1706.03762", fields["doi"])
	assert.Equal(t, "1706.03762", fields["arxiv_id"])
	assert.Equal(t, "2017", fields["year"])
	assert.Equal(t, "transformers, attention", fields["keywords"])
}

func TestKnowledgeFieldsEmpty(t *testing.T) {
	k := &Knowledge{}
	assert.Empty(t, k.Fields())
}
