package metadb

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// knowledgeCodec encodes knowledge entries as zstd-compressed JSON.
// Abstract text dominates entry size, so compression keeps the
// database small without a schema dependency. A single encoder and
// decoder pair is shared; both are safe for concurrent use via
// EncodeAll/DecodeAll.
type knowledgeCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newKnowledgeCodec() (*knowledgeCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &knowledgeCodec{enc: enc, dec: dec}, nil
}

func (c *knowledgeCodec) encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(raw, nil), nil
}

func (c *knowledgeCodec) decode(data []byte, v any) error {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompressing entry: %w", err)
	}
	return json.Unmarshal(raw, v)
}

// Close releases codec resources.
func (c *knowledgeCodec) Close() {
	c.enc.Close()
	c.dec.Close()
}
