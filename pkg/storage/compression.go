package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Compressor encodes float64 columns with XOR + zstd
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new compressor. Levels 1-4 map onto the zstd
// speed presets; anything else uses the default.
func NewCompressor(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// EncodeColumn XORs each value's bits with its predecessor and compresses the
// little-endian words
func (c *Compressor) EncodeColumn(values []float64) []byte {
	if len(values) == 0 {
		return nil
	}

	raw := make([]byte, 0, 8*len(values))
	var prev uint64
	for _, v := range values {
		bits := math.Float64bits(v)
		raw = binary.LittleEndian.AppendUint64(raw, bits^prev)
		prev = bits
	}

	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

// DecodeColumn reverses EncodeColumn
func (c *Compressor) DecodeColumn(data []byte, count int) ([]float64, error) {
	if count == 0 {
		return []float64{}, nil
	}

	raw, err := c.decoder.DecodeAll(data, make([]byte, 0, 8*count))
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	if len(raw) != 8*count {
		return nil, fmt.Errorf("column holds %d bytes, want %d", len(raw), 8*count)
	}

	values := make([]float64, count)
	var prev uint64
	for i := range values {
		bits := binary.LittleEndian.Uint64(raw[8*i:]) ^ prev
		values[i] = math.Float64frombits(bits)
		prev = bits
	}
	return values, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
