// Package encoder implements file format encoders for the windowed sink.
package encoder

import (
	"bytes"
	"compress/gzip"
	"fmt"

	"github.com/jittakal/kafwindowsink/pkg/encoder"
	"github.com/jittakal/kafwindowsink/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*TextEncoder)(nil)

// TextEncoder implements encoder.Encoder for newline-delimited UTF-8 text.
// Each record payload becomes one newline-terminated line; records with a
// key are written as key\tpayload. There is no schema.
type TextEncoder struct {
	compression string
}

// NewTextEncoder creates a new text encoder with optional gzip compression.
func NewTextEncoder(compression string) *TextEncoder {
	return &TextEncoder{compression: compression}
}

// Encode serializes records as delimited text.
func (e *TextEncoder) Encode(records []record.Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range records {
		if len(r.Key) > 0 {
			buf.Write(r.Key)
			buf.WriteByte('\t')
		}
		buf.Write(r.Payload)
		buf.WriteByte('\n')
	}

	if !e.gzipEnabled() {
		return buf.Bytes(), nil
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to compress text block: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return compressed.Bytes(), nil
}

func (e *TextEncoder) gzipEnabled() bool {
	return e.compression == "gzip" || e.compression == "GZIP"
}

// Format returns the file format.
func (e *TextEncoder) Format() record.FileFormat {
	return record.FormatText
}

// ContentType returns the MIME content type.
func (e *TextEncoder) ContentType() string {
	if e.gzipEnabled() {
		return "application/gzip"
	}
	return "text/plain; charset=utf-8"
}

// FileExtension returns the file extension.
func (e *TextEncoder) FileExtension() string {
	if e.gzipEnabled() {
		return ".txt.gz"
	}
	return ".txt"
}
