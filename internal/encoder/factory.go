package encoder

import (
	"fmt"

	"github.com/jittakal/kafwindowsink/pkg/encoder"
	"github.com/jittakal/kafwindowsink/pkg/record"
)

// Factory creates encoders based on format and configuration.
type Factory struct {
	format      record.FileFormat
	compression string
	avroSchema  string
}

// NewFactory creates a new encoder factory. The avro schema is only
// consulted for the avro format.
func NewFactory(format record.FileFormat, compression, avroSchema string) *Factory {
	return &Factory{
		format:      format,
		compression: compression,
		avroSchema:  avroSchema,
	}
}

// CreateEncoder creates an encoder based on the configured format.
func (f *Factory) CreateEncoder() (encoder.Encoder, error) {
	switch f.format {
	case record.FormatText:
		return NewTextEncoder(f.compression), nil
	case record.FormatAvro:
		return NewAvroEncoder(f.avroSchema, f.compression)
	case record.FormatParquet:
		return NewParquetEncoder(f.compression), nil
	default:
		return nil, fmt.Errorf("unsupported file format: %s", f.format)
	}
}

// SupportedFormats returns a list of supported file formats.
func SupportedFormats() []record.FileFormat {
	return []record.FileFormat{
		record.FormatText,
		record.FormatAvro,
		record.FormatParquet,
	}
}

// SupportedCompressions returns supported compression codecs for a format.
func SupportedCompressions(format record.FileFormat) []string {
	switch format {
	case record.FormatText:
		return []string{"none", "gzip"}
	case record.FormatAvro:
		return []string{"none", "deflate", "snappy"}
	case record.FormatParquet:
		return []string{"uncompressed", "snappy", "gzip", "lz4", "zstd"}
	default:
		return []string{}
	}
}

// DefaultCompression returns the default compression for a format.
func DefaultCompression(format record.FileFormat) string {
	switch format {
	case record.FormatParquet:
		return "snappy"
	case record.FormatAvro:
		return "deflate"
	default:
		return "none"
	}
}
