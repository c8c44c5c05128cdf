package encoder

import (
	"bytes"
	"fmt"

	"github.com/linkedin/goavro/v2"

	apperrors "github.com/jittakal/kafwindowsink/internal/errors"
	"github.com/jittakal/kafwindowsink/pkg/encoder"
	"github.com/jittakal/kafwindowsink/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

// AvroEncoder implements encoder.Encoder for Avro OCF (Object Container
// File), a self-describing row-binary format: the schema travels in the
// container header, followed by length-prefixed record blocks.
//
// The schema is supplied externally through configuration, never derived
// from data. It must describe the field set produced by this encoder; a
// record that does not fit the schema rejects the whole shard with
// ErrSchemaMismatch.
type AvroEncoder struct {
	codec       *goavro.Codec
	schema      string
	compression string
}

// DefaultAvroSchema is the schema for the sink's record shape. Deployments
// may override it in configuration as long as the field set is compatible.
const DefaultAvroSchema = `{
	"type": "record",
	"name": "SinkRecord",
	"namespace": "com.kafka.window.sink",
	"fields": [
		{"name": "key", "type": ["null", "bytes"], "default": null},
		{"name": "payload", "type": "bytes"},
		{"name": "event_time_ms", "type": "long"},
		{"name": "arrival_time_ms", "type": "long"},
		{"name": "kafka_topic", "type": "string"},
		{"name": "kafka_partition", "type": "int"},
		{"name": "kafka_offset", "type": "long"}
	]
}`

// NewAvroEncoder creates a new Avro encoder for the given schema.
// An empty schema is a configuration error (ErrMissingSchema).
func NewAvroEncoder(schema, compression string) (*AvroEncoder, error) {
	if schema == "" {
		return nil, fmt.Errorf("avro encoder: %w", apperrors.ErrMissingSchema)
	}

	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to parse avro schema: %w", err)
	}

	return &AvroEncoder{
		codec:       codec,
		schema:      schema,
		compression: compression,
	}, nil
}

// Encode serializes records into one OCF byte block. An empty input yields
// a valid container holding only the schema header.
func (e *AvroEncoder) Encode(records []record.Record) ([]byte, error) {
	var buf bytes.Buffer

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               &buf,
		Codec:           e.codec,
		CompressionName: e.compressionName(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OCF writer: %w", err)
	}

	for i, r := range records {
		if err := ocfWriter.Append([]interface{}{e.toAvroMap(r)}); err != nil {
			return nil, fmt.Errorf("record %d: %w: %v", i, apperrors.ErrSchemaMismatch, err)
		}
	}

	return buf.Bytes(), nil
}

// toAvroMap converts a record to its Avro map representation.
func (e *AvroEncoder) toAvroMap(r record.Record) map[string]interface{} {
	avroMap := map[string]interface{}{
		"payload":         r.Payload,
		"event_time_ms":   r.EventTime.UnixMilli(),
		"arrival_time_ms": r.ArrivalTime.UnixMilli(),
		"kafka_topic":     r.Kafka.Topic,
		"kafka_partition": r.Kafka.Partition,
		"kafka_offset":    r.Kafka.Offset,
	}

	if len(r.Key) > 0 {
		avroMap["key"] = goavro.Union("bytes", r.Key)
	} else {
		avroMap["key"] = nil
	}

	return avroMap
}

func (e *AvroEncoder) compressionName() string {
	switch e.compression {
	case "deflate", "DEFLATE":
		return goavro.CompressionDeflateLabel
	case "snappy", "SNAPPY":
		return goavro.CompressionSnappyLabel
	case "", "none", "NONE", "uncompressed", "UNCOMPRESSED":
		return goavro.CompressionNullLabel
	default:
		return goavro.CompressionNullLabel
	}
}

// Format returns the file format.
func (e *AvroEncoder) Format() record.FileFormat {
	return record.FormatAvro
}

// ContentType returns the MIME content type.
func (e *AvroEncoder) ContentType() string {
	return "application/avro"
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	return ".avro"
}
