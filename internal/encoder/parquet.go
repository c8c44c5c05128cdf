package encoder

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	apperrors "github.com/jittakal/kafwindowsink/internal/errors"
	"github.com/jittakal/kafwindowsink/pkg/encoder"
	"github.com/jittakal/kafwindowsink/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*ParquetEncoder)(nil)

// SinkRecordParquet is the Parquet schema for shard output. All records of a
// shard share this one schema; the writer buffers rows, transposes them into
// column chunks grouped into row groups, and finishes with the footer index.
type SinkRecordParquet struct {
	Key            []byte    `parquet:"key,optional"`
	Payload        []byte    `parquet:"payload"`
	EventTime      time.Time `parquet:"event_time,timestamp(microsecond)"`
	ArrivalTime    time.Time `parquet:"arrival_time,timestamp(microsecond)"`
	KafkaTopic     string    `parquet:"kafka_topic,dict"`
	KafkaPartition int32     `parquet:"kafka_partition"`
	KafkaOffset    int64     `parquet:"kafka_offset"`
}

// ParquetEncoder implements encoder.Encoder for the Parquet columnar format.
// Supports multiple compression codecs: SNAPPY (default), GZIP, LZ4, ZSTD.
type ParquetEncoder struct {
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder with specified compression.
func NewParquetEncoder(compression string) *ParquetEncoder {
	return &ParquetEncoder{compressionName: compression}
}

// compressionCodec converts a compression name to a parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "snappy", "SNAPPY":
		return parquet.Compression(&parquet.Snappy)
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "UNCOMPRESSED", "none", "NONE":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Encode serializes records into one Parquet byte block. A failure rejects
// the whole shard; no partial block is ever returned. An empty input yields
// a valid file holding only schema metadata and the footer.
func (e *ParquetEncoder) Encode(records []record.Record) ([]byte, error) {
	rows := make([]SinkRecordParquet, len(records))
	for i, r := range records {
		rows[i] = SinkRecordParquet{
			Key:            r.Key,
			Payload:        r.Payload,
			EventTime:      r.EventTime,
			ArrivalTime:    r.ArrivalTime,
			KafkaTopic:     r.Kafka.Topic,
			KafkaPartition: r.Kafka.Partition,
			KafkaOffset:    r.Kafka.Offset,
		}
	}

	schema := parquet.SchemaOf(new(SinkRecordParquet))

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[SinkRecordParquet](
		&buf,
		schema,
		compressionCodec(e.compressionName),
		parquet.CreatedBy("kafwindowsink", "1.0", "0"),
	)

	if len(rows) > 0 {
		// The sink writes to memory, so a write failure here means the
		// rows do not fit the column schema, not an I/O problem.
		if _, err := writer.Write(rows); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrSchemaMismatch, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet block: %w", err)
	}

	return buf.Bytes(), nil
}

// Format returns the file format.
func (e *ParquetEncoder) Format() record.FileFormat {
	return record.FormatParquet
}

// ContentType returns the MIME content type.
func (e *ParquetEncoder) ContentType() string {
	return "application/vnd.apache.parquet"
}

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string {
	return ".parquet"
}
