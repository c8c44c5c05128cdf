// Package encoder defines the interface for serializing a shard of records
// into a byte block in a specific file format.
package encoder

import "github.com/jittakal/kafwindowsink/pkg/record"

// Encoder serializes an ordered slice of records into a single byte block.
//
// Implementations must be deterministic for a fixed input and must not
// produce partial output on failure: an error means the whole shard is
// rejected. An empty input is valid and yields a well-formed empty block
// (headers and footers only).
type Encoder interface {
	// Encode serializes records into one byte block.
	Encode(records []record.Record) ([]byte, error)

	// Format returns the file format this encoder produces.
	Format() record.FileFormat

	// ContentType returns the MIME content type of the encoded block.
	ContentType() string

	// FileExtension returns the file extension including the leading dot.
	FileExtension() string
}
