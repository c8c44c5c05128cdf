// Package blob defines the object store abstraction the sink commits to.
//
// Implementations exist for local filesystem, Google Cloud Storage, Amazon
// S3 and Azure Blob Storage.
package blob

import "context"

// Store writes byte blocks to named blobs.
//
// Put must be atomic from a reader's point of view: a blob is either absent
// or complete under its final name, never partially written. Writing the
// same path twice replaces the blob; callers rely on this for idempotent
// re-commits after a failure.
type Store interface {
	// Put writes data to path, replacing any existing blob.
	Put(ctx context.Context, path string, data []byte, contentType string) error

	// Exists reports whether a blob exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Close releases client resources.
	Close() error
}
