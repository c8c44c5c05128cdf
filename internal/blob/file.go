// Package blob implements object store backends for the sink: local
// filesystem, Google Cloud Storage, Amazon S3 and Azure Blob Storage.
//
// Every backend satisfies the atomic Put contract: a blob is either absent
// or complete under its final name. The filesystem backend stages to a
// temporary file and renames; the cloud backends rely on their native
// single-shot finalize semantics (an object only becomes visible once the
// upload completes).
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	apperrors "github.com/jittakal/kafwindowsink/internal/errors"
	"github.com/jittakal/kafwindowsink/pkg/blob"
)

// Ensure implementation satisfies interface at compile time.
var _ blob.Store = (*FileStore)(nil)

// MetricsCollector defines metrics operations for blob stores.
type MetricsCollector interface {
	IncStorageErrors(backend string, operation string)
}

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileStore implements blob.Store on the local filesystem. Writes go to a
// temporary file in the destination directory followed by a rename, so a
// reader never observes a partial blob under the final name.
type FileStore struct {
	basePath string
	logger   *slog.Logger
	metrics  MetricsCollector
}

// NewFileStore creates a filesystem blob store rooted at the base path.
func NewFileStore(cfg FileConfig, logger *slog.Logger, metrics MetricsCollector) (*FileStore, error) {
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	logger.Info("filesystem blob store created", "base_path", cfg.BasePath)

	return &FileStore{
		basePath: cfg.BasePath,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Put writes data atomically to path, replacing any existing blob.
func (s *FileStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(path))
	dir := filepath.Dir(fullPath)

	if err := os.MkdirAll(dir, 0755); err != nil {
		s.incError("mkdir")
		return s.classify(fmt.Errorf("failed to create directory: %w", err))
	}

	// Stage in the destination directory so the rename cannot cross
	// filesystems.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		s.incError("create")
		return s.classify(fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		s.incError("write")
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		s.incError("sync")
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		s.incError("close")
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		s.incError("rename")
		return s.classify(fmt.Errorf("failed to finalize blob: %w", err))
	}

	return nil
}

// Exists reports whether a blob exists at path.
func (s *FileStore) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(filepath.Join(s.basePath, filepath.FromSlash(path)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Close closes the store.
func (s *FileStore) Close() error {
	s.logger.Info("closing filesystem blob store")
	return nil
}

func (s *FileStore) incError(op string) {
	if s.metrics != nil {
		s.metrics.IncStorageErrors("file", op)
	}
}

func (s *FileStore) classify(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	return err
}
