package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	apperrors "github.com/jittakal/kafwindowsink/internal/errors"
	"github.com/jittakal/kafwindowsink/pkg/blob"
)

// Ensure implementation satisfies interface at compile time.
var _ blob.Store = (*GCSStore)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// GCSStore implements blob.Store for Google Cloud Storage. GCS object
// writes are atomic: an object becomes visible only when the writer is
// closed successfully, which satisfies the finalize contract without a
// separate rename step.
type GCSStore struct {
	client  *storage.Client
	bucket  string
	logger  *slog.Logger
	metrics MetricsCollector
}

// NewGCSStore creates a Google Cloud Storage blob store.
func NewGCSStore(ctx context.Context, cfg GCSConfig, logger *slog.Logger, metrics MetricsCollector) (*GCSStore, error) {
	var clientOpts []option.ClientOption
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	if cfg.UseDefaultCredential {
		logger.Info("using default GCP credentials")
	} else if cfg.CredentialsJSON != "" {
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		logger.Info("using GCP credentials from JSON string")
	} else if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info("using GCP credentials from file", "file", cfg.CredentialsFile)
	} else {
		logger.Info("no explicit credentials provided, using default GCP credentials")
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS blob store created",
		"bucket", cfg.Bucket,
		"project_id", cfg.ProjectID,
	)

	return &GCSStore{
		client:  client,
		bucket:  cfg.Bucket,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Put writes data to the object at path, replacing any existing object.
func (s *GCSStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	obj := s.client.Bucket(s.bucket).Object(path)

	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		s.incError("upload")
		return s.classify(fmt.Errorf("failed to write to GCS: %w", err))
	}

	// Close finalizes the object; nothing is visible before this succeeds.
	if err := w.Close(); err != nil {
		s.incError("close")
		return s.classify(fmt.Errorf("failed to finalize GCS object: %w", err))
	}

	return nil
}

// Exists reports whether an object exists at path.
func (s *GCSStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(path).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, s.classify(err)
}

// Close closes the GCS store.
func (s *GCSStore) Close() error {
	s.logger.Info("closing GCS blob store")
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *GCSStore) incError(op string) {
	if s.metrics != nil {
		s.metrics.IncStorageErrors("gcs", op)
	}
}

// classify surfaces authorization failures as fatal rather than retryable.
func (s *GCSStore) classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
			return fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
		}
	}
	return err
}
