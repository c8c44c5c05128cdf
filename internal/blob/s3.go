package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	apperrors "github.com/jittakal/kafwindowsink/internal/errors"
	"github.com/jittakal/kafwindowsink/pkg/blob"
)

// Ensure implementation satisfies interface at compile time.
var _ blob.Store = (*S3Store)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// S3Store implements blob.Store for AWS S3. S3 PUTs are atomic: an object
// is never visible partially written, and re-putting the same key replaces
// it, which the sink relies on for idempotent re-commits.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	sse      bool
	kmsKeyID string
	logger   *slog.Logger
	metrics  MetricsCollector
}

// NewS3Store creates an S3 blob store.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger, metrics MetricsCollector) (*S3Store, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024 // 10MB parts
		u.Concurrency = 5
	})

	logger.Info("S3 blob store created",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"sse_enabled", cfg.SSEEnabled,
	)

	return &S3Store{
		client:   s3Client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		sse:      cfg.SSEEnabled,
		kmsKeyID: cfg.SSEKMSKeyID,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Put uploads data to the object at path, replacing any existing object.
func (s *S3Store) Put(ctx context.Context, path string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	if s.sse {
		if s.kmsKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(s.kmsKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		s.incError("upload")
		return s.classify(fmt.Errorf("failed to upload to S3: %w", err))
	}

	return nil
}

// Exists reports whether an object exists at path.
func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, s.classify(err)
}

// Close closes the S3 store.
func (s *S3Store) Close() error {
	s.logger.Info("closing S3 blob store")
	return nil
}

func (s *S3Store) incError(op string) {
	if s.metrics != nil {
		s.metrics.IncStorageErrors("s3", op)
	}
}

// classify surfaces authorization failures as fatal rather than retryable.
func (s *S3Store) classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
		}
	}
	return err
}
